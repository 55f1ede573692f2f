package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"license-reseller/config"
	"license-reseller/internal/database"
	"license-reseller/internal/license"
	"license-reseller/internal/logging"
	"license-reseller/internal/vault"
)

type tool struct {
	services *license.Services
	reader   *bufio.Reader
}

func main() {
	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.New(logging.Config{
		Level:     "WARN",
		Output:    "stderr",
		Component: "license-admin",
	})
	if closer != nil {
		defer closer.Close()
	}

	ctx := context.Background()
	services, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Store unavailable (%v), only offline key generation works\n", err)
	} else {
		defer cleanup()
	}

	t := &tool{services: services, reader: bufio.NewReader(os.Stdin)}

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Create referral token")
		fmt.Println("  2. Grant credits")
		fmt.Println("  3. List resellers")
		fmt.Println("  4. Revoke license key")
		fmt.Println("  5. Delete license key")
		fmt.Println("  6. Check a license key")
		fmt.Println("  7. Generate keys offline")
		fmt.Println("  8. Exit")
		fmt.Print("\nSelect option: ")

		input, err := t.reader.ReadString('\n')
		if err != nil {
			return
		}

		switch strings.TrimSpace(input) {
		case "1":
			t.online(t.createReferralToken)
		case "2":
			t.online(t.grantCredits)
		case "3":
			t.online(t.listResellers)
		case "4":
			t.online(t.revokeKey)
		case "5":
			t.online(t.deleteKey)
		case "6":
			t.online(t.checkKey)
		case "7":
			t.generateOffline()
		case "8":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid option")
		}
	}
}

// connect opens the configured PostgreSQL store, with Vault secrets applied
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*license.Services, func(), error) {
	if cfg.Database.Driver == "memory" {
		return nil, nil, fmt.Errorf("the memory driver is private to the server process")
	}

	vaultClient, err := vault.NewClient(cfg.Vault, logger)
	if err != nil {
		return nil, nil, err
	}
	if vaultClient.IsEnabled() {
		secrets, err := vaultClient.LoadSecrets(ctx)
		if err != nil {
			return nil, nil, err
		}
		secrets.Apply(cfg)
	}

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: 2,
		MinConns: 1,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	services := license.NewServices(license.Dependencies{
		Store:  database.NewRepository(db),
		Logger: logger,
	})
	return services, db.Close, nil
}

func (t *tool) online(fn func(ctx context.Context) error) {
	if t.services == nil {
		fmt.Println("Not connected to the database")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func (t *tool) prompt(label string) string {
	fmt.Print(label)
	input, _ := t.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (t *tool) promptInt(label string) (int64, error) {
	n, err := strconv.ParseInt(t.prompt(label), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return n, nil
}

func (t *tool) createReferralToken(ctx context.Context) error {
	token, err := t.services.Resellers.NewReferralToken(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\n========================================")
	fmt.Printf("  Referral token: %s\n", token.Token)
	fmt.Println("========================================")
	return nil
}

func (t *tool) grantCredits(ctx context.Context) error {
	id, err := t.promptInt("Reseller ID: ")
	if err != nil {
		return err
	}
	amount, err := t.promptInt("Credits to add: ")
	if err != nil {
		return err
	}

	reseller, err := t.services.Ledger.Grant(ctx, id, amount)
	if err != nil {
		return err
	}
	fmt.Printf("%s now has %d credits\n", reseller.Username, reseller.Credits)
	return nil
}

func (t *tool) listResellers(ctx context.Context) error {
	resellers, err := t.services.Resellers.List(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n========================================")
	fmt.Printf("  %-6s %-20s %10s  %s\n", "ID", "USERNAME", "CREDITS", "ACTIVE")
	for _, r := range resellers {
		fmt.Printf("  %-6d %-20s %10d  %t\n", r.ID, r.Username, r.Credits, r.Active)
	}
	fmt.Println("========================================")
	return nil
}

func (t *tool) revokeKey(ctx context.Context) error {
	id, err := t.promptInt("Key ID: ")
	if err != nil {
		return err
	}
	key, err := t.services.Revocation.Revoke(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Revoked %s\n", key.Key)
	return nil
}

func (t *tool) deleteKey(ctx context.Context) error {
	id, err := t.promptInt("Key ID: ")
	if err != nil {
		return err
	}
	if strings.ToLower(t.prompt("This also removes its devices. Continue? (y/n): ")) != "y" {
		fmt.Println("Cancelled")
		return nil
	}
	if err := t.services.Revocation.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Println("Key deleted")
	return nil
}

func (t *tool) checkKey(ctx context.Context) error {
	req := license.VerifyRequest{
		Key:      t.prompt("License key: "),
		Game:     t.prompt("Game (" + gameList() + "): "),
		DeviceID: t.prompt("Device ID: "),
	}

	verdict, err := t.services.Verification.VerifyReadOnly(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Valid:   %t\n", verdict.Valid)
	fmt.Printf("  Reason:  %s\n", verdict.Reason)
	fmt.Printf("  Message: %s\n", verdict.Message)
	if verdict.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", verdict.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	if verdict.DeviceLimit > 0 {
		fmt.Printf("  Devices: %d/%d\n", verdict.CurrentDevices, verdict.DeviceLimit)
	}
	fmt.Println("========================================")
	return nil
}

// generateOffline prints key strings without storing them
func (t *tool) generateOffline() {
	game, err := license.ParseGame(t.prompt("Game (" + gameList() + "): "))
	if err != nil {
		fmt.Println("Invalid game")
		return
	}
	count, err := t.promptInt("How many keys to generate? ")
	if err != nil || count < 1 || count > license.MaxKeysPerRequest {
		fmt.Printf("Invalid count (1-%d)\n", license.MaxKeysPerRequest)
		return
	}

	generator := license.NewGenerator()
	fmt.Println("========================================")
	for i := int64(0); i < count; i++ {
		key, err := generator.Generate(game)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("  %d. %s\n", i+1, key)
	}
	fmt.Println("========================================")
}

func gameList() string {
	games := license.Games()
	names := make([]string, len(games))
	for i, g := range games {
		names[i] = string(g)
	}
	return strings.Join(names, ", ")
}

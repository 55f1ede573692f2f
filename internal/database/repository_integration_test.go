//go:build integration

package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-reseller/internal/license"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/database/
func newIntegrationRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &DB{Pool: pool, logger: zerolog.Nop()}
	require.NoError(t, db.RunMigrations(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE devices, license_keys, resellers, referral_tokens, updates RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewRepository(db)
}

func TestRepositoryIssuanceAndVerification(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	_, err := repo.CreateReferralToken(ctx, "INTEGRATION1")
	require.NoError(t, err)
	r, err := repo.RegisterReseller(ctx, "INTEGRATION1", &license.Reseller{Username: "it-reseller", PasswordHash: "x", Active: true})
	require.NoError(t, err)

	_, err = repo.RegisterReseller(ctx, "INTEGRATION1", &license.Reseller{Username: "it-other", PasswordHash: "x", Active: true})
	assert.ErrorIs(t, err, license.ErrReferralTokenUsed)

	svc := license.NewServices(license.Dependencies{Store: repo, Logger: zerolog.Nop()})

	_, err = svc.Ledger.Grant(ctx, r.ID, 5)
	require.NoError(t, err)

	result, err := svc.Issuance.Issue(ctx, r.ID, license.IssueRequest{Game: "STANDOFF2", Count: 3, DeviceLimit: 2, Duration: "7d"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RemainingCredits)
	for _, k := range result.Keys {
		assert.True(t, strings.HasPrefix(k.Key, "STDF-"))
	}

	key := result.Keys[0]
	for i := 0; i < 3; i++ {
		v, err := svc.Verification.Verify(ctx, license.VerifyRequest{Key: key.Key, Game: "STANDOFF2", DeviceID: fmt.Sprintf("dev-%d", i)})
		require.NoError(t, err)
		assert.Equal(t, i < 2, v.Valid)
	}

	_, err = repo.InsertDevice(ctx, key.ID, "dev-0")
	assert.ErrorIs(t, err, license.ErrDuplicateDevice)

	_, err = repo.InsertKey(ctx, &license.Key{Key: key.Key, Game: license.GameStandoff2, ResellerID: r.ID, DeviceLimit: 1, ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, license.ErrKeyAlreadyExists)

	require.NoError(t, svc.Revocation.Delete(ctx, key.ID))
	devices, err := repo.ListDevicesForKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

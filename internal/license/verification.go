package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reason explains a verdict
type Reason string

const (
	ReasonValid       Reason = "valid"
	ReasonCanRegister Reason = "can_register"
	ReasonNotFound    Reason = "not_found"
	ReasonWrongGame   Reason = "wrong_game"
	ReasonRevoked     Reason = "revoked"
	ReasonExpired     Reason = "expired"
	ReasonDeviceLimit Reason = "device_limit"
)

const maxDeviceIDLength = 256

// VerifyRequest is a client's claim to use a key on a device
type VerifyRequest struct {
	Key      string `json:"key" binding:"required"`
	Game     string `json:"game" binding:"required"`
	DeviceID string `json:"deviceId" binding:"required"`
}

// Verdict is the answer to a verification. Invalid keys are verdicts, not errors.
type Verdict struct {
	Valid          bool       `json:"valid"`
	Reason         Reason     `json:"reason"`
	Message        string     `json:"message"`
	Status         Status     `json:"status,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	DeviceLimit    int        `json:"deviceLimit,omitempty"`
	CurrentDevices int        `json:"currentDevices"`
	CanRegister    bool       `json:"canRegister,omitempty"`
	Registered     bool       `json:"registered,omitempty"`
}

// VerdictObserver is told about every verdict
type VerdictObserver interface {
	ObserveVerdict(game Game, reason Reason, readOnly bool)
}

// VerificationEngine decides key validity and admits devices
type VerificationEngine struct {
	keys     KeyStore
	registry *DeviceRegistry
	clock    Clock
	observer VerdictObserver
	logger   zerolog.Logger
}

// VerificationOption customizes a VerificationEngine
type VerificationOption func(*VerificationEngine)

// WithVerificationClock overrides the wall clock
func WithVerificationClock(clock Clock) VerificationOption {
	return func(e *VerificationEngine) { e.clock = clock }
}

// WithVerdictObserver records verdicts, typically into metrics
func WithVerdictObserver(observer VerdictObserver) VerificationOption {
	return func(e *VerificationEngine) { e.observer = observer }
}

// NewVerificationEngine creates a verification engine
func NewVerificationEngine(keys KeyStore, registry *DeviceRegistry, logger zerolog.Logger, opts ...VerificationOption) *VerificationEngine {
	e := &VerificationEngine{
		keys:     keys,
		registry: registry,
		clock:    SystemClock,
		logger:   logger.With().Str("component", "VerificationEngine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify evaluates the key and registers the device when a slot is free
func (e *VerificationEngine) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	return e.evaluate(ctx, req, false)
}

// VerifyReadOnly evaluates the key exactly like Verify but never registers
func (e *VerificationEngine) VerifyReadOnly(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	return e.evaluate(ctx, req, true)
}

func (e *VerificationEngine) evaluate(ctx context.Context, req VerifyRequest, readOnly bool) (*Verdict, error) {
	keyString := NormalizeKey(req.Key)
	deviceID := strings.TrimSpace(req.DeviceID)
	if keyString == "" {
		return nil, Invalid("key is required")
	}
	if deviceID == "" {
		return nil, Invalid("device id is required")
	}
	if len(deviceID) > maxDeviceIDLength {
		return nil, Invalid("device id is too long")
	}
	game, err := ParseGame(req.Game)
	if err != nil {
		return nil, err
	}

	verdict, err := e.decide(ctx, keyString, game, deviceID, readOnly)
	if err != nil {
		e.logger.Error().Err(err).Str("game", string(game)).Bool("read_only", readOnly).Msg("Verification failed on store")
		return nil, err
	}

	if e.observer != nil {
		e.observer.ObserveVerdict(game, verdict.Reason, readOnly)
	}
	return verdict, nil
}

func (e *VerificationEngine) decide(ctx context.Context, keyString string, game Game, deviceID string, readOnly bool) (*Verdict, error) {
	key, err := e.keys.FindKeyByString(ctx, keyString)
	if err != nil {
		return nil, fmt.Errorf("failed to find key: %w", err)
	}
	if key == nil {
		return &Verdict{Reason: ReasonNotFound, Message: "Invalid license key"}, nil
	}
	if key.Game != game {
		return &Verdict{Reason: ReasonWrongGame, Message: "License key is not valid for this game"}, nil
	}

	now := e.clock.Now()
	expiresAt := key.ExpiresAt
	status := key.Status(now)
	switch status {
	case StatusRevoked:
		return &Verdict{Reason: ReasonRevoked, Message: "revoked", Status: status}, nil
	case StatusExpired:
		return &Verdict{
			Reason:    ReasonExpired,
			Message:   fmt.Sprintf("License key expired at %s", expiresAt.Format(time.RFC3339)),
			Status:    status,
			ExpiresAt: &expiresAt,
		}, nil
	}

	unlock := e.registry.LockKey(key.ID)
	defer unlock()

	devices, err := e.registry.ListByKey(ctx, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	valid := func(reason Reason, message string, count int) *Verdict {
		return &Verdict{
			Valid:          true,
			Reason:         reason,
			Message:        message,
			Status:         status,
			ExpiresAt:      &expiresAt,
			DeviceLimit:    key.DeviceLimit,
			CurrentDevices: count,
		}
	}

	for _, d := range devices {
		if d.DeviceID == deviceID {
			return valid(ReasonValid, "License key is valid", len(devices)), nil
		}
	}

	if len(devices) >= key.DeviceLimit {
		return &Verdict{
			Reason:         ReasonDeviceLimit,
			Message:        fmt.Sprintf("device limit reached (%d/%d)", len(devices), key.DeviceLimit),
			Status:         status,
			ExpiresAt:      &expiresAt,
			DeviceLimit:    key.DeviceLimit,
			CurrentDevices: len(devices),
		}, nil
	}

	if readOnly {
		v := valid(ReasonCanRegister, "License key is valid, device can be registered", len(devices))
		v.CanRegister = true
		return v, nil
	}

	if _, err := e.registry.Add(ctx, key.ID, deviceID); err != nil {
		if errors.Is(err, ErrDuplicateDevice) {
			// bound by a writer outside this process between list and insert
			return valid(ReasonValid, "License key is valid", len(devices)+1), nil
		}
		if errors.Is(err, ErrKeyNotFound) {
			// deleted after the lookup above
			return &Verdict{Reason: ReasonNotFound, Message: "Invalid license key"}, nil
		}
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	e.logger.Info().
		Int64("key_id", key.ID).
		Str("device_id", deviceID).
		Int("devices", len(devices)+1).
		Int("limit", key.DeviceLimit).
		Msg("Device registered")

	v := valid(ReasonValid, "License key is valid, device registered", len(devices)+1)
	v.Registered = true
	return v, nil
}

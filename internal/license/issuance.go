package license

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"license-reseller/internal/events"
)

const (
	MaxKeysPerRequest = 100
	MaxDeviceLimit    = 100
	MaxDurationDays   = 36500

	// generated strings that collide are redrawn this many times
	maxGenerateAttempts = 5
)

// IssueRequest asks for count keys of one game
type IssueRequest struct {
	Game        string     `json:"game" binding:"required" validate:"required"`
	DeviceLimit int        `json:"deviceLimit" binding:"required" validate:"required,min=1,max=100"`
	Count       int        `json:"count" binding:"required" validate:"required,min=1,max=100"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Duration    string     `json:"duration,omitempty" validate:"omitempty,max=16"`
	CustomKey   string     `json:"customKey,omitempty" validate:"omitempty,max=64"`
}

// IssueResult is the outcome of a successful issuance
type IssueResult struct {
	Keys             []*Key `json:"keys"`
	RemainingCredits int64  `json:"remainingCredits"`
}

// IssuanceService creates keys against a reseller's credit balance
type IssuanceService struct {
	store     Store
	generator *Generator
	ledger    *CreditLedger
	mirror    KeyMirror
	publisher Publisher
	clock     Clock
	validate  *validator.Validate
	logger    zerolog.Logger
}

// IssuanceOption customizes an IssuanceService
type IssuanceOption func(*IssuanceService)

// WithKeyMirror sets the best-effort copy target for issued keys
func WithKeyMirror(mirror KeyMirror) IssuanceOption {
	return func(s *IssuanceService) { s.mirror = mirror }
}

// WithIssuanceClock overrides the wall clock
func WithIssuanceClock(clock Clock) IssuanceOption {
	return func(s *IssuanceService) { s.clock = clock }
}

// WithIssuancePublisher sets the event sink
func WithIssuancePublisher(publisher Publisher) IssuanceOption {
	return func(s *IssuanceService) { s.publisher = publisher }
}

// NewIssuanceService creates an issuance service
func NewIssuanceService(store Store, generator *Generator, ledger *CreditLedger, logger zerolog.Logger, opts ...IssuanceOption) *IssuanceService {
	s := &IssuanceService{
		store:     store,
		generator: generator,
		ledger:    ledger,
		publisher: nopPublisher{},
		clock:     SystemClock,
		validate:  validator.New(),
		logger:    logger.With().Str("component", "IssuanceService").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type issuePlan struct {
	game        Game
	deviceLimit int
	count       int
	expiresAt   time.Time
	customKey   string
}

// Issue creates req.Count keys for resellerID and debits exactly the number
// created. Nothing is debited when validation or an authorization check fails.
func (s *IssuanceService) Issue(ctx context.Context, resellerID int64, req IssueRequest) (*IssueResult, error) {
	plan, err := s.plan(req)
	if err != nil {
		return nil, err
	}

	if plan.customKey != "" {
		existing, err := s.store.FindKeyByString(ctx, plan.customKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check custom key: %w", err)
		}
		if existing != nil {
			return nil, ErrKeyAlreadyExists
		}
	}

	result, err := s.issueLocked(ctx, resellerID, plan)
	if result == nil {
		return nil, err
	}

	s.afterIssue(ctx, resellerID, plan.game, result)

	if err != nil {
		return nil, &PartialIssuanceError{Result: result, Err: err}
	}
	return result, nil
}

func (s *IssuanceService) issueLocked(ctx context.Context, resellerID int64, plan *issuePlan) (*IssueResult, error) {
	unlock := s.ledger.LockReseller(resellerID)
	defer unlock()

	reseller, err := s.store.FindReseller(ctx, resellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reseller: %w", err)
	}
	if reseller == nil {
		return nil, ErrResellerNotFound
	}
	if !reseller.Active {
		return nil, ErrResellerInactive
	}
	if reseller.Credits < int64(plan.count) {
		return nil, ErrInsufficientCredits
	}

	now := s.clock.Now()
	keys := make([]*Key, 0, plan.count)
	var batchErr error

	for i := 0; i < plan.count; i++ {
		custom := ""
		if i == 0 {
			custom = plan.customKey
		}
		key, err := s.insertKey(ctx, resellerID, plan, custom, now)
		if err != nil {
			batchErr = err
			break
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, batchErr
	}

	updated, err := s.ledger.Adjust(ctx, resellerID, -int64(len(keys)))
	if err != nil {
		s.logger.Error().Err(err).
			Int64("reseller_id", resellerID).
			Int("created", len(keys)).
			Msg("Failed to debit credits for issued keys")
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}

	if batchErr != nil {
		s.logger.Error().Err(batchErr).
			Int64("reseller_id", resellerID).
			Int("requested", plan.count).
			Int("created", len(keys)).
			Msg("Issuance interrupted, debited created keys only")
	}

	return &IssueResult{Keys: keys, RemainingCredits: updated.Credits}, batchErr
}

func (s *IssuanceService) insertKey(ctx context.Context, resellerID int64, plan *issuePlan, custom string, now time.Time) (*Key, error) {
	attempts := maxGenerateAttempts
	if custom != "" {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		keyString := custom
		if keyString == "" {
			generated, err := s.generator.Generate(plan.game)
			if err != nil {
				return nil, err
			}
			keyString = generated
		}

		key, err := s.store.InsertKey(ctx, &Key{
			Key:         keyString,
			Game:        plan.game,
			ResellerID:  resellerID,
			DeviceLimit: plan.deviceLimit,
			CreatedAt:   now,
			ExpiresAt:   plan.expiresAt,
		})
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyAlreadyExists) {
			return nil, fmt.Errorf("failed to insert key: %w", err)
		}
		if custom != "" {
			return nil, ErrKeyAlreadyExists
		}
		s.logger.Warn().Str("game", string(plan.game)).Int("attempt", attempt+1).Msg("Generated key collided, regenerating")
	}

	return nil, ErrKeyAlreadyExists
}

func (s *IssuanceService) afterIssue(ctx context.Context, resellerID int64, game Game, result *IssueResult) {
	keyStrings := make([]string, len(result.Keys))
	for i, k := range result.Keys {
		keyStrings[i] = k.Key
	}

	s.logger.Info().
		Int64("reseller_id", resellerID).
		Str("game", string(game)).
		Int("count", len(result.Keys)).
		Int64("remaining_credits", result.RemainingCredits).
		Msg("Keys issued")

	if s.mirror != nil {
		if err := s.mirror.MirrorIssuedKeys(ctx, resellerID, result.Keys); err != nil {
			s.logger.Warn().Err(err).Int64("reseller_id", resellerID).Msg("Failed to mirror issued keys")
		}
	}

	s.publisher.Publish(events.KeysIssued(resellerID, string(game), keyStrings, result.RemainingCredits))
}

func (s *IssuanceService) plan(req IssueRequest) (*issuePlan, error) {
	game, err := ParseGame(req.Game)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	plan := &issuePlan{game: game, deviceLimit: req.DeviceLimit, count: req.Count}

	if req.CustomKey != "" {
		key, err := ValidateCustomKey(req.CustomKey)
		if err != nil {
			return nil, err
		}
		plan.customKey = key
	}

	now := s.clock.Now()
	switch {
	case req.ExpiresAt != nil && req.Duration != "":
		return nil, Invalid("specify either expiresAt or duration, not both")
	case req.ExpiresAt != nil:
		plan.expiresAt = req.ExpiresAt.UTC()
	case req.Duration != "":
		d, err := ParseDuration(req.Duration)
		if err != nil {
			return nil, err
		}
		plan.expiresAt = now.Add(d)
	default:
		return nil, Invalid("expiresAt or duration is required")
	}
	if !plan.expiresAt.After(now) {
		return nil, Invalid("expiry must be in the future")
	}

	return plan, nil
}

// ParseDuration accepts Go durations plus a day suffix such as "30d"
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 || days > MaxDurationDays {
			return 0, Invalid("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, Invalid("invalid duration %q", s)
	}
	return d, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return Invalid("%s is required", lowerFirst(fe.Field()))
		case "min":
			return Invalid("%s must be at least %s", lowerFirst(fe.Field()), fe.Param())
		case "max":
			return Invalid("%s must be at most %s", lowerFirst(fe.Field()), fe.Param())
		}
		return Invalid("%s is invalid", lowerFirst(fe.Field()))
	}
	return Invalid("%s", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

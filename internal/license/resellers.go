package license

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"license-reseller/internal/events"
)

// ResellerDirectory is the admin-facing reseller store
type ResellerDirectory interface {
	ListResellers(ctx context.Context) ([]*Reseller, error)
	SetResellerActive(ctx context.Context, id int64, active bool) (*Reseller, error)
	CreateReferralToken(ctx context.Context, token string) (*ReferralToken, error)
	ListReferralTokens(ctx context.Context) ([]*ReferralToken, error)
	DeleteReferralToken(ctx context.Context, token string) (bool, error)
}

// ResellerService runs admin operations on resellers and referral tokens
type ResellerService struct {
	store     ResellerDirectory
	publisher Publisher
	logger    zerolog.Logger
}

// NewResellerService creates a reseller service
func NewResellerService(store ResellerDirectory, publisher Publisher, logger zerolog.Logger) *ResellerService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ResellerService{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "ResellerService").Logger(),
	}
}

// List returns every reseller
func (s *ResellerService) List(ctx context.Context) ([]*Reseller, error) {
	return s.store.ListResellers(ctx)
}

// SetActive enables or disables a reseller
func (s *ResellerService) SetActive(ctx context.Context, id int64, active bool) (*Reseller, error) {
	reseller, err := s.store.SetResellerActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	if reseller == nil {
		return nil, ErrResellerNotFound
	}

	s.logger.Info().Int64("reseller_id", id).Bool("active", active).Msg("Reseller active flag changed")
	s.publisher.Publish(events.Event{
		Type: events.EventResellerToggled,
		Data: map[string]interface{}{"reseller_id": id, "active": active},
	})
	return reseller, nil
}

// NewReferralToken creates a random one-time registration token
func (s *ResellerService) NewReferralToken(ctx context.Context) (*ReferralToken, error) {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]

	created, err := s.store.CreateReferralToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral token: %w", err)
	}
	s.logger.Info().Str("token", created.Token).Msg("Referral token created")
	return created, nil
}

// ReferralTokens lists every referral token
func (s *ResellerService) ReferralTokens(ctx context.Context) ([]*ReferralToken, error) {
	return s.store.ListReferralTokens(ctx)
}

// DeleteReferralToken removes a token
func (s *ResellerService) DeleteReferralToken(ctx context.Context, token string) error {
	deleted, err := s.store.DeleteReferralToken(ctx, token)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrReferralTokenNotFound
	}
	return nil
}

package license

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"license-reseller/internal/events"
)

// RevocationService invalidates and removes keys
type RevocationService struct {
	keys      KeyStore
	resellers ResellerStore
	registry  *DeviceRegistry
	publisher Publisher
	logger    zerolog.Logger
}

// NewRevocationService creates a revocation service
func NewRevocationService(keys KeyStore, resellers ResellerStore, registry *DeviceRegistry, publisher Publisher, logger zerolog.Logger) *RevocationService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &RevocationService{
		keys:      keys,
		resellers: resellers,
		registry:  registry,
		publisher: publisher,
		logger:    logger.With().Str("component", "RevocationService").Logger(),
	}
}

// Revoke marks a key revoked. Revoking twice succeeds. Devices are kept.
func (s *RevocationService) Revoke(ctx context.Context, keyID int64) (*Key, error) {
	key, err := s.keys.SetKeyRevoked(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke key: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	s.logger.Info().Int64("key_id", keyID).Int64("reseller_id", key.ResellerID).Msg("Key revoked")
	s.publisher.Publish(events.Event{
		Type: events.EventKeyRevoked,
		Data: map[string]interface{}{
			"key_id":      keyID,
			"reseller_id": key.ResellerID,
		},
	})

	return key, nil
}

// RevokeOwned revokes a key on behalf of the reseller that owns it. Disabled
// resellers are refused.
func (s *RevocationService) RevokeOwned(ctx context.Context, resellerID, keyID int64) (*Key, error) {
	if err := requireActiveReseller(ctx, s.resellers, resellerID); err != nil {
		return nil, err
	}
	key, err := s.keys.FindKeyByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to find key: %w", err)
	}
	if key == nil || key.ResellerID != resellerID {
		return nil, ErrKeyNotFound
	}
	return s.Revoke(ctx, keyID)
}

// Delete removes a key and every device bound to it
func (s *RevocationService) Delete(ctx context.Context, keyID int64) error {
	unlock := s.registry.LockKey(keyID)
	defer unlock()

	deleted, err := s.keys.DeleteKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if !deleted {
		return ErrKeyNotFound
	}

	s.logger.Warn().Int64("key_id", keyID).Msg("Key deleted with its devices")
	s.publisher.Publish(events.Event{
		Type: events.EventKeyDeleted,
		Data: map[string]interface{}{"key_id": keyID},
	})
	return nil
}

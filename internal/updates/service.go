// Package updates manages the operator's "online update" messages shown to
// clients of the loader.
package updates

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"license-reseller/internal/events"
	"license-reseller/internal/license"
)

// MaxMessageLength bounds a single update message
const MaxMessageLength = 2000

// Repository persists update messages
type Repository interface {
	CreateUpdate(ctx context.Context, message string) (*license.Update, error)
	ListUpdates(ctx context.Context, limit int) ([]*license.Update, error)
	LatestUpdate(ctx context.Context) (*license.Update, error)
	DeleteUpdate(ctx context.Context, id int64) (bool, error)
}

// Cache holds the newest message so public reads skip the database
type Cache interface {
	SetLatestUpdate(ctx context.Context, update *license.Update) error
	LatestUpdate(ctx context.Context) (*license.Update, error)
	InvalidateLatestUpdate(ctx context.Context) error
}

// Service publishes, lists and deletes update messages
type Service struct {
	repo         Repository
	cache        Cache
	publisher    license.Publisher
	logger       zerolog.Logger
	historyLimit int
}

// NewService creates an update service. cache and publisher may be nil.
func NewService(repo Repository, cache Cache, publisher license.Publisher, historyLimit int, logger zerolog.Logger) *Service {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{
		repo:         repo,
		cache:        cache,
		publisher:    publisher,
		logger:       logger.With().Str("component", "updates").Logger(),
		historyLimit: historyLimit,
	}
}

// Publish stores a new message, refreshes the cache and notifies subscribers
func (s *Service) Publish(ctx context.Context, message string) (*license.Update, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, license.Invalid("message is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, license.Invalid("message must be at most %d characters", MaxMessageLength)
	}

	update, err := s.repo.CreateUpdate(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to create update: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetLatestUpdate(ctx, update); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache latest update")
		}
	}

	s.logger.Info().Int64("update_id", update.ID).Msg("Update published")

	if s.publisher != nil {
		s.publisher.Publish(events.UpdatePublished(update.ID, update.Message, update.CreatedAt))
	}
	return update, nil
}

// List returns the newest messages first
func (s *Service) List(ctx context.Context) ([]*license.Update, error) {
	list, err := s.repo.ListUpdates(ctx, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	return list, nil
}

// Latest returns the newest message or nil when none exist
func (s *Service) Latest(ctx context.Context) (*license.Update, error) {
	if s.cache != nil {
		cached, err := s.cache.LatestUpdate(ctx)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("Latest update cache unavailable")
		}
	}

	update, err := s.repo.LatestUpdate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}

	if update != nil && s.cache != nil {
		if err := s.cache.SetLatestUpdate(ctx, update); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to cache latest update")
		}
	}
	return update, nil
}

// Delete removes a message. ErrUpdateNotFound when it does not exist.
func (s *Service) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteUpdate(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete update: %w", err)
	}
	if !deleted {
		return license.ErrUpdateNotFound
	}

	if s.cache != nil {
		if err := s.cache.InvalidateLatestUpdate(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to invalidate latest update cache")
		}
	}

	s.logger.Info().Int64("update_id", id).Msg("Update deleted")

	if s.publisher != nil {
		s.publisher.Publish(events.Event{
			Type: events.EventUpdateDeleted,
			Data: map[string]interface{}{"id": id},
		})
	}
	return nil
}

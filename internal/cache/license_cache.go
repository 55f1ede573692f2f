package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"license-reseller/internal/license"
)

// MirroredKey is one entry of a reseller's issued-key mirror
type MirroredKey struct {
	Key         string       `json:"key"`
	Game        license.Game `json:"game"`
	DeviceLimit int          `json:"deviceLimit"`
	ExpiresAt   string       `json:"expiresAt"`
}

// MirrorIssuedKeys appends freshly issued keys to the reseller's list and
// trims it to the retention limit.
func (cs *CacheService) MirrorIssuedKeys(ctx context.Context, resellerID int64, keys []*license.Key) error {
	if len(keys) == 0 {
		return nil
	}
	if err := cs.available(); err != nil {
		return err
	}

	entries := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		data, err := json.Marshal(MirroredKey{
			Key:         k.Key,
			Game:        k.Game,
			DeviceLimit: k.DeviceLimit,
			ExpiresAt:   k.ExpiresAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal mirrored key: %w", err)
		}
		entries = append(entries, data)
	}

	listKey := IssuedKeysKey(resellerID)
	_, err := cs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, listKey, entries...)
		pipe.LTrim(ctx, listKey, -cs.mirrorRetention, -1)
		pipe.Expire(ctx, listKey, DefaultMirrorTTL)
		return nil
	})
	if err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis mirror failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// MirroredKeys returns up to limit of the most recently mirrored keys, oldest first
func (cs *CacheService) MirroredKeys(ctx context.Context, resellerID int64, limit int) ([]MirroredKey, error) {
	if err := cs.available(); err != nil {
		return nil, err
	}

	raw, err := cs.client.LRange(ctx, IssuedKeysKey(resellerID), -int64(limit), -1).Result()
	if err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	cs.recordSuccess()

	out := make([]MirroredKey, 0, len(raw))
	for _, item := range raw {
		var k MirroredKey
		if err := json.Unmarshal([]byte(item), &k); err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// SetLatestUpdate caches the newest update message
func (cs *CacheService) SetLatestUpdate(ctx context.Context, update *license.Update) error {
	return cs.SetJSON(ctx, LatestUpdateKey(), update, DefaultUpdateTTL)
}

// LatestUpdate returns the cached update message. A miss is (nil, nil).
func (cs *CacheService) LatestUpdate(ctx context.Context) (*license.Update, error) {
	var update license.Update
	if err := cs.GetJSON(ctx, LatestUpdateKey(), &update); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return &update, nil
}

// InvalidateLatestUpdate drops the cached update message
func (cs *CacheService) InvalidateLatestUpdate(ctx context.Context) error {
	return cs.Delete(ctx, LatestUpdateKey())
}

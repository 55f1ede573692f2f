package license

import (
	"context"
	"fmt"
)

// Catalog lists keys with their derived status and device usage
type Catalog struct {
	keys     KeyStore
	registry *DeviceRegistry
	clock    Clock
}

// NewCatalog creates a catalog
func NewCatalog(keys KeyStore, registry *DeviceRegistry, clock Clock) *Catalog {
	if clock == nil {
		clock = SystemClock
	}
	return &Catalog{keys: keys, registry: registry, clock: clock}
}

// ForReseller lists the keys owned by resellerID, newest first
func (c *Catalog) ForReseller(ctx context.Context, resellerID int64) ([]KeyView, error) {
	keys, err := c.keys.ListKeysByReseller(ctx, resellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return c.annotate(ctx, keys)
}

// All lists every key, newest first
func (c *Catalog) All(ctx context.Context) ([]KeyView, error) {
	keys, err := c.keys.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return c.annotate(ctx, keys)
}

func (c *Catalog) annotate(ctx context.Context, keys []*Key) ([]KeyView, error) {
	ids := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	counts, err := c.registry.Counts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	now := c.clock.Now()
	views := make([]KeyView, len(keys))
	for i, k := range keys {
		views[i] = KeyView{Key: k, Status: k.Status(now), Devices: counts[k.ID]}
	}
	return views, nil
}

package license

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"license-reseller/internal/events"
)

// DeviceRegistry manages device bindings per key. All mutations of one key's
// device set happen under that key's lock.
type DeviceRegistry struct {
	devices   DeviceStore
	keys      KeyStore
	resellers ResellerStore
	locks     *keyedMutex
	publisher Publisher
	logger    zerolog.Logger
}

// NewDeviceRegistry creates a registry
func NewDeviceRegistry(devices DeviceStore, keys KeyStore, resellers ResellerStore, publisher Publisher, logger zerolog.Logger) *DeviceRegistry {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &DeviceRegistry{
		devices:   devices,
		keys:      keys,
		resellers: resellers,
		locks:     newKeyedMutex(),
		publisher: publisher,
		logger:    logger.With().Str("component", "DeviceRegistry").Logger(),
	}
}

// LockKey serializes device admission for one key
func (r *DeviceRegistry) LockKey(keyID int64) func() {
	return r.locks.Lock(keyID)
}

// ListByKey returns the devices of a key in registration order
func (r *DeviceRegistry) ListByKey(ctx context.Context, keyID int64) ([]*Device, error) {
	return r.devices.ListDevicesForKey(ctx, keyID)
}

// Add binds deviceID to keyID. The caller must hold the key lock.
func (r *DeviceRegistry) Add(ctx context.Context, keyID int64, deviceID string) (*Device, error) {
	device, err := r.devices.InsertDevice(ctx, keyID, deviceID)
	if err != nil {
		return nil, err
	}

	r.publisher.Publish(events.Event{
		Type: events.EventDeviceRegistered,
		Data: map[string]interface{}{
			"key_id":    keyID,
			"device_id": deviceID,
		},
	})

	return device, nil
}

// Remove unbinds a device. It reports false when the binding did not exist.
func (r *DeviceRegistry) Remove(ctx context.Context, deviceID string, keyID int64) (bool, error) {
	unlock := r.LockKey(keyID)
	defer unlock()

	removed, err := r.devices.RemoveDevice(ctx, deviceID, keyID)
	if err != nil {
		return false, err
	}
	if removed {
		r.logger.Info().Int64("key_id", keyID).Str("device_id", deviceID).Msg("Device removed")
		r.publisher.Publish(events.Event{
			Type: events.EventDeviceRemoved,
			Data: map[string]interface{}{
				"key_id":    keyID,
				"device_id": deviceID,
			},
		})
	}
	return removed, nil
}

// ListOwned lists the devices of a key owned by resellerID
func (r *DeviceRegistry) ListOwned(ctx context.Context, resellerID, keyID int64) ([]*Device, error) {
	if _, err := r.ownedKey(ctx, resellerID, keyID); err != nil {
		return nil, err
	}
	return r.ListByKey(ctx, keyID)
}

// RemoveOwned frees a device slot on a key owned by resellerID
func (r *DeviceRegistry) RemoveOwned(ctx context.Context, resellerID, keyID int64, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Invalid("device id is required")
	}
	if err := requireActiveReseller(ctx, r.resellers, resellerID); err != nil {
		return err
	}
	if _, err := r.ownedKey(ctx, resellerID, keyID); err != nil {
		return err
	}

	removed, err := r.Remove(ctx, deviceID, keyID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrDeviceNotFound
	}
	return nil
}

// Counts returns the number of devices bound to each key
func (r *DeviceRegistry) Counts(ctx context.Context, keyIDs []int64) (map[int64]int, error) {
	if len(keyIDs) == 0 {
		return map[int64]int{}, nil
	}
	return r.devices.CountDevicesByKey(ctx, keyIDs)
}

// requireActiveReseller refuses mutations from disabled accounts whose
// tokens have not expired yet
func requireActiveReseller(ctx context.Context, resellers ResellerStore, resellerID int64) error {
	reseller, err := resellers.FindReseller(ctx, resellerID)
	if err != nil {
		return fmt.Errorf("failed to load reseller: %w", err)
	}
	if reseller == nil {
		return ErrResellerNotFound
	}
	if !reseller.Active {
		return ErrResellerInactive
	}
	return nil
}

func (r *DeviceRegistry) ownedKey(ctx context.Context, resellerID, keyID int64) (*Key, error) {
	key, err := r.keys.FindKeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.ResellerID != resellerID {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

package license

import (
	"context"

	"license-reseller/internal/events"
)

// Stores report absence as a nil result with a nil error. Conflicts on unique
// columns come back as ErrKeyAlreadyExists / ErrDuplicateDevice, and a credit
// adjustment for an unknown reseller as ErrResellerNotFound. Every other error
// is treated as a transient store failure.

// KeyStore persists license keys
type KeyStore interface {
	FindKeyByString(ctx context.Context, key string) (*Key, error)
	FindKeyByID(ctx context.Context, id int64) (*Key, error)
	InsertKey(ctx context.Context, key *Key) (*Key, error)
	SetKeyRevoked(ctx context.Context, id int64) (*Key, error)
	DeleteKey(ctx context.Context, id int64) (bool, error)
	ListKeysByReseller(ctx context.Context, resellerID int64) ([]*Key, error)
	ListKeys(ctx context.Context) ([]*Key, error)
}

// DeviceStore persists device bindings
type DeviceStore interface {
	ListDevicesForKey(ctx context.Context, keyID int64) ([]*Device, error)
	InsertDevice(ctx context.Context, keyID int64, deviceID string) (*Device, error)
	RemoveDevice(ctx context.Context, deviceID string, keyID int64) (bool, error)
	CountDevicesByKey(ctx context.Context, keyIDs []int64) (map[int64]int, error)
}

// ResellerStore persists resellers and their balances
type ResellerStore interface {
	FindReseller(ctx context.Context, id int64) (*Reseller, error)
	AdjustResellerCredits(ctx context.Context, id int64, delta int64) (*Reseller, error)
}

// Store is everything the core services need
type Store interface {
	KeyStore
	DeviceStore
	ResellerStore
}

// KeyMirror receives a copy of freshly issued keys. It is best effort.
type KeyMirror interface {
	MirrorIssuedKeys(ctx context.Context, resellerID int64, keys []*Key) error
}

// Publisher receives domain events
type Publisher interface {
	Publish(event events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

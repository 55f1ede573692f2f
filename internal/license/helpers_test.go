package license_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"license-reseller/internal/database"
	"license-reseller/internal/license"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type failingMirror struct {
	mu    sync.Mutex
	calls int
}

func (m *failingMirror) MirrorIssuedKeys(ctx context.Context, resellerID int64, keys []*license.Key) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return errors.New("mirror unavailable")
}

type fixture struct {
	store *database.MemoryStore
	clock *fakeClock
	svc   *license.Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	clock := newFakeClock()
	svc := license.NewServices(license.Dependencies{
		Store:  store,
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
	return &fixture{store: store, clock: clock, svc: svc}
}

func (f *fixture) reseller(t *testing.T, username string, credits int64) *license.Reseller {
	t.Helper()
	r, err := f.store.CreateReseller(context.Background(), &license.Reseller{
		Username:     username,
		PasswordHash: "x",
		Credits:      credits,
		Active:       true,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) balance(t *testing.T, resellerID int64) int64 {
	t.Helper()
	r, err := f.store.FindReseller(context.Background(), resellerID)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r.Credits
}

// key issues one key directly through the store, bypassing credits
func (f *fixture) key(t *testing.T, resellerID int64, game license.Game, limit int, ttl time.Duration) *license.Key {
	t.Helper()
	k, err := f.svc.Generator.Generate(game)
	require.NoError(t, err)
	created, err := f.store.InsertKey(context.Background(), &license.Key{
		Key:         k,
		Game:        game,
		ResellerID:  resellerID,
		DeviceLimit: limit,
		CreatedAt:   f.clock.Now(),
		ExpiresAt:   f.clock.Now().Add(ttl),
	})
	require.NoError(t, err)
	return created
}

func verifyReq(k *license.Key, deviceID string) license.VerifyRequest {
	return license.VerifyRequest{Key: k.Key, Game: string(k.Game), DeviceID: deviceID}
}

package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-reseller/internal/license"
)

func seedReseller(t *testing.T, s *MemoryStore, username string) *license.Reseller {
	t.Helper()
	r, err := s.CreateReseller(context.Background(), &license.Reseller{Username: username, PasswordHash: "h", Active: true})
	require.NoError(t, err)
	return r
}

func TestMemoryStoreKeyUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedReseller(t, s, "alice")

	key := &license.Key{Key: "STDF-AAAAAA-BBBBBB-CCCCCC", Game: license.GameStandoff2, ResellerID: r.ID, DeviceLimit: 1, ExpiresAt: time.Now().Add(time.Hour)}
	created, err := s.InsertKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	_, err = s.InsertKey(ctx, key)
	assert.ErrorIs(t, err, license.ErrKeyAlreadyExists)

	found, err := s.FindKeyByString(ctx, key.Key)
	require.NoError(t, err)
	require.NotNil(t, found)

	// returned records are copies
	found.Revoked = true
	again, err := s.FindKeyByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, again.Revoked)

	missing, err := s.FindKeyByString(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreDevices(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedReseller(t, s, "alice")
	k, err := s.InsertKey(ctx, &license.Key{Key: "K1", Game: license.GamePUBGM, ResellerID: r.ID, DeviceLimit: 3})
	require.NoError(t, err)

	_, err = s.InsertDevice(ctx, k.ID, "a")
	require.NoError(t, err)
	_, err = s.InsertDevice(ctx, k.ID, "a")
	assert.ErrorIs(t, err, license.ErrDuplicateDevice)
	_, err = s.InsertDevice(ctx, k.ID, "b")
	require.NoError(t, err)

	counts, err := s.CountDevicesByKey(ctx, []int64{k.ID, 99})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{k.ID: 2}, counts)

	removed, err := s.RemoveDevice(ctx, "a", k.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveDevice(ctx, "a", k.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	deleted, err := s.DeleteKey(ctx, k.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	devices, err := s.ListDevicesForKey(ctx, k.ID)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestMemoryStoreRegisterConsumesTokenOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.CreateReferralToken(ctx, "TOKEN1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RegisterReseller(ctx, "TOKEN1", &license.Reseller{Username: fmt.Sprintf("user%d", i), Active: true})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)

	tokens, err := s.ListReferralTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Used)
	require.NotNil(t, tokens[0].UsedBy)

	_, err = s.RegisterReseller(ctx, "TOKEN1", &license.Reseller{Username: "late"})
	assert.ErrorIs(t, err, license.ErrReferralTokenUsed)
	_, err = s.RegisterReseller(ctx, "MISSING", &license.Reseller{Username: "late"})
	assert.ErrorIs(t, err, license.ErrReferralTokenNotFound)
}

func TestMemoryStoreUsernameTakenKeepsToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedReseller(t, s, "alice")
	_, err := s.CreateReferralToken(ctx, "TOKEN2")
	require.NoError(t, err)

	_, err = s.RegisterReseller(ctx, "TOKEN2", &license.Reseller{Username: "alice"})
	assert.ErrorIs(t, err, license.ErrUsernameTaken)

	tokens, err := s.ListReferralTokens(ctx)
	require.NoError(t, err)
	assert.False(t, tokens[0].Used)
}

func TestMemoryStoreUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	latest, err := s.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, msg := range []string{"v1.0 released", "v1.1 released", "v1.2 released"} {
		_, err := s.CreateUpdate(ctx, msg)
		require.NoError(t, err)
	}

	latest, err = s.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.2 released", latest.Message)

	list, err := s.ListUpdates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "v1.1 released", list[1].Message)

	deleted, err := s.DeleteUpdate(ctx, latest.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteUpdate(ctx, latest.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStoreAdjustCredits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedReseller(t, s, "alice")

	updated, err := s.AdjustResellerCredits(ctx, r.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated.Credits)

	_, err = s.AdjustResellerCredits(ctx, 77, 5)
	assert.ErrorIs(t, err, license.ErrResellerNotFound)
}

package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"license-reseller/internal/license"
)

// MemoryStore keeps every table in process memory. It honors the same unique
// constraints and cascades as the PostgreSQL schema and hands out copies so
// callers never share records with the store.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	resellers map[int64]*license.Reseller
	usernames map[string]int64
	tokens    map[string]*license.ReferralToken
	keys      map[int64]*license.Key
	keyIndex  map[string]int64
	devices   map[int64][]*license.Device
	updates   map[int64]*license.Update

	nextReseller int64
	nextKey      int64
	nextDevice   int64
	nextUpdate   int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		resellers: make(map[int64]*license.Reseller),
		usernames: make(map[string]int64),
		tokens:    make(map[string]*license.ReferralToken),
		keys:      make(map[int64]*license.Key),
		keyIndex:  make(map[string]int64),
		devices:   make(map[int64][]*license.Device),
		updates:   make(map[int64]*license.Update),
	}
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

func cloneKey(k *license.Key) *license.Key {
	c := *k
	return &c
}

func cloneReseller(r *license.Reseller) *license.Reseller {
	c := *r
	return &c
}

func cloneToken(t *license.ReferralToken) *license.ReferralToken {
	c := *t
	if t.UsedBy != nil {
		by := *t.UsedBy
		c.UsedBy = &by
	}
	if t.UsedAt != nil {
		at := *t.UsedAt
		c.UsedAt = &at
	}
	return &c
}

// ============================================================================
// RESELLERS
// ============================================================================

// CreateReseller inserts a reseller directly, without a referral token
func (s *MemoryStore) CreateReseller(ctx context.Context, reseller *license.Reseller) (*license.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createResellerLocked(reseller)
}

func (s *MemoryStore) createResellerLocked(reseller *license.Reseller) (*license.Reseller, error) {
	if _, taken := s.usernames[reseller.Username]; taken {
		return nil, license.ErrUsernameTaken
	}
	s.nextReseller++
	stored := cloneReseller(reseller)
	stored.ID = s.nextReseller
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.resellers[stored.ID] = stored
	s.usernames[stored.Username] = stored.ID
	return cloneReseller(stored), nil
}

// FindReseller retrieves a reseller by id
func (s *MemoryStore) FindReseller(ctx context.Context, id int64) (*license.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resellers[id]
	if !ok {
		return nil, nil
	}
	return cloneReseller(r), nil
}

// FindResellerByUsername retrieves a reseller by username
func (s *MemoryStore) FindResellerByUsername(ctx context.Context, username string) (*license.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, nil
	}
	return cloneReseller(s.resellers[id]), nil
}

// AdjustResellerCredits adds delta to a reseller's balance
func (s *MemoryStore) AdjustResellerCredits(ctx context.Context, id int64, delta int64) (*license.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resellers[id]
	if !ok {
		return nil, license.ErrResellerNotFound
	}
	r.Credits += delta
	return cloneReseller(r), nil
}

// ListResellers lists resellers by id
func (s *MemoryStore) ListResellers(ctx context.Context) ([]*license.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.Reseller, 0, len(s.resellers))
	for _, r := range s.resellers {
		out = append(out, cloneReseller(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetResellerActive toggles the active flag
func (s *MemoryStore) SetResellerActive(ctx context.Context, id int64, active bool) (*license.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resellers[id]
	if !ok {
		return nil, nil
	}
	r.Active = active
	return cloneReseller(r), nil
}

// RegisterReseller consumes a referral token and creates the reseller atomically
func (s *MemoryStore) RegisterReseller(ctx context.Context, token string, reseller *license.Reseller) (*license.Reseller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, license.ErrReferralTokenNotFound
	}
	if t.Used {
		return nil, license.ErrReferralTokenUsed
	}

	created, err := s.createResellerLocked(reseller)
	if err != nil {
		return nil, err
	}

	now := s.now()
	by := created.Username
	t.Used = true
	t.UsedBy = &by
	t.UsedAt = &now
	return created, nil
}

// ============================================================================
// REFERRAL TOKENS
// ============================================================================

// CreateReferralToken stores a new unused token
func (s *MemoryStore) CreateReferralToken(ctx context.Context, token string) (*license.ReferralToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token]; exists {
		return nil, license.Invalid("referral token %q already exists", token)
	}
	t := &license.ReferralToken{Token: token, CreatedAt: s.now()}
	s.tokens[token] = t
	return cloneToken(t), nil
}

// ListReferralTokens lists tokens, newest first
func (s *MemoryStore) ListReferralTokens(ctx context.Context) ([]*license.ReferralToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.ReferralToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, cloneToken(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteReferralToken removes a token
func (s *MemoryStore) DeleteReferralToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; !ok {
		return false, nil
	}
	delete(s.tokens, token)
	return true, nil
}

// ============================================================================
// KEYS
// ============================================================================

// FindKeyByString retrieves a key by its key string
func (s *MemoryStore) FindKeyByString(ctx context.Context, key string) (*license.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keyIndex[key]
	if !ok {
		return nil, nil
	}
	return cloneKey(s.keys[id]), nil
}

// FindKeyByID retrieves a key by id
func (s *MemoryStore) FindKeyByID(ctx context.Context, id int64) (*license.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, nil
	}
	return cloneKey(k), nil
}

// InsertKey stores a new key. A taken key string yields license.ErrKeyAlreadyExists.
func (s *MemoryStore) InsertKey(ctx context.Context, key *license.Key) (*license.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keyIndex[key.Key]; exists {
		return nil, license.ErrKeyAlreadyExists
	}
	if _, ok := s.resellers[key.ResellerID]; !ok {
		return nil, license.ErrResellerNotFound
	}

	s.nextKey++
	stored := cloneKey(key)
	stored.ID = s.nextKey
	stored.Revoked = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.keys[stored.ID] = stored
	s.keyIndex[stored.Key] = stored.ID
	return cloneKey(stored), nil
}

// SetKeyRevoked flips the revoked flag on
func (s *MemoryStore) SetKeyRevoked(ctx context.Context, id int64) (*license.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, nil
	}
	k.Revoked = true
	return cloneKey(k), nil
}

// DeleteKey removes a key and its devices
func (s *MemoryStore) DeleteKey(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return false, nil
	}
	delete(s.keyIndex, k.Key)
	delete(s.keys, id)
	delete(s.devices, id)
	return true, nil
}

// ListKeysByReseller lists a reseller's keys, newest first
func (s *MemoryStore) ListKeysByReseller(ctx context.Context, resellerID int64) ([]*license.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*license.Key
	for _, k := range s.keys {
		if k.ResellerID == resellerID {
			out = append(out, cloneKey(k))
		}
	}
	sortKeysDesc(out)
	return out, nil
}

// ListKeys lists every key, newest first
func (s *MemoryStore) ListKeys(ctx context.Context) ([]*license.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, cloneKey(k))
	}
	sortKeysDesc(out)
	return out, nil
}

func sortKeysDesc(keys []*license.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID > keys[j].ID })
}

// ============================================================================
// DEVICES
// ============================================================================

// ListDevicesForKey returns a key's devices in registration order
func (s *MemoryStore) ListDevicesForKey(ctx context.Context, keyID int64) ([]*license.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.devices[keyID]
	out := make([]*license.Device, len(devices))
	for i, d := range devices {
		c := *d
		out[i] = &c
	}
	return out, nil
}

// InsertDevice binds a device to a key. An existing pair yields license.ErrDuplicateDevice.
func (s *MemoryStore) InsertDevice(ctx context.Context, keyID int64, deviceID string) (*license.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[keyID]; !ok {
		return nil, license.ErrKeyNotFound
	}
	for _, d := range s.devices[keyID] {
		if d.DeviceID == deviceID {
			return nil, license.ErrDuplicateDevice
		}
	}

	s.nextDevice++
	d := &license.Device{ID: s.nextDevice, KeyID: keyID, DeviceID: deviceID, RegisteredAt: s.now()}
	s.devices[keyID] = append(s.devices[keyID], d)
	c := *d
	return &c, nil
}

// RemoveDevice unbinds a device, reporting whether it existed
func (s *MemoryStore) RemoveDevice(ctx context.Context, deviceID string, keyID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.devices[keyID]
	for i, d := range devices {
		if d.DeviceID == deviceID {
			s.devices[keyID] = append(devices[:i:i], devices[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// CountDevicesByKey counts devices for each of keyIDs
func (s *MemoryStore) CountDevicesByKey(ctx context.Context, keyIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int, len(keyIDs))
	for _, id := range keyIDs {
		if n := len(s.devices[id]); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

// ============================================================================
// UPDATES
// ============================================================================

// CreateUpdate stores a broadcast message
func (s *MemoryStore) CreateUpdate(ctx context.Context, message string) (*license.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUpdate++
	u := &license.Update{ID: s.nextUpdate, Message: message, CreatedAt: s.now()}
	s.updates[u.ID] = u
	c := *u
	return &c, nil
}

// ListUpdates returns the newest limit messages
func (s *MemoryStore) ListUpdates(ctx context.Context, limit int) ([]*license.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.Update, 0, len(s.updates))
	for _, u := range s.updates {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestUpdate returns the newest message or nil
func (s *MemoryStore) LatestUpdate(ctx context.Context) (*license.Update, error) {
	updates, err := s.ListUpdates(ctx, 1)
	if err != nil || len(updates) == 0 {
		return nil, err
	}
	return updates[0], nil
}

// DeleteUpdate removes a message
func (s *MemoryStore) DeleteUpdate(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.updates[id]; !ok {
		return false, nil
	}
	delete(s.updates, id)
	return true, nil
}

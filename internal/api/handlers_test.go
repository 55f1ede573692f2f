package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"license-reseller/config"
	"license-reseller/internal/auth"
	"license-reseller/internal/cache"
	"license-reseller/internal/database"
	"license-reseller/internal/events"
	"license-reseller/internal/license"
	"license-reseller/internal/metrics"
	"license-reseller/internal/updates"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	adminUser     = "operator"
	adminPassword = "operator-pass1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	server  *Server
	store   *database.MemoryStore
	clock   *testClock
	bus     *events.EventBus
	metrics *metrics.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := database.NewMemoryStore()
	clock := &testClock{now: time.Now().UTC()}
	bus := events.NewEventBus()
	reg := metrics.NewRegistry()
	logger := zerolog.Nop()

	services := license.NewServices(license.Dependencies{
		Store:     store,
		Publisher: bus,
		Observer:  reg,
		Clock:     clock,
		Logger:    logger,
	})
	authService, err := auth.NewService(store, auth.Config{
		JWTSecret:           testSecret,
		AccessTokenDuration: time.Hour,
		BcryptCost:          bcrypt.MinCost,
		AdminUsername:       adminUser,
		AdminPassword:       adminPassword,
	}, bus, logger)
	require.NoError(t, err)

	server := NewServer(
		config.ServerConfig{Port: 8080, AllowedOrigins: "*"},
		config.RateLimitConfig{},
		Dependencies{
			Services: services,
			Auth:     authService,
			Updates:  updates.NewService(store, nil, bus, 10, logger),
			Store:    store,
			EventBus: bus,
			Metrics:  reg,
			Logger:   logger,
		},
	)

	return &testEnv{server: server, store: store, clock: clock, bus: bus, metrics: reg}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/admin/login", "", auth.LoginRequest{Username: adminUser, Password: adminPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp auth.LoginResponse
	decode(t, w, &resp)
	return resp.AccessToken
}

// newReseller registers a reseller through a fresh referral token, grants it
// credits and returns its id and token.
func (e *testEnv) newReseller(t *testing.T, admin, username string, credits int64) (int64, string) {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/admin/referral-tokens", admin, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var token license.ReferralToken
	decode(t, w, &token)

	w = e.do(t, http.MethodPost, "/api/auth/register", "", auth.RegisterRequest{
		Username:      username,
		Password:      "secret-pass1",
		ReferralToken: token.Token,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Username: username, Password: "secret-pass1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login auth.LoginResponse
	decode(t, w, &login)
	require.NotNil(t, login.Reseller)

	if credits > 0 {
		w = e.do(t, http.MethodPost, fmt.Sprintf("/api/admin/resellers/%d/credits", login.Reseller.ID), admin, GrantCreditsRequest{Amount: credits})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return login.Reseller.ID, login.AccessToken
}

func (e *testEnv) issue(t *testing.T, token string, req license.IssueRequest) []*license.Key {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/reseller/keys", token, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result license.IssueResult
	decode(t, w, &result)
	return result.Keys
}

func (e *testEnv) verify(t *testing.T, path, key, game, device string) *license.Verdict {
	t.Helper()
	w := e.do(t, http.MethodPost, path, "", license.VerifyRequest{Key: key, Game: game, DeviceID: device})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var verdict license.Verdict
	decode(t, w, &verdict)
	return &verdict
}

func TestIssueAndVerifyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	_, reseller := env.newReseller(t, admin, "alice", 5)

	keys := env.issue(t, reseller, license.IssueRequest{Game: "STANDOFF2", DeviceLimit: 1, Count: 2, Duration: "30d"})
	require.Len(t, keys, 2)
	assert.Regexp(t, `^STDF-[A-Z0-9]{6}-[A-Z0-9]{6}-[A-Z0-9]{6}$`, keys[0].Key)

	key := keys[0].Key

	// read-only check does not bind
	v := env.verify(t, "/api/verify/check", key, "STANDOFF2", "device-a")
	assert.True(t, v.Valid)
	assert.Equal(t, license.ReasonCanRegister, v.Reason)
	assert.Equal(t, 0, v.CurrentDevices)

	v = env.verify(t, "/api/verify", key, "STANDOFF2", "device-a")
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.CurrentDevices)

	v = env.verify(t, "/api/verify", key, "STANDOFF2", "device-a")
	assert.True(t, v.Valid)
	assert.Equal(t, license.ReasonValid, v.Reason)
	assert.Equal(t, 1, v.CurrentDevices)

	v = env.verify(t, "/api/verify", key, "STANDOFF2", "device-b")
	assert.False(t, v.Valid)
	assert.Equal(t, license.ReasonDeviceLimit, v.Reason)

	v = env.verify(t, "/api/verify", key, "PUBGM", "device-a")
	assert.False(t, v.Valid)
	assert.Equal(t, license.ReasonWrongGame, v.Reason)

	v = env.verify(t, "/api/verify", "STDF-AAAAAA-BBBBBB-CCCCCC", "STANDOFF2", "device-a")
	assert.False(t, v.Valid)
	assert.Equal(t, license.ReasonNotFound, v.Reason)

	w := env.do(t, http.MethodGet, "/api/reseller/profile", reseller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		Reseller license.Reseller `json:"reseller"`
		Keys     KeySummary       `json:"keys"`
	}
	decode(t, w, &profile)
	assert.Equal(t, int64(3), profile.Reseller.Credits)
	assert.Equal(t, 2, profile.Keys.Active)
}

func TestDeviceRemovalFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	_, reseller := env.newReseller(t, admin, "bob", 1)

	key := env.issue(t, reseller, license.IssueRequest{Game: "PUBGM", DeviceLimit: 1, Count: 1, Duration: "24h"})[0]
	require.True(t, env.verify(t, "/api/verify", key.Key, "PUBGM", "phone-1").Valid)

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/reseller/keys/%d/devices", key.ID), reseller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Devices []license.Device `json:"devices"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Devices, 1)
	assert.Equal(t, "phone-1", listed.Devices[0].DeviceID)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reseller/keys/%d/devices/phone-1", key.ID), reseller, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reseller/keys/%d/devices/phone-1", key.ID), reseller, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	v := env.verify(t, "/api/verify", key.Key, "PUBGM", "phone-2")
	assert.True(t, v.Valid)
}

func TestExpiredAndRevokedKeys(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	_, reseller := env.newReseller(t, admin, "carol", 2)

	keys := env.issue(t, reseller, license.IssueRequest{Game: "FREEFIRE", DeviceLimit: 2, Count: 2, Duration: "1h"})
	require.Len(t, keys, 2)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/reseller/keys/%d/revoke", keys[0].ID), reseller, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v := env.verify(t, "/api/verify", keys[0].Key, "FREEFIRE", "pc")
	assert.False(t, v.Valid)
	assert.Equal(t, license.ReasonRevoked, v.Reason)

	env.clock.Advance(2 * time.Hour)
	v = env.verify(t, "/api/verify", keys[1].Key, "FREEFIRE", "pc")
	assert.False(t, v.Valid)
	assert.Equal(t, license.ReasonExpired, v.Reason)

	w = env.do(t, http.MethodGet, "/api/reseller/keys", reseller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Keys []license.KeyView `json:"keys"`
	}
	decode(t, w, &listed)
	statuses := map[license.Status]int{}
	for _, k := range listed.Keys {
		statuses[k.Status]++
	}
	assert.Equal(t, 1, statuses[license.StatusRevoked])
	assert.Equal(t, 1, statuses[license.StatusExpired])
}

func TestInsufficientCreditsAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	_, alice := env.newReseller(t, admin, "alice", 1)
	_, mallory := env.newReseller(t, admin, "mallory", 0)

	w := env.do(t, http.MethodPost, "/api/reseller/keys", alice, license.IssueRequest{Game: "STANDOFF2", DeviceLimit: 1, Count: 2, Duration: "7d"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["error"])

	key := env.issue(t, alice, license.IssueRequest{Game: "STANDOFF2", DeviceLimit: 1, Count: 1, Duration: "7d"})[0]

	// another reseller's key looks absent
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/reseller/keys/%d/revoke", key.ID), mallory, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/reseller/keys", alice, license.IssueRequest{Game: "TETRIS", DeviceLimit: 1, Count: 1, Duration: "7d"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminKeyManagement(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	resellerID, reseller := env.newReseller(t, admin, "dave", 3)

	key := env.issue(t, reseller, license.IssueRequest{Game: "PUBGM", DeviceLimit: 3, Count: 1, Duration: "7d", CustomKey: "PUBG-VIP001-VIP002-VIP003"})[0]
	assert.Equal(t, "PUBG-VIP001-VIP002-VIP003", key.Key)
	require.True(t, env.verify(t, "/api/verify", key.Key, "PUBGM", "d1").Valid)

	w := env.do(t, http.MethodGet, "/api/admin/keys", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Keys []license.KeyView `json:"keys"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Keys, 1)
	assert.Equal(t, 1, listed.Keys[0].Devices)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/keys/%d", key.ID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v := env.verify(t, "/api/verify", key.Key, "PUBGM", "d1")
	assert.Equal(t, license.ReasonNotFound, v.Reason)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/keys/%d", key.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// disabled resellers cannot issue or change keys
	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/admin/resellers/%d/active", resellerID), admin, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/reseller/keys", reseller, license.IssueRequest{Game: "PUBGM", DeviceLimit: 1, Count: 1, Duration: "7d"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/reseller/keys/%d/revoke", key.ID), reseller, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reseller/keys/%d/devices/d1", key.ID), reseller, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/admin/resellers/%d/active", resellerID), admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessControl(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	_, reseller := env.newReseller(t, admin, "erin", 0)

	w := env.do(t, http.MethodGet, "/api/admin/resellers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/resellers", reseller, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/reseller/keys", admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/resellers", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/keys/abc/revoke", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/resellers/xyz/credits", admin, GrantCreditsRequest{Amount: 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/resellers/999/credits", admin, GrantCreditsRequest{Amount: 5})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/verify", "", map[string]string{"key": "STDF-AAAAAA-BBBBBB-CCCCCC"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/verify", "", license.VerifyRequest{Key: "STDF-AAAAAA-BBBBBB-CCCCCC", Game: "CHESS", DeviceID: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "INVALID_GAME", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/verify/check", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatesEndpoints(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	w := env.do(t, http.MethodGet, "/api/updates/latest", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"update": null}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/admin/updates", admin, PublishUpdateRequest{Message: "Loader 2.1 is out"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created license.Update
	decode(t, w, &created)

	w = env.do(t, http.MethodGet, "/api/updates/latest", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest struct {
		Update *license.Update `json:"update"`
	}
	decode(t, w, &latest)
	require.NotNil(t, latest.Update)
	assert.Equal(t, "Loader 2.1 is out", latest.Update.Message)

	w = env.do(t, http.MethodGet, "/api/updates", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/updates/%d", created.ID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/updates/%d", created.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["redis"])

	w = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReportsDegradedRedis(t *testing.T) {
	env := newTestEnv(t)

	// Nothing listens on port 1
	cs, err := cache.NewCacheService(config.RedisConfig{Enabled: true, Address: "127.0.0.1:1", PoolSize: 1}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	env.server.cache = cs

	w := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code, "redis is optional")
	var body struct {
		Status     string       `json:"status"`
		Redis      string       `json:"redis"`
		RedisStats *cache.Stats `json:"redis_stats"`
	}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "degraded", body.Redis)
	require.NotNil(t, body.RedisStats)
	assert.False(t, body.RedisStats.Healthy)
	assert.Equal(t, "127.0.0.1:1", body.RedisStats.Address)
	assert.Positive(t, body.RedisStats.FailureCount)
}

type stubCounter struct {
	healthy bool
	counts  map[string]int64
}

func (s *stubCounter) IsHealthy() bool { return s.healthy }

func (s *stubCounter) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.counts[key]++
	return s.counts[key], nil
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	local := NewRateLimiter(60, 2, time.Minute, nil)
	ok, backend := local.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	assert.Equal(t, backendLocal, backend)
	ok, _ = local.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	ok, _ = local.Allow(ctx, "1.2.3.4")
	assert.False(t, ok, "burst exhausted")
	ok, _ = local.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "clients are limited separately")

	counter := &stubCounter{healthy: true, counts: map[string]int64{}}
	shared := NewRateLimiter(2, 1, time.Minute, counter)
	for i := 0; i < 2; i++ {
		ok, backend = shared.Allow(ctx, "1.2.3.4")
		assert.True(t, ok)
		assert.Equal(t, backendRedis, backend)
	}
	ok, _ = shared.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	counter.healthy = false
	ok, backend = shared.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	assert.Equal(t, backendLocal, backend)
}

func TestVerifyIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.server.limiter = NewRateLimiter(60, 1, time.Minute, nil)
	env.server.router = gin.New()
	env.server.setupRoutes()

	body := license.VerifyRequest{Key: "STDF-AAAAAA-BBBBBB-CCCCCC", Game: "STANDOFF2", DeviceID: "x"}
	w := env.do(t, http.MethodPost, "/api/verify", "", body)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/verify", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestUpdatesFeed(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.Hub().Run(ctx)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/updates", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "CONNECTED", msg.Type)

	require.Eventually(t, func() bool { return env.server.Hub().GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/admin/updates", admin, PublishUpdateRequest{Message: "servers restarting"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.EventUpdatePublished), msg.Type)
	assert.Equal(t, "servers restarting", msg.Data["message"])
}

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"license-reseller/internal/database"
	"license-reseller/internal/license"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) (*Service, *database.MemoryStore) {
	t.Helper()
	store := database.NewMemoryStore()
	svc, err := NewService(store, Config{
		JWTSecret:           testSecret,
		AccessTokenDuration: time.Hour,
		BcryptCost:          bcrypt.MinCost,
		AdminUsername:       "operator",
		AdminPassword:       "operator-pass1",
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	return svc, store
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager(testSecret, time.Hour)

	token, err := m.GenerateAccessToken(UserClaims{ResellerID: 7, Username: "alice", Role: RoleReseller})
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ResellerID)
	assert.Equal(t, RoleReseller, claims.Role)
	assert.False(t, claims.IsAdmin())

	other := NewJWTManager("another-secret-another-secret-xx", time.Hour)
	_, err = other.ValidateAccessToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestJWTExpired(t *testing.T) {
	m := NewJWTManager(testSecret, time.Minute)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.GenerateAccessToken(UserClaims{Username: "operator", Role: RoleAdmin})
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = m.ValidateAccessToken(token)
	assert.Equal(t, ErrTokenExpired, err)
}

func TestPasswordStrength(t *testing.T) {
	p := NewPasswordManager(bcrypt.MinCost, 8)
	assert.Error(t, p.ValidatePasswordStrength("short1"))
	assert.Error(t, p.ValidatePasswordStrength("onlyletters"))
	assert.Error(t, p.ValidatePasswordStrength("12345678"))
	assert.NoError(t, p.ValidatePasswordStrength("letters123"))

	hash, err := p.HashPassword("letters123")
	require.NoError(t, err)
	assert.True(t, p.VerifyPassword("letters123", hash))
	assert.False(t, p.VerifyPassword("letters124", hash))
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	_, err := store.CreateReferralToken(ctx, "INVITE01")
	require.NoError(t, err)

	reseller, err := svc.Register(ctx, RegisterRequest{Username: "alice", Password: "secret123", ReferralToken: "INVITE01"})
	require.NoError(t, err)
	assert.True(t, reseller.Active)
	assert.Zero(t, reseller.Credits)

	_, err = svc.Register(ctx, RegisterRequest{Username: "bob", Password: "secret123", ReferralToken: "INVITE01"})
	assert.ErrorIs(t, err, license.ErrReferralTokenUsed)

	_, err = svc.Register(ctx, RegisterRequest{Username: "operator", Password: "secret123", ReferralToken: "INVITE01"})
	assert.ErrorIs(t, err, license.ErrUsernameTaken)

	resp, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, RoleReseller, resp.Role)
	assert.Equal(t, reseller.ID, resp.Reseller.ID)

	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, ErrInvalidCredentials, err)
	_, err = svc.Login(ctx, LoginRequest{Username: "nobody", Password: "secret123"})
	assert.Equal(t, ErrInvalidCredentials, err)

	_, err = store.SetResellerActive(ctx, reseller.ID, false)
	require.NoError(t, err)
	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "secret123"})
	assert.Equal(t, ErrAccountSuspended, err)
}

func TestAdminLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.AdminLogin(ctx, LoginRequest{Username: "operator", Password: "operator-pass1"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, resp.Role)

	claims, err := svc.GetJWTManager().ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	_, err = svc.AdminLogin(ctx, LoginRequest{Username: "operator", Password: "nope"})
	assert.Equal(t, ErrInvalidCredentials, err)
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(database.NewMemoryStore(), Config{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRoutesAndRoleMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	svc, store := newTestService(t)
	_, err := store.CreateReferralToken(ctx, "INVITE02")
	require.NoError(t, err)

	router := gin.New()
	NewHandlers(svc).RegisterRoutes(router.Group("/api/auth"))
	admin := router.Group("/admin", Middleware(svc.GetJWTManager()), RequireAdmin())
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path, token string, body interface{}) *httptest.ResponseRecorder {
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
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: "carol", Password: "secret123", ReferralToken: "INVITE02"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: "dave", Password: "secret123", ReferralToken: "MISSING"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "carol", Password: "secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = do(http.MethodGet, "/api/auth/me", login.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"carol"`)

	w = do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(http.MethodGet, "/admin/ping", login.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(http.MethodGet, "/admin/ping", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(http.MethodPost, "/api/auth/admin/login", "", LoginRequest{Username: "operator", Password: "operator-pass1"})
	require.Equal(t, http.StatusOK, w.Code)
	var adminLogin LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adminLogin))

	w = do(http.MethodGet, "/admin/ping", adminLogin.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

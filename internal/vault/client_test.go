package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-reseller/config"
)

func fakeVault(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/v1/secret/data/license-reseller" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"jwt_secret":"vault-jwt","admin_password":"vault-admin"},"metadata":{"version":1}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadSecretsFromKV2(t *testing.T) {
	var hits int32
	srv := fakeVault(t, &hits)

	client, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "license-reseller",
	}, zerolog.Nop())
	require.NoError(t, err)

	secrets, err := client.LoadSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-jwt", secrets.JWTSecret)
	assert.Equal(t, "vault-admin", secrets.AdminPassword)
	assert.Empty(t, secrets.DBPassword)

	// served from cache
	_, err = client.LoadSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	cfg := &config.Config{}
	cfg.Database.Password = "from-file"
	secrets.Apply(cfg)
	assert.Equal(t, "vault-jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "vault-admin", cfg.Admin.Password)
	assert.Equal(t, "from-file", cfg.Database.Password)
}

func TestLoadSecretsMissingPath(t *testing.T) {
	var hits int32
	srv := fakeVault(t, &hits)

	client, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "other",
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.LoadSecrets(context.Background())
	assert.Error(t, err)
}

func TestDisabledClient(t *testing.T) {
	client, err := NewClient(config.VaultConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())

	secrets, err := client.LoadSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Secrets{}, *secrets)
}

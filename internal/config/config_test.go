package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"ENVIRONMENT",
		"LOG_LEVEL",
		"LISTEN_ADDR",
		"DB_PATH",
		"API_VERSION",
		"ACCESS_TOKEN_LIFETIME",
		"REFRESH_TOKEN_LIFETIME",
		"AUTHORIZATION_CODE_LIFETIME",
		"STORE_TIMEOUT",
		"SEED_FILE",
		"AUTH_USERS",
		"REQUIRE_AUTH",
		"ADMIN_SCOPE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load("dev")
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "1.0.0", cfg.APIVersion)
	assert.Equal(t, "/v1", cfg.BasePath())
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "admin", cfg.AdminScope)
	assert.False(t, cfg.RequireAuth)
	assert.Empty(t, cfg.DBPath)
}

func TestLoad_APIVersionFromBuildVersion(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load("v2.4.0")
	require.NoError(t, err)
	assert.Equal(t, "v2.4.0", cfg.APIVersion)
	assert.Equal(t, "/v2", cfg.BasePath())

	t.Setenv("API_VERSION", "3.0.0")
	cfg, err = Load("v2.4.0")
	require.NoError(t, err)
	assert.Equal(t, "/v3", cfg.BasePath())
}

func TestLoad_CustomValues(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("API_VERSION", "2.3.1")
	t.Setenv("ACCESS_TOKEN_LIFETIME", "600")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("REQUIRE_AUTH", "true")

	cfg, err := Load("dev")
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "/v2", cfg.BasePath())
	assert.Equal(t, int64(600), cfg.AccessTokenLifetime)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.True(t, cfg.RequireAuth)
}

func TestLoad_ResolvesRelativeDBPath(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DB_PATH", "data/oauthd.db")

	cfg, err := Load("dev")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.DBPath))
	assert.Equal(t, "oauthd.db", filepath.Base(cfg.DBPath))
}

func TestLoad_NegativeLifetime(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("REFRESH_TOKEN_LIFETIME", "-1")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFRESH_TOKEN_LIFETIME")
}

func TestLoad_NonNumericLifetime(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ACCESS_TOKEN_LIFETIME", "an hour")

	_, err := Load("dev")
	assert.Error(t, err)
}

func TestLoad_BadAPIVersion(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("API_VERSION", "latest")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_VERSION")
}

func TestLoad_BadLogLevel(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestLoad_RequireAuthNeedsScope(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("ADMIN_SCOPE", " ")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SCOPE")
}

func TestLoad_BadAuthUsers(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AUTH_USERS", "alice")

	_, err := Load("dev")
	assert.Error(t, err)
}

// --- APIMajor / BasePath ---

func TestAPIMajor(t *testing.T) {
	tests := []struct {
		version string
		want    int
	}{
		{"1.0.0", 1},
		{"v3.1", 3},
		{"10", 10},
		{" 2.0.0 ", 2},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := (&Config{APIVersion: tt.version}).APIMajor()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIMajor_Invalid(t *testing.T) {
	for _, v := range []string{"", "v", "x.1", "-1.0"} {
		_, err := (&Config{APIVersion: v}).APIMajor()
		assert.Error(t, err, v)
	}
}

// --- Lifetimes ---

func TestLifetimes_UnsetStaysNil(t *testing.T) {
	cfg := &Config{AccessTokenLifetime: 60}

	d := cfg.Lifetimes()
	require.NotNil(t, d.AccessToken)
	assert.Equal(t, int64(60), *d.AccessToken)
	assert.Nil(t, d.RefreshToken)
	assert.Nil(t, d.AuthorizationCode)
}

// --- ParseAuthUsers ---

func TestParseAuthUsers_Valid(t *testing.T) {
	cfg := &Config{AuthUsers: "alice:" + testHash + ":+255700000001, bob:" + testHash + ":+255700000002"}

	accounts, err := cfg.ParseAuthUsers()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, testHash, accounts[0].PasswordHash)
	assert.Equal(t, "+255700000001", accounts[0].Phone)
	assert.Equal(t, "bob", accounts[1].Username)
}

func TestParseAuthUsers_Empty(t *testing.T) {
	accounts, err := (&Config{}).ParseAuthUsers()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestParseAuthUsers_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing colon": "alice",
		"missing phone": "alice:" + testHash,
		"empty user":    ":" + testHash + ":+1",
		"empty phone":   "alice:" + testHash + ":",
		"duplicate":     "alice:" + testHash + ":+1,alice:" + testHash + ":+2",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := (&Config{AuthUsers: raw}).ParseAuthUsers()
			assert.Error(t, err)
		})
	}
}

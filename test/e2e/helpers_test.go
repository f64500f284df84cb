package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/oauthd/internal/identity"
	"github.com/alexjbarnes/oauthd/internal/lifetime"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/provider"
	"github.com/alexjbarnes/oauthd/internal/server"
	"github.com/alexjbarnes/oauthd/internal/state"
)

const (
	testUsername = "testuser"
	testPassword = "testpass"
	testPhone    = "+255700000099"
	testClientID = "e2e-test-client"
	testSecret   = "e2e-test-secret-value"
	redirectURI  = "http://127.0.0.1:19876/callback"
	adminScope   = "admin"
)

// harness holds the full e2e stack: a real HTTP server over the admin
// API and the provider a grant-flow engine would call, sharing one store.
type harness struct {
	URL      string
	Store    *state.State
	Provider *provider.Provider
	Client   *http.Client
	User     *models.User
	OAuth    *models.Client
}

// newHarness creates a temp database with one user and one client, wires
// the provider and router the way main does, and starts an httptest
// server with bearer protection enabled.
func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := state.LoadAt(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user := &models.User{Name: "Test User", Phone: testPhone}
	require.NoError(t, store.CreateUser(ctx, user))

	access, refresh, code := int64(3600), int64(1209600), int64(300)
	client := &models.Client{
		ID:     testClientID,
		Type:   models.ClientTypeWeb,
		Name:   "E2E",
		Secret: testSecret,
		Grants: []string{
			models.GrantAuthorizationCode,
			models.GrantRefreshToken,
			models.GrantClientCredentials,
			models.GrantPassword,
		},
		RedirectURIs:              []string{redirectURI},
		Scopes:                    []string{"read", "write", adminScope},
		Owner:                     user.ID,
		AccessTokenLifetime:       &access,
		RefreshTokenLifetime:      &refresh,
		AuthorizationCodeLifetime: &code,
	}
	require.NoError(t, store.CreateClient(ctx, client))

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	directory, err := identity.NewDirectory([]identity.Account{
		{Username: testUsername, PasswordHash: string(hash), Phone: testPhone},
	})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	policy := lifetime.NewPolicy(lifetime.Defaults{})

	prov := provider.New(provider.Config{
		Store:   store,
		Users:   directory,
		Policy:  policy,
		Logger:  logger,
		Metrics: m,
	})

	ts := httptest.NewServer(server.NewRouter(server.Config{
		Store:       store,
		Policy:      policy,
		Logger:      logger,
		Metrics:     m,
		Gatherer:    registry,
		BasePath:    "/v1",
		RequireAuth: true,
		AdminScope:  adminScope,
		Auth:        prov,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:      ts.URL,
		Store:    store,
		Provider: prov,
		Client:   ts.Client(),
		User:     user,
		OAuth:    client,
	}
}

// issue runs the provider side of a token grant for the given scope and
// returns the persisted grant.
func (h *harness) issue(t *testing.T, client *models.Client, user *models.User, scope string, withRefresh bool) *provider.Grant {
	t.Helper()
	ctx := context.Background()

	granted, ok := h.Provider.ValidateScope(ctx, user, client, scope)
	require.True(t, ok, "scope %q refused", scope)

	access, err := h.Provider.GenerateAccessToken(ctx, client, user, granted)
	require.NoError(t, err)

	g := provider.Grant{AccessToken: access, Scope: granted}
	if withRefresh {
		g.RefreshToken, err = h.Provider.GenerateRefreshToken(ctx, client, user, granted)
		require.NoError(t, err)
	}

	saved, err := h.Provider.SaveToken(ctx, g, client, user)
	require.NoError(t, err)

	return saved
}

// adminToken returns an access token carrying the admin scope.
func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	return h.issue(t, h.OAuth, h.User, adminScope, false).AccessToken
}

// do sends a JSON request with an optional bearer token.
func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// Package provider implements the callbacks a grant-flow engine uses to
// resolve clients and users, issue and persist credentials, retrieve and
// revoke them, and check scope.
package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/lifetime"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
)

//go:generate mockgen -source=provider.go -destination=mock_store_test.go -package=provider

// credentialBytes is the entropy of every generated credential.
const credentialBytes = 32

var (
	errClientNotFound     = fmt.Errorf("client: %w", apperrors.ErrNotFound)
	errUserNotFound       = fmt.Errorf("user: %w", apperrors.ErrNotFound)
	errCredentialNotFound = fmt.Errorf("credential: %w", apperrors.ErrNotFound)

	// dummySecret is compared against when the client id is unknown.
	dummySecret = sha256.Sum256([]byte("\x00invalid"))
)

// Store is the persistence the provider needs.
type Store interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetTokenByValue(ctx context.Context, value string) (*models.Token, error)
	CreateTokens(ctx context.Context, tokens ...*models.Token) error
	RevokeToken(ctx context.Context, id string, at time.Time) (bool, error)
}

// Authenticator verifies a username and password and returns the phone
// number of the user the account belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// Grant is an access token with its optional refresh token.
type Grant struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Scope                 string
	Client                *models.Client
	User                  *models.User
}

// AuthorizationCode is a short-lived code bound to a redirect URI.
type AuthorizationCode struct {
	Code        string
	ExpiresAt   time.Time
	RedirectURI string
	Scope       string
	Client      *models.Client
	User        *models.User
}

// Config holds the dependencies for New.
type Config struct {
	Store   Store
	Users   Authenticator
	Policy  lifetime.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now and Random default to time.Now and crypto/rand.
	Now    func() time.Time
	Random io.Reader
}

// Provider implements the callback contract on top of a Store.
type Provider struct {
	store   Store
	users   Authenticator
	policy  lifetime.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	random  io.Reader
}

// New creates a Provider.
func New(cfg Config) *Provider {
	p := &Provider{
		store:   cfg.Store,
		users:   cfg.Users,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		random:  cfg.Random,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.random == nil {
		p.random = rand.Reader
	}

	return p
}

// --- Resolution ---

// GetClient resolves a client by id. When secret is non-empty it must
// match the stored secret. An unknown id and a wrong secret return the
// same error.
func (p *Provider) GetClient(ctx context.Context, id, secret string) (*models.Client, error) {
	c, err := p.store.GetClient(ctx, id)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("resolving client: %w", err)
	}

	if secret == "" {
		if c == nil {
			return nil, errClientNotFound
		}
		return c, nil
	}

	// Both sides are hashed so the comparison does not leak secret length.
	expected := dummySecret
	if c != nil {
		expected = sha256.Sum256([]byte(c.Secret))
	}
	given := sha256.Sum256([]byte(secret))

	if subtle.ConstantTimeCompare(expected[:], given[:]) != 1 || c == nil {
		p.logger.Debug("client authentication failed", slog.String("client_id", id))
		return nil, errClientNotFound
	}

	return c, nil
}

// GetUser verifies the password through the Authenticator and returns the
// matching User record.
func (p *Provider) GetUser(ctx context.Context, username, password string) (*models.User, error) {
	phone, err := p.users.Authenticate(ctx, username, password)
	if err != nil {
		p.logger.Warn("user authentication failed", slog.String("username", username))
		return nil, err
	}

	u, err := p.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, apperrors.ErrNotFound) {
		p.logger.Warn("authenticated account has no user record",
			slog.String("username", username),
		)
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	return u, nil
}

// GetUserFromClient returns the user a client acts for in the
// client-credentials grant.
func (p *Provider) GetUserFromClient(ctx context.Context, client *models.Client) (*models.User, error) {
	if client == nil || client.Owner == "" {
		return nil, errUserNotFound
	}

	u, err := p.store.GetUser(ctx, client.Owner)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving client owner: %w", err)
	}

	return u, nil
}

// --- Issuance ---

// GenerateAccessToken returns a fresh access token value.
func (p *Provider) GenerateAccessToken(_ context.Context, _ *models.Client, _ *models.User, _ string) (string, error) {
	return p.generate(models.TokenTypeAccess)
}

// GenerateRefreshToken returns a fresh refresh token value.
func (p *Provider) GenerateRefreshToken(_ context.Context, _ *models.Client, _ *models.User, _ string) (string, error) {
	return p.generate(models.TokenTypeRefresh)
}

// GenerateAuthorizationCode returns a fresh authorization code value.
func (p *Provider) GenerateAuthorizationCode(_ context.Context, _ *models.Client, _ *models.User, _ string) (string, error) {
	return p.generate(models.TokenTypeAuthorizationCode)
}

func (p *Provider) generate(typ models.TokenType) (string, error) {
	b := make([]byte, credentialBytes)
	if _, err := io.ReadFull(p.random, b); err != nil {
		return "", fmt.Errorf("generating %s: %w", typ, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// --- Persistence ---

// SaveToken stores the access token and, when present, the refresh token
// in one transaction. Zero expiries are filled in from the lifetime
// policy. The returned Grant carries the resolved client and user.
func (p *Provider) SaveToken(ctx context.Context, g Grant, client *models.Client, user *models.User) (*Grant, error) {
	if client == nil {
		return nil, apperrors.NewValidationError("client", "is required")
	}
	if g.AccessToken == "" {
		return nil, apperrors.NewValidationError("accessToken", "is required")
	}

	now := p.now()
	if g.AccessTokenExpiresAt.IsZero() {
		g.AccessTokenExpiresAt = p.policy.ExpiresAt(models.TokenTypeAccess, client, now)
	}

	tokens := []*models.Token{{
		Type:      models.TokenTypeAccess,
		Token:     g.AccessToken,
		Scope:     g.Scope,
		Client:    client.ID,
		User:      userID(user),
		ExpiredAt: g.AccessTokenExpiresAt.UTC(),
	}}

	if g.RefreshToken != "" {
		if g.RefreshTokenExpiresAt.IsZero() {
			g.RefreshTokenExpiresAt = p.policy.ExpiresAt(models.TokenTypeRefresh, client, now)
		}
		tokens = append(tokens, &models.Token{
			Type:      models.TokenTypeRefresh,
			Token:     g.RefreshToken,
			Scope:     g.Scope,
			Client:    client.ID,
			User:      userID(user),
			ExpiredAt: g.RefreshTokenExpiresAt.UTC(),
		})
	}

	if err := p.store.CreateTokens(ctx, tokens...); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}

	for _, t := range tokens {
		p.metrics.TokenIssued(string(t.Type))
	}
	p.logger.Info("token issued",
		slog.String("client_id", client.ID),
		slog.String("user_id", userID(user)),
		slog.Bool("refresh", g.RefreshToken != ""),
	)

	g.Client = client
	g.User = user

	return &g, nil
}

// SaveAuthorizationCode stores an authorization code. The redirect URI
// must exactly match one registered on the client.
func (p *Provider) SaveAuthorizationCode(ctx context.Context, code AuthorizationCode, client *models.Client, user *models.User) (*AuthorizationCode, error) {
	if client == nil {
		return nil, apperrors.NewValidationError("client", "is required")
	}

	verr := &apperrors.ValidationError{}
	if code.Code == "" {
		verr.Add("authorizationCode", "is required")
	}
	switch {
	case code.RedirectURI == "":
		verr.Add("redirectUri", "is required")
	case !client.AllowsRedirectURI(code.RedirectURI):
		verr.Add("redirectUri", "is not registered for this client")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = p.policy.ExpiresAt(models.TokenTypeAuthorizationCode, client, p.now())
	}

	t := &models.Token{
		Type:        models.TokenTypeAuthorizationCode,
		Token:       code.Code,
		Scope:       code.Scope,
		Client:      client.ID,
		User:        userID(user),
		RedirectURI: code.RedirectURI,
		ExpiredAt:   code.ExpiresAt.UTC(),
	}
	if err := p.store.CreateTokens(ctx, t); err != nil {
		return nil, fmt.Errorf("saving authorization code: %w", err)
	}

	p.metrics.TokenIssued(string(t.Type))
	p.logger.Info("authorization code issued", slog.String("client_id", client.ID))

	code.Client = client
	code.User = user

	return &code, nil
}

// --- Retrieval ---

// GetAccessToken returns the unexpired, unrevoked access token with the
// given value.
func (p *Provider) GetAccessToken(ctx context.Context, value string) (*Grant, error) {
	t, client, user, err := p.lookup(ctx, models.TokenTypeAccess, value)
	if err != nil {
		return nil, err
	}

	return &Grant{
		AccessToken:          t.Token,
		AccessTokenExpiresAt: t.ExpiredAt,
		Scope:                t.Scope,
		Client:               client,
		User:                 user,
	}, nil
}

// GetRefreshToken returns the unexpired, unrevoked refresh token with the
// given value.
func (p *Provider) GetRefreshToken(ctx context.Context, value string) (*Grant, error) {
	t, client, user, err := p.lookup(ctx, models.TokenTypeRefresh, value)
	if err != nil {
		return nil, err
	}

	return &Grant{
		RefreshToken:          t.Token,
		RefreshTokenExpiresAt: t.ExpiredAt,
		Scope:                 t.Scope,
		Client:                client,
		User:                  user,
	}, nil
}

// GetAuthorizationCode returns the unexpired, unrevoked authorization code
// with the given value.
func (p *Provider) GetAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error) {
	t, client, user, err := p.lookup(ctx, models.TokenTypeAuthorizationCode, value)
	if err != nil {
		return nil, err
	}

	return &AuthorizationCode{
		Code:        t.Token,
		ExpiresAt:   t.ExpiredAt,
		RedirectURI: t.RedirectURI,
		Scope:       t.Scope,
		Client:      client,
		User:        user,
	}, nil
}

// lookup finds a valid credential of the given type and resolves its
// client and user. Missing, mistyped, expired and revoked credentials all
// return the same not found error.
func (p *Provider) lookup(ctx context.Context, typ models.TokenType, value string) (*models.Token, *models.Client, *models.User, error) {
	if value == "" {
		return nil, nil, nil, errCredentialNotFound
	}

	t, err := p.findValid(ctx, typ, value)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := p.store.GetClient(ctx, t.Client)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, nil, errCredentialNotFound
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolving %s client: %w", typ, err)
	}

	var user *models.User
	if t.User != "" {
		user, err = p.store.GetUser(ctx, t.User)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, nil, errCredentialNotFound
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolving %s user: %w", typ, err)
		}
	}

	return t, client, user, nil
}

// findValid returns the stored token when it has the wanted type and is
// still valid.
func (p *Provider) findValid(ctx context.Context, typ models.TokenType, value string) (*models.Token, error) {
	t, err := p.store.GetTokenByValue(ctx, value)
	if errors.Is(err, apperrors.ErrNotFound) {
		p.metrics.TokenLookup(string(typ), false)
		return nil, errCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", typ, err)
	}

	if t.Type != typ || !t.Valid(p.now()) {
		p.metrics.TokenLookup(string(typ), false)
		p.logger.Debug("credential rejected",
			slog.String("token_id", t.ID),
			slog.String("want", string(typ)),
			slog.String("type", string(t.Type)),
			slog.Bool("revoked", t.Revoked()),
		)
		return nil, errCredentialNotFound
	}

	p.metrics.TokenLookup(string(typ), true)

	return t, nil
}

// --- Revocation ---

// RevokeToken invalidates an access or refresh token. It reports true only
// when a valid token was invalidated by this call; revoking twice returns
// false the second time.
func (p *Provider) RevokeToken(ctx context.Context, value string) (bool, error) {
	t, err := p.store.GetTokenByValue(ctx, value)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	if t.Type == models.TokenTypeAuthorizationCode {
		return false, nil
	}

	return p.revoke(ctx, t)
}

// RevokeAuthorizationCode invalidates an authorization code so it cannot
// be exchanged again.
func (p *Provider) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	t, err := p.store.GetTokenByValue(ctx, code)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoking authorization code: %w", err)
	}
	if t.Type != models.TokenTypeAuthorizationCode {
		return false, nil
	}

	return p.revoke(ctx, t)
}

func (p *Provider) revoke(ctx context.Context, t *models.Token) (bool, error) {
	ok, err := p.store.RevokeToken(ctx, t.ID, p.now())
	if err != nil {
		return false, fmt.Errorf("revoking %s: %w", t.Type, err)
	}

	if ok {
		p.metrics.TokenRevoked(string(t.Type))
		p.logger.Info("credential revoked",
			slog.String("token_id", t.ID),
			slog.String("type", string(t.Type)),
			slog.String("client_id", t.Client),
		)
	}

	return ok, nil
}

// --- Scope ---

// ValidateScope decides the scope to grant. An empty request grants the
// client's allowed scopes. Otherwise every requested scope must be allowed
// or the whole request is refused. A client with no allowed scopes is
// unrestricted.
func (p *Provider) ValidateScope(_ context.Context, _ *models.User, client *models.Client, scope string) (string, bool) {
	if client == nil {
		return "", false
	}

	requested := uniqueFields(scope)
	if len(requested) == 0 {
		return strings.Join(client.Scopes, " "), true
	}
	if len(client.Scopes) == 0 {
		return strings.Join(requested, " "), true
	}

	allowed := make(map[string]bool, len(client.Scopes))
	for _, s := range client.Scopes {
		allowed[s] = true
	}

	for _, s := range requested {
		if !allowed[s] {
			return "", false
		}
	}

	return strings.Join(requested, " "), true
}

// VerifyScope reports whether the token's scope contains every scope in
// required.
func (p *Provider) VerifyScope(token *Grant, required string) bool {
	if token == nil {
		return false
	}

	return HasScopes(token.Scope, required)
}

// HasScopes reports whether the space-delimited granted set contains every
// member of required. An empty required set is always satisfied.
func HasScopes(granted, required string) bool {
	have := make(map[string]bool)
	for _, s := range strings.Fields(granted) {
		have[s] = true
	}

	for _, s := range strings.Fields(required) {
		if !have[s] {
			return false
		}
	}

	return true
}

// ValidateRedirectURI reports whether uri exactly matches one of the
// client's registered redirect URIs.
func (p *Provider) ValidateRedirectURI(uri string, client *models.Client) bool {
	return client != nil && client.AllowsRedirectURI(uri)
}

func uniqueFields(s string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, f := range strings.Fields(s) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	return out
}

func userID(u *models.User) string {
	if u == nil {
		return ""
	}

	return u.ID
}

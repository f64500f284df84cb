// Package lifetime resolves how long an issued credential stays valid.
//
// Resolution is three-tier: the client's own override, then the process
// configured default for the token type, then a hard-coded fallback.
package lifetime

import (
	"time"

	"github.com/alexjbarnes/oauthd/internal/models"
)

// Hard-coded fallbacks, in seconds.
const (
	FallbackAccessToken       int64 = 60 * 60           // 1 hour
	FallbackRefreshToken      int64 = 60 * 60 * 24 * 14 // 2 weeks
	FallbackAuthorizationCode int64 = 60 * 5            // 5 minutes
)

// Defaults are the process-wide configured lifetimes in seconds. A nil
// field means "not configured".
type Defaults struct {
	AccessToken       *int64
	RefreshToken      *int64
	AuthorizationCode *int64
}

// Policy resolves effective lifetimes. The zero value uses the fallbacks.
// It is read-only after construction and safe for concurrent use.
type Policy struct {
	defaults Defaults
}

// NewPolicy returns a policy over the configured defaults.
func NewPolicy(d Defaults) Policy {
	return Policy{defaults: d}
}

// Effective returns the lifetime in seconds for a token of type typ
// issued to c. c may be nil. Unknown types resolve to zero.
func (p Policy) Effective(typ models.TokenType, c *models.Client) int64 {
	if v, ok := clientOverride(typ, c); ok {
		return v
	}

	if v, ok := positive(p.configured(typ)); ok {
		return v
	}

	return fallback(typ)
}

// Duration is Effective as a time.Duration.
func (p Policy) Duration(typ models.TokenType, c *models.Client) time.Duration {
	return time.Duration(p.Effective(typ, c)) * time.Second
}

// ExpiresAt returns now plus the effective lifetime.
func (p Policy) ExpiresAt(typ models.TokenType, c *models.Client, now time.Time) time.Time {
	return now.Add(p.Duration(typ, c))
}

// ClientDefaults returns the lifetimes stamped onto new clients that do
// not set their own.
func (p Policy) ClientDefaults() models.ClientDefaults {
	return models.ClientDefaults{
		AccessTokenLifetime:       p.Effective(models.TokenTypeAccess, nil),
		RefreshTokenLifetime:      p.Effective(models.TokenTypeRefresh, nil),
		AuthorizationCodeLifetime: p.Effective(models.TokenTypeAuthorizationCode, nil),
	}
}

func (p Policy) configured(typ models.TokenType) *int64 {
	switch typ {
	case models.TokenTypeAccess:
		return p.defaults.AccessToken
	case models.TokenTypeRefresh:
		return p.defaults.RefreshToken
	case models.TokenTypeAuthorizationCode:
		return p.defaults.AuthorizationCode
	default:
		return nil
	}
}

func clientOverride(typ models.TokenType, c *models.Client) (int64, bool) {
	if c == nil {
		return 0, false
	}

	switch typ {
	case models.TokenTypeAccess:
		return positive(c.AccessTokenLifetime)
	case models.TokenTypeRefresh:
		return positive(c.RefreshTokenLifetime)
	case models.TokenTypeAuthorizationCode:
		return positive(c.AuthorizationCodeLifetime)
	default:
		return 0, false
	}
}

func fallback(typ models.TokenType) int64 {
	switch typ {
	case models.TokenTypeAccess:
		return FallbackAccessToken
	case models.TokenTypeRefresh:
		return FallbackRefreshToken
	case models.TokenTypeAuthorizationCode:
		return FallbackAuthorizationCode
	default:
		return 0
	}
}

func positive(v *int64) (int64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}

	return *v, true
}

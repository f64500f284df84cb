// Package models defines the persisted OAuth entities: clients, tokens
// and users. Entities are decoded from raw JSON so that defaults only
// apply to keys the caller left out.
package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ClientType is the agent category of a client application.
type ClientType string

const (
	ClientTypeDesktop ClientType = "desktop"
	ClientTypeAndroid ClientType = "android"
	ClientTypeIOS     ClientType = "ios"
	ClientTypeServer  ClientType = "server"
	ClientTypeWeb     ClientType = "web"
	ClientTypeOther   ClientType = "other"

	DefaultClientType = ClientTypeWeb
)

// ClientTypes lists every accepted client type.
var ClientTypes = []ClientType{
	ClientTypeDesktop,
	ClientTypeAndroid,
	ClientTypeIOS,
	ClientTypeServer,
	ClientTypeWeb,
	ClientTypeOther,
}

var clientTypeAliases = map[string]ClientType{
	"mobile-android": ClientTypeAndroid,
	"mobile-ios":     ClientTypeIOS,
}

// Grant types a client may be allowed to use.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// Client is an application allowed to request tokens on behalf of a user.
// Lifetime fields are in seconds; nil means "use the process default".
type Client struct {
	ID                        string     `json:"id"`
	Type                      ClientType `json:"type" validate:"required,oneof=desktop android ios server web other"`
	Name                      string     `json:"name" validate:"required"`
	Secret                    string     `json:"secret" validate:"required"`
	Grants                    []string   `json:"grants" validate:"dive,required"`
	RedirectURIs              []string   `json:"redirectUris" validate:"dive,url"`
	Scopes                    []string   `json:"scopes" validate:"dive,required"`
	Owner                     string     `json:"owner,omitempty"`
	AccessTokenLifetime       *int64     `json:"accessTokenLifetime" validate:"omitnil,gt=0"`
	RefreshTokenLifetime      *int64     `json:"refreshTokenLifetime" validate:"omitnil,gt=0"`
	AuthorizationCodeLifetime *int64     `json:"authorizationCodeLifetime" validate:"omitnil,gt=0"`
	CreatedAt                 time.Time  `json:"createdAt"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// ClientDefaults holds the lifetimes stamped onto a client whose body
// omits them.
type ClientDefaults struct {
	AccessTokenLifetime       int64
	RefreshTokenLifetime      int64
	AuthorizationCodeLifetime int64
}

// DecodeClient builds a client from a JSON object. Keys missing from raw
// take their defaults; keys present with empty values are kept as given
// and left to Validate.
func DecodeClient(raw []byte, d ClientDefaults) (*Client, error) {
	c := &Client{}
	has, err := decodeObject(raw, c)
	if err != nil {
		return nil, err
	}

	if !has("type") {
		c.Type = DefaultClientType
	}
	if !has("accessTokenLifetime") {
		c.AccessTokenLifetime = int64Ptr(d.AccessTokenLifetime)
	}
	if !has("refreshTokenLifetime") {
		c.RefreshTokenLifetime = int64Ptr(d.RefreshTokenLifetime)
	}
	if !has("authorizationCodeLifetime") {
		c.AuthorizationCodeLifetime = int64Ptr(d.AuthorizationCodeLifetime)
	}

	c.Normalize()

	return c, nil
}

// Normalize trims and canonicalises user supplied fields. Set-valued
// fields are de-duplicated and never nil.
func (c *Client) Normalize() {
	t := strings.ToLower(strings.TrimSpace(string(c.Type)))
	if alias, ok := clientTypeAliases[t]; ok {
		c.Type = alias
	} else {
		c.Type = ClientType(t)
	}

	c.Name = norm.NFC.String(strings.TrimSpace(c.Name))
	c.Secret = strings.TrimSpace(c.Secret)
	c.Owner = strings.TrimSpace(c.Owner)
	c.Grants = normalizeSet(c.Grants)
	c.RedirectURIs = normalizeSet(c.RedirectURIs)
	c.Scopes = normalizeSet(c.Scopes)
}

// Validate reports every invalid field as an errors.ValidationError.
func (c *Client) Validate() error {
	return validateStruct(c)
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}

	return false
}

// HasGrant reports whether the client may use the given grant type.
func (c *Client) HasGrant(grant string) bool {
	for _, g := range c.Grants {
		if g == grant {
			return true
		}
	}

	return false
}

func int64Ptr(v int64) *int64 {
	return &v
}

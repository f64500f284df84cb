package models

import (
	"strings"
	"time"
)

// TokenType distinguishes the credentials stored in the token collection.
type TokenType string

const (
	TokenTypeAccess            TokenType = "access"
	TokenTypeRefresh           TokenType = "refresh"
	TokenTypeAuthorizationCode TokenType = "authorization_code"

	DefaultTokenType = TokenTypeAuthorizationCode
)

// TokenTypes lists every accepted token type.
var TokenTypes = []TokenType{
	TokenTypeAccess,
	TokenTypeRefresh,
	TokenTypeAuthorizationCode,
}

// Token is a single issued credential: an access token, a refresh token
// or an authorization code. Client and User hold ids.
type Token struct {
	ID          string     `json:"id"`
	Type        TokenType  `json:"type" validate:"required,oneof=access refresh authorization_code"`
	Token       string     `json:"token" validate:"required"`
	Scope       string     `json:"scope"`
	Client      string     `json:"client" validate:"required"`
	User        string     `json:"user,omitempty"`
	RedirectURI string     `json:"redirectUri,omitempty" validate:"omitempty,url"`
	ExpiredAt   time.Time  `json:"expiredAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DecodeToken builds a token from a JSON object, defaulting type when the
// key is absent.
func DecodeToken(raw []byte) (*Token, error) {
	t := &Token{}
	has, err := decodeObject(raw, t)
	if err != nil {
		return nil, err
	}

	if !has("type") {
		t.Type = DefaultTokenType
	}

	t.Normalize()

	return t, nil
}

// Normalize trims user supplied fields and canonicalises the type.
func (t *Token) Normalize() {
	typ := strings.ToLower(strings.TrimSpace(string(t.Type)))
	if typ == "authorization code" {
		typ = string(TokenTypeAuthorizationCode)
	}
	t.Type = TokenType(typ)

	t.Token = strings.TrimSpace(t.Token)
	t.Scope = strings.TrimSpace(t.Scope)
	t.Client = strings.TrimSpace(t.Client)
	t.User = strings.TrimSpace(t.User)
	t.RedirectURI = strings.TrimSpace(t.RedirectURI)
}

// Validate reports every invalid field as an errors.ValidationError.
func (t *Token) Validate() error {
	return validateStruct(t)
}

// Expired reports whether the token's expiry is at or before now.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiredAt.After(now)
}

// Revoked reports whether the token was explicitly invalidated.
func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}

// Valid reports whether the token can still be used at now.
func (t *Token) Valid(now time.Time) bool {
	return !t.Revoked() && !t.Expired(now)
}

// Scopes splits the space-delimited scope string.
func (t *Token) Scopes() []string {
	return strings.Fields(t.Scope)
}

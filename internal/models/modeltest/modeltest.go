// Package modeltest provides builders for valid entities in tests.
package modeltest

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alexjbarnes/oauthd/internal/models"
)

var seq atomic.Int64

// Client returns a valid web client with the default lifetimes. Mods are
// applied in order.
func Client(mods ...func(*models.Client)) *models.Client {
	access, refresh, code := int64(3600), int64(1209600), int64(300)
	c := &models.Client{
		Type:                      models.ClientTypeWeb,
		Name:                      fmt.Sprintf("Client %d", seq.Add(1)),
		Secret:                    uuid.NewString(),
		Grants:                    []string{models.GrantAuthorizationCode, models.GrantRefreshToken},
		RedirectURIs:              []string{"https://app.example.com/callback"},
		Scopes:                    []string{},
		AccessTokenLifetime:       &access,
		RefreshTokenLifetime:      &refresh,
		AuthorizationCodeLifetime: &code,
	}
	for _, mod := range mods {
		mod(c)
	}

	return c
}

// User returns a valid user with a unique phone number.
func User(mods ...func(*models.User)) *models.User {
	n := seq.Add(1)
	u := &models.User{
		Name:  fmt.Sprintf("User %d", n),
		Phone: fmt.Sprintf("+2557%08d", n),
	}
	for _, mod := range mods {
		mod(u)
	}

	return u
}

// Token returns a valid access token owned by clientID that expires in
// one hour.
func Token(clientID string, mods ...func(*models.Token)) *models.Token {
	t := &models.Token{
		Type:      models.TokenTypeAccess,
		Token:     uuid.NewString(),
		Scope:     "read",
		Client:    clientID,
		ExpiredAt: time.Now().Add(time.Hour),
	}
	for _, mod := range mods {
		mod(t)
	}

	return t
}

// Package identity verifies end-user passwords. Accounts are configured
// as username, bcrypt hash and the phone number of the User record the
// account signs in as.
package identity

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
)

// Account is one configured login.
type Account struct {
	Username     string
	PasswordHash string
	Phone        string
}

// Directory holds accounts keyed by username.
type Directory struct {
	accounts map[string]Account

	// dummyHash is compared against for unknown usernames so a miss
	// costs the same as a wrong password.
	dummyHash []byte
}

// NewDirectory builds a directory, rejecting duplicate usernames and
// values that are not bcrypt hashes.
func NewDirectory(accounts []Account) (*Directory, error) {
	d := &Directory{accounts: make(map[string]Account, len(accounts))}
	maxCost := bcrypt.MinCost
	if len(accounts) == 0 {
		maxCost = bcrypt.DefaultCost
	}

	for _, a := range accounts {
		a.Username = strings.TrimSpace(a.Username)
		a.Phone = strings.TrimSpace(a.Phone)

		if a.Username == "" {
			return nil, fmt.Errorf("account with empty username")
		}
		if a.Phone == "" {
			return nil, fmt.Errorf("account %q: phone is required", a.Username)
		}
		cost, err := bcrypt.Cost([]byte(a.PasswordHash))
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Username, err)
		}
		maxCost = max(maxCost, cost)
		if _, dup := d.accounts[a.Username]; dup {
			return nil, fmt.Errorf("duplicate account %q", a.Username)
		}

		d.accounts[a.Username] = a
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("\x00invalid"), maxCost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	d.dummyHash = dummy

	return d, nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	return len(d.accounts)
}

// Authenticate checks the password and returns the phone of the user the
// account maps to. Unknown usernames and wrong passwords both return
// ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}

	a, ok := d.accounts[strings.TrimSpace(username)]

	hash := d.dummyHash
	if ok {
		hash = []byte(a.PasswordHash)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !ok {
		return "", apperrors.ErrInvalidCredentials
	}

	return a.Phone, nil
}

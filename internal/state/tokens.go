package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
)

// TokenFilter narrows ListTokens. Zero fields match everything.
type TokenFilter struct {
	ClientID string
	UserID   string
	Type     models.TokenType
}

func (f TokenFilter) match(t *models.Token) bool {
	if f.ClientID != "" && t.Client != f.ClientID {
		return false
	}
	if f.UserID != "" && t.User != f.UserID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}

	return true
}

// CreateTokens validates and stores tokens in a single transaction:
// either every token is written or none is. Each token must reference an
// existing client (and user, when set) and carry a credential value not
// already stored.
func (s *State) CreateTokens(ctx context.Context, tokens ...*models.Token) error {
	for _, t := range tokens {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	now := s.now().UTC()
	for _, t := range tokens {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = now
		t.UpdatedAt = now
	}

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		idx := tx.Bucket(tokenValueIndex)

		for _, t := range tokens {
			if err := checkTokenRefs(tx, t); err != nil {
				return err
			}
			if b.Get([]byte(t.ID)) != nil {
				return fmt.Errorf("token %q: %w", t.ID, apperrors.ErrConflict)
			}

			key := tokenKeyHash(t.Token)
			if idx.Get(key) != nil {
				return fmt.Errorf("token value already issued: %w", apperrors.ErrConflict)
			}

			if err := idx.Put(key, []byte(t.ID)); err != nil {
				return err
			}
			if err := putDoc(b, t.ID, t); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetToken returns a token by id, whatever its validity.
func (s *State) GetToken(ctx context.Context, id string) (*models.Token, error) {
	var t *models.Token

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		t, err = getDoc[models.Token](tx.Bucket(tokensBucket), id)
		if err != nil {
			return err
		}
		if t == nil {
			return notFound("token", id)
		}

		return nil
	})

	return t, err
}

// GetTokenByValue returns the token holding the given credential string,
// whatever its validity. Callers enforce expiry and revocation.
func (s *State) GetTokenByValue(ctx context.Context, value string) (*models.Token, error) {
	var t *models.Token

	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(tokenValueIndex).Get(tokenKeyHash(value))
		if id == nil {
			return fmt.Errorf("token value: %w", apperrors.ErrNotFound)
		}

		var err error
		t, err = getDoc[models.Token](tx.Bucket(tokensBucket), string(id))
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("value index points at missing token %q", id)
		}

		return nil
	})

	return t, err
}

// ListTokens returns a page of tokens matching f, oldest first.
func (s *State) ListTokens(ctx context.Context, f TokenFilter, p Page) (List[models.Token], error) {
	var list List[models.Token]

	err := s.view(ctx, func(tx *bolt.Tx) error {
		docs, err := allDocs[models.Token](tx.Bucket(tokensBucket), f.match)
		if err != nil {
			return err
		}

		list = paginate(docs, p,
			func(t *models.Token) time.Time { return t.CreatedAt },
			func(t *models.Token) string { return t.ID })

		return nil
	})

	return list, err
}

// ReplaceToken overwrites an existing token, re-indexing its credential
// value when it changes.
func (s *State) ReplaceToken(ctx context.Context, t *models.Token) error {
	if err := t.Validate(); err != nil {
		return err
	}

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		idx := tx.Bucket(tokenValueIndex)

		existing, err := getDoc[models.Token](b, t.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("token", t.ID)
		}
		if err := checkTokenRefs(tx, t); err != nil {
			return err
		}

		if existing.Token != t.Token {
			key := tokenKeyHash(t.Token)
			if idx.Get(key) != nil {
				return fmt.Errorf("token value already issued: %w", apperrors.ErrConflict)
			}
			if err := idx.Delete(tokenKeyHash(existing.Token)); err != nil {
				return err
			}
			if err := idx.Put(key, []byte(t.ID)); err != nil {
				return err
			}
		}

		// Revocation is terminal.
		if existing.RevokedAt != nil {
			t.RevokedAt = existing.RevokedAt
		}

		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = s.now().UTC()

		return putDoc(b, t.ID, t)
	})
}

// DeleteToken removes a token and returns it.
func (s *State) DeleteToken(ctx context.Context, id string) (*models.Token, error) {
	var t *models.Token

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error
		t, err = getDoc[models.Token](tx.Bucket(tokensBucket), id)
		if err != nil {
			return err
		}
		if t == nil {
			return notFound("token", id)
		}

		return deleteToken(tx, t)
	})

	return t, err
}

// RevokeToken marks the token with the given id revoked at the given
// time. It reports false, without writing, when the token does not exist
// or is already expired or revoked.
func (s *State) RevokeToken(ctx context.Context, id string, at time.Time) (bool, error) {
	revoked := false

	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)

		t, err := getDoc[models.Token](b, id)
		if err != nil {
			return err
		}
		if t == nil || !t.Valid(at) {
			return nil
		}

		at = at.UTC()
		t.RevokedAt = &at
		t.UpdatedAt = s.now().UTC()
		if err := putDoc(b, t.ID, t); err != nil {
			return err
		}

		revoked = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return revoked, nil
}

// checkTokenRefs verifies the client and user a token points at exist.
func checkTokenRefs(tx *bolt.Tx, t *models.Token) error {
	if tx.Bucket(clientsBucket).Get([]byte(t.Client)) == nil {
		return apperrors.NewValidationError("client", "does not reference an existing client")
	}
	if t.User != "" && tx.Bucket(usersBucket).Get([]byte(t.User)) == nil {
		return apperrors.NewValidationError("user", "does not reference an existing user")
	}

	return nil
}

func deleteToken(tx *bolt.Tx, t *models.Token) error {
	if err := tx.Bucket(tokenValueIndex).Delete(tokenKeyHash(t.Token)); err != nil {
		return err
	}

	return tx.Bucket(tokensBucket).Delete([]byte(t.ID))
}

// deleteTokensWhere removes every token matching match. Matches are
// collected first because bbolt forbids mutating a bucket while
// iterating it.
func deleteTokensWhere(tx *bolt.Tx, match func(*models.Token) bool) error {
	docs, err := allDocs[models.Token](tx.Bucket(tokensBucket), match)
	if err != nil {
		return err
	}

	for i := range docs {
		if err := deleteToken(tx, &docs[i]); err != nil {
			return err
		}
	}

	return nil
}

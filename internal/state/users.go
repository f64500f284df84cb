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

// CreateUser validates and stores a new user. The phone number must not
// belong to another user; on conflict nothing is written.
func (s *State) CreateUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		idx := tx.Bucket(userPhoneIndex)

		if b.Get([]byte(u.ID)) != nil {
			return fmt.Errorf("user %q: %w", u.ID, apperrors.ErrConflict)
		}
		if idx.Get([]byte(u.Phone)) != nil {
			return phoneConflict()
		}

		if err := idx.Put([]byte(u.Phone), []byte(u.ID)); err != nil {
			return err
		}

		return putDoc(b, u.ID, u)
	})
}

// GetUser returns a user by id.
func (s *State) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u *models.User

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		u, err = getDoc[models.User](tx.Bucket(usersBucket), id)
		if err != nil {
			return err
		}
		if u == nil {
			return notFound("user", id)
		}

		return nil
	})

	return u, err
}

// GetUserByPhone returns the user registered with phone.
func (s *State) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u *models.User

	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(userPhoneIndex).Get([]byte(phone))
		if id == nil {
			return fmt.Errorf("user with phone: %w", apperrors.ErrNotFound)
		}

		var err error
		u, err = getDoc[models.User](tx.Bucket(usersBucket), string(id))
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("phone index points at missing user %q", id)
		}

		return nil
	})

	return u, err
}

// ListUsers returns a page of users, oldest first.
func (s *State) ListUsers(ctx context.Context, p Page) (List[models.User], error) {
	var list List[models.User]

	err := s.view(ctx, func(tx *bolt.Tx) error {
		docs, err := allDocs[models.User](tx.Bucket(usersBucket), nil)
		if err != nil {
			return err
		}

		list = paginate(docs, p,
			func(u *models.User) time.Time { return u.CreatedAt },
			func(u *models.User) string { return u.ID })

		return nil
	})

	return list, err
}

// ReplaceUser overwrites an existing user, moving the phone index entry
// when the phone changes.
func (s *State) ReplaceUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		idx := tx.Bucket(userPhoneIndex)

		existing, err := getDoc[models.User](b, u.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("user", u.ID)
		}

		if existing.Phone != u.Phone {
			if idx.Get([]byte(u.Phone)) != nil {
				return phoneConflict()
			}
			if err := idx.Delete([]byte(existing.Phone)); err != nil {
				return err
			}
			if err := idx.Put([]byte(u.Phone), []byte(u.ID)); err != nil {
				return err
			}
		}

		u.CreatedAt = existing.CreatedAt
		u.UpdatedAt = s.now().UTC()

		return putDoc(b, u.ID, u)
	})
}

// DeleteUser removes a user, its phone index entry and every token
// issued for it, returning the removed user.
func (s *State) DeleteUser(ctx context.Context, id string) (*models.User, error) {
	var u *models.User

	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)

		var err error
		u, err = getDoc[models.User](b, id)
		if err != nil {
			return err
		}
		if u == nil {
			return notFound("user", id)
		}

		if err := deleteTokensWhere(tx, func(t *models.Token) bool { return t.User == id }); err != nil {
			return err
		}
		if err := tx.Bucket(userPhoneIndex).Delete([]byte(u.Phone)); err != nil {
			return err
		}

		return b.Delete([]byte(id))
	})

	return u, err
}

func phoneConflict() error {
	return fmt.Errorf("phone already registered: %w", apperrors.ErrConflict)
}

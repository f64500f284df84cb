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

// CreateClient validates and stores a new client. An empty ID is
// assigned a fresh UUID; an ID already in use is a conflict.
func (s *State) CreateClient(ctx context.Context, c *models.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(clientsBucket)
		if b.Get([]byte(c.ID)) != nil {
			return fmt.Errorf("client %q: %w", c.ID, apperrors.ErrConflict)
		}

		return putDoc(b, c.ID, c)
	})
}

// GetClient returns a client by id.
func (s *State) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c *models.Client

	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		c, err = getDoc[models.Client](tx.Bucket(clientsBucket), id)
		if err != nil {
			return err
		}
		if c == nil {
			return notFound("client", id)
		}

		return nil
	})

	return c, err
}

// ListClients returns a page of clients, oldest first.
func (s *State) ListClients(ctx context.Context, p Page) (List[models.Client], error) {
	var list List[models.Client]

	err := s.view(ctx, func(tx *bolt.Tx) error {
		docs, err := allDocs[models.Client](tx.Bucket(clientsBucket), nil)
		if err != nil {
			return err
		}

		list = paginate(docs, p,
			func(c *models.Client) time.Time { return c.CreatedAt },
			func(c *models.Client) string { return c.ID })

		return nil
	})

	return list, err
}

// ReplaceClient overwrites an existing client. CreatedAt is preserved.
func (s *State) ReplaceClient(ctx context.Context, c *models.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(clientsBucket)

		existing, err := getDoc[models.Client](b, c.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("client", c.ID)
		}

		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = s.now().UTC()

		return putDoc(b, c.ID, c)
	})
}

// DeleteClient removes a client and every token it owns, returning the
// removed client.
func (s *State) DeleteClient(ctx context.Context, id string) (*models.Client, error) {
	var c *models.Client

	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(clientsBucket)

		var err error
		c, err = getDoc[models.Client](b, id)
		if err != nil {
			return err
		}
		if c == nil {
			return notFound("client", id)
		}

		if err := deleteTokensWhere(tx, func(t *models.Token) bool { return t.Client == id }); err != nil {
			return err
		}

		return b.Delete([]byte(id))
	})

	return c, err
}

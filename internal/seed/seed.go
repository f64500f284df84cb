// Package seed creates default clients and users from a YAML file at
// startup. Seeding is idempotent: entries that already exist are left
// untouched.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
)

// File is the seed document. Entries use the same field names as the
// HTTP API and are decoded with the same defaults.
//
//	clients:
//	  - id: web
//	    name: Web app
//	    secret: change-me
//	    redirectUris: [https://app.example.com/callback]
//	users:
//	  - name: Admin
//	    phone: "+255700000000"
type File struct {
	Clients []map[string]any `yaml:"clients"`
	Users   []map[string]any `yaml:"users"`
}

// Store is the persistence seeding needs.
type Store interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
	CreateClient(ctx context.Context, c *models.Client) error
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
}

// Result counts what Apply did.
type Result struct {
	ClientsCreated int
	ClientsSkipped int
	UsersCreated   int
	UsersSkipped   int
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	return Parse(data)
}

// Parse parses a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	return &f, nil
}

// Apply creates every user and client in f that does not exist yet. Users
// are matched by phone and clients by id, so seed clients must set one.
func Apply(ctx context.Context, store Store, f *File, defaults models.ClientDefaults, logger *slog.Logger) (Result, error) {
	var res Result

	for i, entry := range f.Users {
		u, err := decodeEntry(entry, models.DecodeUser)
		if err != nil {
			return res, fmt.Errorf("seed user %d: %w", i+1, err)
		}

		created, err := createUser(ctx, store, u)
		if err != nil {
			return res, fmt.Errorf("seed user %d: %w", i+1, err)
		}
		if created {
			res.UsersCreated++
			logger.Info("seeded user", slog.String("user_id", u.ID))
		} else {
			res.UsersSkipped++
		}
	}

	decodeClient := func(raw []byte) (*models.Client, error) {
		return models.DecodeClient(raw, defaults)
	}

	for i, entry := range f.Clients {
		c, err := decodeEntry(entry, decodeClient)
		if err != nil {
			return res, fmt.Errorf("seed client %d: %w", i+1, err)
		}
		if c.ID == "" {
			return res, fmt.Errorf("seed client %d: %w", i+1, apperrors.NewValidationError("id", "is required"))
		}

		created, err := createClient(ctx, store, c)
		if err != nil {
			return res, fmt.Errorf("seed client %q: %w", c.ID, err)
		}
		if created {
			res.ClientsCreated++
			logger.Info("seeded client", slog.String("client_id", c.ID), slog.String("name", c.Name))
		} else {
			res.ClientsSkipped++
		}
	}

	return res, nil
}

// decodeEntry routes a YAML mapping through the JSON decoder so seeded
// entities get the API's defaulting and normalisation.
func decodeEntry[T any](entry map[string]any, decode func([]byte) (*T, error)) (*T, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding entry: %w", err)
	}

	return decode(raw)
}

func createUser(ctx context.Context, store Store, u *models.User) (bool, error) {
	_, err := store.GetUserByPhone(ctx, u.Phone)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return false, err
	}

	err = store.CreateUser(ctx, u)
	if errors.Is(err, apperrors.ErrConflict) {
		return false, nil
	}

	return err == nil, err
}

func createClient(ctx context.Context, store Store, c *models.Client) (bool, error) {
	_, err := store.GetClient(ctx, c.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return false, err
	}

	err = store.CreateClient(ctx, c)
	if errors.Is(err, apperrors.ErrConflict) {
		return false, nil
	}

	return err == nil, err
}

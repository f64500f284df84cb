// Package state is the document store for clients, tokens and users. It
// keeps one bbolt bucket per collection with JSON encoded documents and
// secondary index buckets for the unique lookup keys.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
)

const (
	// stateDirPerm is the permission mode for the database directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt file lock.
	stateOpenTimeout = 5 * time.Second

	// MaxLimit caps the page size of list operations.
	MaxLimit = 100

	// DefaultLimit is used when a page does not set one.
	DefaultLimit = 10
)

var (
	clientsBucket = []byte("clients")
	tokensBucket  = []byte("tokens")
	usersBucket   = []byte("users")

	// tokenValueIndex maps sha256(token) to the token document id.
	tokenValueIndex = []byte("tokens_by_value")

	// userPhoneIndex maps a phone number to the user document id.
	userPhoneIndex = []byte("users_by_phone")
)

// tokenKeyHash returns the SHA-256 hex digest of a credential so raw
// credentials are never used as index keys.
func tokenKeyHash(token string) []byte {
	h := sha256.Sum256([]byte(token))
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])

	return dst
}

// Page selects a window of a sorted collection.
type Page struct {
	Skip  int
	Limit int
}

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	return p
}

// List is one page of documents and the size of the whole result set.
type List[T any] struct {
	Items []T
	Total int
	Page  Page
}

// State wraps a bbolt database holding every collection.
type State struct {
	db  *bolt.DB
	now func() time.Time
}

// Load opens the database at ~/.oauthd/oauthd.db, creating it if it does
// not exist.
func Load() (*State, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a database at the given path, creating it and every
// collection bucket if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{clientsBucket, tokensBucket, usersBucket, tokenValueIndex, userPhoneIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Ping checks that a read transaction can be opened within ctx.
func (s *State) Ping(ctx context.Context) error {
	return s.view(ctx, func(*bolt.Tx) error { return nil })
}

// view runs fn in a read transaction bounded by ctx.
func (s *State) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	return s.run(ctx, nil, func() error {
		return s.db.View(fn)
	})
}

// update runs fn in a write transaction bounded by ctx. The context is
// checked on entry and again before commit so a write either lands and
// reports success or rolls back and reports ErrTimeout.
func (s *State) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	var began atomic.Bool

	return s.run(ctx, &began, func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			began.Store(true)

			if err := ctx.Err(); err != nil {
				return err
			}

			if err := fn(tx); err != nil {
				return err
			}

			return ctx.Err()
		})
	})
}

// run executes op, returning early with ErrTimeout when ctx is done
// first. bbolt transactions cannot be interrupted, so an abandoned op
// keeps running in the background. When began is set the transaction
// already holds the writer lock and may commit, so run waits for its
// real outcome instead of giving up.
func (s *State) run(ctx context.Context, began *atomic.Bool, op func() error) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- op()
	}()

	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		// ctx is already done here, so a transaction that starts after
		// this load fails its entry check and never commits.
		if began != nil && began.Load() {
			return classify(<-done)
		}

		return classify(ctx.Err())
	}
}

// classify maps raw errors onto the taxonomy. Errors that already carry
// a caller-facing kind pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrValidation):
		return err
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}
}

func getDoc[T any](b *bolt.Bucket, id string) (*T, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, nil
	}

	var doc T
	if err := json.Unmarshal(v, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}

	return &doc, nil
}

func putDoc(b *bolt.Bucket, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	return b.Put([]byte(id), data)
}

func allDocs[T any](b *bolt.Bucket, keep func(*T) bool) ([]T, error) {
	var docs []T

	err := b.ForEach(func(k, v []byte) error {
		var doc T
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("decoding %s: %w", k, err)
		}

		if keep == nil || keep(&doc) {
			docs = append(docs, doc)
		}

		return nil
	})

	return docs, err
}

// paginate sorts docs oldest first (ties broken by id) and cuts out the
// requested page.
func paginate[T any](docs []T, p Page, created func(*T) time.Time, id func(*T) string) List[T] {
	p = p.Normalize()

	sort.SliceStable(docs, func(i, j int) bool {
		ci, cj := created(&docs[i]), created(&docs[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}

		return id(&docs[i]) < id(&docs[j])
	})

	total := len(docs)
	start := min(p.Skip, total)
	end := min(start+p.Limit, total)

	items := make([]T, end-start)
	copy(items, docs[start:end])

	return List[T]{Items: items, Total: total, Page: p}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, apperrors.ErrNotFound)
}

func dbPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".oauthd", "oauthd.db"), nil
}

// Package store persists registered calendars and their OAuth tokens in a
// bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/oauth2"

	"calsync/internal/model"
)

var (
	calendarsBucket = []byte("calendars")
	tokensBucket    = []byte("tokens")
)

// ErrNotFound is returned when a calendar or token does not exist.
var ErrNotFound = errors.New("not found")

// Store is the calendar registry and credential store. It is safe for
// concurrent use.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{calendarsBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("unable to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// List returns every registered calendar ordered by id.
func (s *Store) List() ([]model.Calendar, error) {
	out := make([]model.Calendar, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(calendarsBucket).ForEach(func(k, v []byte) error {
			var cal model.Calendar
			if err := json.Unmarshal(v, &cal); err != nil {
				return fmt.Errorf("decode calendar %s: %w", k, err)
			}
			out = append(out, cal)
			return nil
		})
	})
	return out, err
}

// Get returns the calendar registered under id.
func (s *Store) Get(id string) (model.Calendar, error) {
	var cal model.Calendar
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(calendarsBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("calendar %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(raw, &cal)
	})
	return cal, err
}

// Put registers or updates cal. CreatedAt is stamped on first insert.
func (s *Store) Put(cal model.Calendar) error {
	if cal.ID == "" {
		return errors.New("calendar id is empty")
	}
	if cal.CreatedAt.IsZero() {
		cal.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(cal)
	if err != nil {
		return fmt.Errorf("could not marshal calendar: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(calendarsBucket).Put([]byte(cal.ID), raw)
	})
}

// Delete unregisters id and drops its token.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(calendarsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("calendar %s: %w", id, ErrNotFound)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(tokensBucket).Delete([]byte(id))
	})
}

// PutToken stores the OAuth token for calendar id.
func (s *Store) PutToken(id string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("could not marshal token: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(id), raw)
	})
}

// Token returns the stored OAuth token for calendar id.
func (s *Store) Token(id string) (*oauth2.Token, error) {
	var tok oauth2.Token
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(tokensBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("token %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(raw, &tok)
	})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

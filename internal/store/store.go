// Package store implements the durable record store backing the entity
// services: JSON documents in named collections, keyed by generated
// identifiers, persisted in a single bbolt file per service.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record identifier has no entry in the
// collection.
var ErrNotFound = errors.New("record not found")

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// Store is a document store over a bbolt file. One bucket per collection,
// values are the records' JSON encodings. bbolt serializes writers, so the
// store is safe for concurrent request handlers.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store file and ensures every named collection
// exists.
func Open(path string, collections ...string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create collection %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a record under id, creating or replacing it.
func (s *Store) Put(collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		return b.Put([]byte(id), raw)
	})
}

// Get decodes the record stored under id into out.
func (s *Store) Get(collection, id string, out any) error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		if v := b.Get([]byte(id)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// Has reports whether a record exists under id.
func (s *Store) Has(collection, id string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		found = b.Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Delete removes the record under id, or returns ErrNotFound.
func (s *Store) Delete(collection, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// All returns the raw JSON of every record in the collection.
func (s *Store) All(collection string) ([]json.RawMessage, error) {
	return s.Find(collection, func([]byte) bool { return true })
}

// Find returns the raw JSON of every record the match function keeps.
func (s *Store) Find(collection string, match func(raw []byte) bool) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		return b.ForEach(func(k, v []byte) error {
			if match(v) {
				out = append(out, append(json.RawMessage(nil), v...))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(collection string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("unknown collection %q", collection)
		}
		return b.ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Search returns records whose named top-level string fields contain the
// query, case-insensitively.
func (s *Store) Search(collection, query string, fields ...string) ([]json.RawMessage, error) {
	needle := strings.ToLower(query)
	return s.Find(collection, func(raw []byte) bool {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return false
		}
		for _, field := range fields {
			if v, ok := doc[field].(string); ok && strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	})
}

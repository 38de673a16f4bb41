package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket = []byte("sessions")
	historyBucket  = []byte("history")
	importsBucket  = []byte("imports")
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the bbolt database at dbPath. A zero timeout
// waits one second for the file lock.
func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{sessionsBucket, historyBucket, importsBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession stores an opaque serialized auth session under key.
func (s *Store) SaveSession(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(key), data)
	})
}

// LoadSession returns a copy of the bytes stored under key, or ErrNotFound.
func (s *Store) LoadSession(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// DeleteSession removes key. Deleting a missing key is not an error.
func (s *Store) DeleteSession(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(key))
	})
}

func historyKey(userID, query string) []byte {
	return []byte(userID + "\x00" + strings.ToLower(strings.TrimSpace(query)))
}

// RecordQuery adds a query to the user's history. Repeating a query
// (case-insensitively) replaces the earlier entry.
func (s *Store) RecordQuery(rec QueryRecord) error {
	rec.Query = strings.TrimSpace(rec.Query)
	if rec.Query == "" {
		return fmt.Errorf("empty query")
	}
	if rec.SearchedAt.IsZero() {
		rec.SearchedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(historyBucket).Put(historyKey(rec.UserID, rec.Query), data)
	})
}

// RecentQueries returns the user's history, newest first.
func (s *Store) RecentQueries(userID string, limit int) ([]QueryRecord, error) {
	var records []QueryRecord
	prefix := []byte(userID + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(historyBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rec QueryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].SearchedAt.After(records[j].SearchedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, err
}

// PruneHistory keeps only the newest keep entries for the user.
func (s *Store) PruneHistory(userID string, keep int) error {
	records, err := s.RecentQueries(userID, 0)
	if err != nil {
		return err
	}
	if keep < 0 || len(records) <= keep {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)
		for _, rec := range records[keep:] {
			if err := b.Delete(historyKey(userID, rec.Query)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveImport records a finished import for the user.
func (s *Store) SaveImport(rec ImportRecord) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(importsBucket).Put([]byte(rec.UserID), data)
	})
}

// LastImport returns the user's last recorded import, or ErrNotFound.
func (s *Store) LastImport(userID string) (*ImportRecord, error) {
	var rec ImportRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(importsBucket).Get([]byte(userID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

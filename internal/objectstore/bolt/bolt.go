// Package bolt implements objectstore.Store on a local bbolt file via
// asdine/storm for indexed key listing.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/asdine/storm/v3"
	bboltpkg "go.etcd.io/bbolt"

	"github.com/gofer-hq/gofer/internal/objectstore"
)

const rootBucket = "objects"

type Store struct {
	db *storm.DB
}

func New(path string) (*Store, error) {
	db, err := storm.Open(path, storm.BoltOptions(0o600, &bboltpkg.Options{Timeout: time.Second}))
	if err != nil {
		return nil, fmt.Errorf("%w: opening bolt objectstore: %v", objectstore.ErrInternal, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	if err := s.db.Get(rootBucket, key, &value); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", objectstore.ErrInternal, err)
	}
	return value, nil
}

func (s *Store) Put(key string, content []byte) error {
	if err := s.db.Set(rootBucket, key, content); err != nil {
		return fmt.Errorf("%w: %v", objectstore.ErrInternal, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if err := s.db.Delete(rootBucket, key); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return objectstore.ErrNotFound
		}
		return fmt.Errorf("%w: %v", objectstore.ErrInternal, err)
	}
	return nil
}

func (s *Store) ListKeys(prefix string) ([]string, error) {
	var keys []string

	err := s.db.Bolt.View(func(tx *bboltpkg.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", objectstore.ErrInternal, err)
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Package bolt implements secretstore.Store on a local bbolt file via
// asdine/storm, encrypting values at rest with AES-GCM. Grounded on the
// teacher's internal/secretStore/bolt package.
package bolt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asdine/storm/v3"
	bboltpkg "go.etcd.io/bbolt"

	"github.com/gofer-hq/gofer/internal/secretstore"
)

const rootBucket = "secrets"

type Store struct {
	encryptionKey []byte
	db            *storm.DB
}

// New opens a bolt-backed secret store encrypting values with key, which
// must be exactly 16, 24, or 32 bytes (AES-128/192/256).
func New(path string, key []byte) (*Store, error) {
	if err := validateKeySize(len(key)); err != nil {
		return nil, err
	}

	db, err := storm.Open(path, storm.BoltOptions(0o600, &bboltpkg.Options{Timeout: time.Second}))
	if err != nil {
		return nil, fmt.Errorf("%w: opening bolt secretstore: %v", secretstore.ErrInternal, err)
	}

	return &Store{encryptionKey: key, db: db}, nil
}

func validateKeySize(n int) error {
	switch n {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: encryption key must be 16, 24 or 32 bytes, got %d", secretstore.ErrInternal, n)
	}
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("secretstore: ciphertext shorter than nonce")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *Store) Get(key string) (string, error) {
	var stored []byte
	if err := s.db.Get(rootBucket, key, &stored); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return "", secretstore.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
	}

	plaintext, err := decrypt(s.encryptionKey, stored)
	if err != nil {
		return "", fmt.Errorf("%w: decrypting secret: %v", secretstore.ErrInternal, err)
	}

	return string(plaintext), nil
}

func (s *Store) Put(key, content string, force bool) error {
	ciphertext, err := encrypt(s.encryptionKey, []byte(content))
	if err != nil {
		return fmt.Errorf("%w: encrypting secret: %v", secretstore.ErrInternal, err)
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
	}
	defer tx.Rollback() //nolint:errcheck

	exists, err := tx.KeyExists(rootBucket, key)
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
	}

	if exists && !force {
		return secretstore.ErrExists
	}

	if err := tx.Set(rootBucket, key, ciphertext); err != nil {
		return fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
	}

	return tx.Commit()
}

func (s *Store) Delete(key string) error {
	if err := s.db.Delete(rootBucket, key); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return secretstore.ErrNotFound
		}
		return fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
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
		return nil, fmt.Errorf("%w: %v", secretstore.ErrInternal, err)
	}

	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

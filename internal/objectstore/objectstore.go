// Package objectstore defines the key/value Object Store port (part of C2):
// raw byte values for pipeline- and run-scoped objects. Metadata (ownership,
// retention, scope) lives in the Persistence Port; only the bytes live here.
package objectstore

import "errors"

var (
	ErrNotFound = errors.New("objectstore: key not found")
	ErrInternal = errors.New("objectstore: internal error")
)

type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, content []byte) error
	Delete(key string) error
	ListKeys(prefix string) ([]string, error)
	Close() error
}

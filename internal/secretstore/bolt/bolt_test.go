package bolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/gofer-hq/gofer/internal/secretstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.db")
	s, err := New(path, []byte("0123456789abcdef0123456789abcdef"[:32]))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTripIsEncryptedAtRest(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("ns/db_password", "hunter2", false); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("ns/db_password")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("expected hunter2, got %q", got)
	}

	var raw []byte
	if err := s.db.Get(rootBucket, "ns/db_password", &raw); err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if string(raw) == "hunter2" {
		t.Fatalf("secret stored in plaintext")
	}
}

func TestPutWithoutForceRejectsExisting(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("k", "v1", false); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := s.Put("k", "v2", false); !errors.Is(err, secretstore.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := s.Put("k", "v2", true); err != nil {
		t.Fatalf("forced put: %v", err)
	}

	got, err := s.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v2" {
		t.Fatalf("expected v2 after forced overwrite, got %q", got)
	}
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	if err := s.Delete("missing"); !errors.Is(err, secretstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewRejectsBadKeySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.db")
	if _, err := New(path, []byte("too-short")); err == nil {
		t.Fatal("expected error for invalid key size")
	}
}

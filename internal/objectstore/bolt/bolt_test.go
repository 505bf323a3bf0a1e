package bolt

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/gofer-hq/gofer/internal/objectstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objects.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("ns/pl/foo", []byte("bar")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("ns/pl/foo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "bar" {
		t.Fatalf("expected bar, got %q", got)
	}

	if err := s.Delete("ns/pl/foo"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get("ns/pl/foo"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListKeysByPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, k := range []string{"ns/pl/a", "ns/pl/b", "ns/other/c"} {
		if err := s.Put(k, []byte("v")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := s.ListKeys("ns/pl/")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	sort.Strings(got)
	want := []string{"ns/pl/a", "ns/pl/b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package syncx

import (
	"errors"
	"sync"
	"testing"
)

func TestMapGetSetDelete(t *testing.T) {
	m := NewMap[string, int]()

	if _, ok := m.Get("a"); ok {
		t.Fatal("Get() on empty map should report ok=false")
	}

	m.Set("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(%q) = %d, %v; want 1, true", "a", v, ok)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("Get() after Delete() should report ok=false")
	}
}

func TestMapSwapAbortsOnError(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)

	wantErr := errors.New("boom")
	err := m.Swap("a", func(value int, exists bool) (int, error) {
		return value + 1, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Swap() error = %v, want %v", err, wantErr)
	}

	v, _ := m.Get("a")
	if v != 1 {
		t.Fatalf("Swap() mutated map despite returning an error; got %d, want 1", v)
	}

	if err := m.Swap("a", func(value int, exists bool) (int, error) {
		return value + 1, nil
	}); err != nil {
		t.Fatalf("Swap() unexpected error: %v", err)
	}
	v, _ = m.Get("a")
	if v != 2 {
		t.Fatalf("Swap() = %d, want 2", v)
	}
}

func TestMapSnapshotIsIndependentCopy(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	snap := m.Snapshot()
	m.Set("a", 99)

	if snap["a"] != 1 {
		t.Fatalf("Snapshot() returned a view, not a copy: snap[a] = %d, want 1", snap["a"])
	}
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
}

func TestMapConcurrentAccess(t *testing.T) {
	m := NewMap[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i, i*2)
			m.Get(i)
			m.Keys()
		}(i)
	}
	wg.Wait()

	if m.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", m.Len())
	}
}

package memstore

import (
	"sync"
	"testing"

	"github.com/centi-network/centi/internal/domain"
)

// compile-time check
var _ domain.KeyedStore[int] = (*Store[int])(nil)

func TestStore_GetPut(t *testing.T) {
	s := New[int]()

	if _, ok := s.Get("a"); ok {
		t.Fatal("Get on empty store reported ok")
	}
	s.Put("a", 1)
	s.Put("a", 2)
	v, ok := s.Get("a")
	if !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v, want 2, true", v, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_Snapshot_IsCopy(t *testing.T) {
	s := New[string]()
	s.Put("x", "one")

	snap := s.Snapshot()
	snap["x"] = "changed"
	snap["y"] = "added"

	if v, _ := s.Get("x"); v != "one" {
		t.Errorf("store mutated through snapshot: %q", v)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_Keys_Sorted(t *testing.T) {
	s := New[int]()
	for _, k := range []string{"c", "a", "b"} {
		s.Put(k, 0)
	}
	keys := s.Keys()
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}
}

func TestStore_Lock_SerializesReadModifyWrite(t *testing.T) {
	s := New[int]()
	s.Put("counter", 0)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := s.Lock("counter")
			defer unlock()
			v, _ := s.Get("counter")
			s.Put("counter", v+1)
		}()
	}
	wg.Wait()

	if v, _ := s.Get("counter"); v != workers {
		t.Errorf("counter = %d, want %d", v, workers)
	}
}

func TestStore_Lock_IndependentKeys(t *testing.T) {
	s := New[int]()
	unlockA := s.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := s.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}

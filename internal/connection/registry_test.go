package connection

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

type stubConn struct {
	id uuid.UUID
}

func newStubConn() *stubConn                  { return &stubConn{id: uuid.New()} }
func (s *stubConn) ID() uuid.UUID             { return s.id }
func (s *stubConn) Enqueue(data []byte) error { return nil }
func (s *stubConn) Close() error              { return nil }

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	a, b := newStubConn(), newStubConn()

	if !r.Add(a) {
		t.Error("Add(a) = false, want true")
	}
	if r.Add(a) {
		t.Error("second Add(a) = true, want false")
	}
	r.Add(b)

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	if !r.Remove(a) {
		t.Error("Remove(a) = false, want true")
	}
	if r.Remove(a) {
		t.Error("second Remove(a) = true, want false")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	all := r.All()
	if len(all) != 1 || all[0].ID() != b.ID() {
		t.Errorf("All() = %v, want only b", all)
	}
}

func TestRegistry_AllIsPointInTime(t *testing.T) {
	r := NewRegistry()
	conns := make([]*stubConn, 5)
	for i := range conns {
		conns[i] = newStubConn()
		r.Add(conns[i])
	}

	view := r.All()
	for _, c := range view {
		// Removing everything while iterating must not disturb the view.
		for _, other := range conns {
			r.Remove(other)
		}
		if c == nil {
			t.Fatal("nil connection in view")
		}
	}

	if len(view) != 5 {
		t.Errorf("len(view) = %d, want 5", len(view))
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c := newStubConn()
				r.Add(c)
				_ = r.All()
				r.Remove(c)
				r.Remove(c)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

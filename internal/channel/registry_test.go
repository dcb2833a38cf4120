package channel

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	conn := &websocket.Conn{}

	r.Register("session-1", conn)

	if active := r.GetActive("session-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	conn := &websocket.Conn{}

	r.Register("session-1", conn)
	r.Unregister("session-1", conn)

	if active := r.GetActive("session-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestRegistry_UnregisterStale(t *testing.T) {
	r := NewRegistry()
	stale := &websocket.Conn{}
	current := &websocket.Conn{}

	r.Register("session-1", stale)
	r.Register("session-1", current)

	// A late unregister from the dropped socket must not evict the rejoined one.
	r.Unregister("session-1", stale)

	if active := r.GetActive("session-1"); active != current {
		t.Errorf("Expected connection %v, got %v", current, active)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Register("session-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.GetActive("session-" + strconv.Itoa(i))
		}
	}()

	wg.Wait()
	if r.Len() != 1000 {
		t.Errorf("Expected 1000 registered connections, got %d", r.Len())
	}
}

func TestRegistry_RegisterReturnsReplaced(t *testing.T) {
	r := NewRegistry()
	first := &websocket.Conn{}
	second := &websocket.Conn{}

	if prev := r.Register("session-1", first); prev != nil {
		t.Errorf("Expected no previous connection, got %v", prev)
	}
	if prev := r.Register("session-1", second); prev != first {
		t.Errorf("Expected %v to be replaced, got %v", first, prev)
	}
	if prev := r.Register("session-1", second); prev != nil {
		t.Errorf("Re-registering the same connection replaced %v", prev)
	}
}

func TestRegistry_DrainWaitsForUnregister(t *testing.T) {
	r := NewRegistry()
	stale := &websocket.Conn{}
	current := &websocket.Conn{}
	r.Register("session-1", stale)
	r.Register("session-1", current)

	done := make(chan error, 1)
	go func() { done <- r.Drain(context.Background()) }()

	r.Unregister("session-1", current)
	select {
	case err := <-done:
		t.Fatalf("Drain returned %v while a superseded socket was still being served", err)
	case <-time.After(50 * time.Millisecond):
	}

	r.Unregister("session-1", stale)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after every connection unregistered")
	}
}

func TestRegistry_DrainEmpty(t *testing.T) {
	if err := NewRegistry().Drain(context.Background()); err != nil {
		t.Errorf("Drain on an empty registry: %v", err)
	}
}

package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPendingSetClear(t *testing.T) {
	store := newTestStore(t)
	p := NewPendingTracker(store, 0)

	if p.IsPending("alice") {
		t.Error("fresh worker pending")
	}
	if err := p.Set("alice", 42); err != nil {
		t.Fatal(err)
	}
	if !p.IsPending("alice") {
		t.Error("not pending after Set")
	}
	if id, ok := store.ChatID("alice"); !ok || id != 42 {
		t.Errorf("Set did not refresh chat binding: %d, %v", id, ok)
	}

	p.Clear("alice")
	if p.IsPending("alice") {
		t.Error("pending after Clear")
	}
	p.Clear("alice") // no-op
}

func TestPendingExpiresLazily(t *testing.T) {
	store := newTestStore(t)
	p := NewPendingTracker(store, 10*time.Minute)
	if err := p.Set("alice", 1); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	p.now = func() time.Time { return now.Add(11 * time.Minute) }
	if p.IsPending("alice") {
		t.Error("stale marker reported pending")
	}
	if _, err := os.Stat(filepath.Join(store.Dir("alice"), "pending")); !os.IsNotExist(err) {
		t.Error("stale marker not deleted")
	}
}

func TestPendingWithinTTL(t *testing.T) {
	store := newTestStore(t)
	p := NewPendingTracker(store, 10*time.Minute)
	if err := p.Set("alice", 1); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	p.now = func() time.Time { return now.Add(9 * time.Minute) }
	if !p.IsPending("alice") {
		t.Error("fresh marker reported stale")
	}
}

func TestPendingCorruptMarker(t *testing.T) {
	store := newTestStore(t)
	p := NewPendingTracker(store, 0)
	if err := p.Set("alice", 1); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(store.Dir("alice"), "pending")
	if err := os.WriteFile(marker, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	if p.IsPending("alice") {
		t.Error("corrupt marker reported pending")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("corrupt marker not deleted")
	}
}

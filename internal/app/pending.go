package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultPendingTTL is how long a pending marker stays valid before it
// is considered stale and lazily cleared.
const DefaultPendingTTL = 600 * time.Second

// PendingTracker marks workers that owe the manager a reply. The
// marker is a file holding the unix time the request went out; reads
// past the TTL delete it. There is no background sweeper.
type PendingTracker struct {
	store *SessionStore
	ttl   time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// NewPendingTracker returns a tracker over store with the given TTL.
// A zero ttl uses DefaultPendingTTL.
func NewPendingTracker(store *SessionStore, ttl time.Duration) *PendingTracker {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingTracker{store: store, ttl: ttl, now: time.Now}
}

func (p *PendingTracker) path(name string) string {
	return filepath.Join(p.store.Dir(name), "pending")
}

// Set marks name as owing a reply to chatID. The chat binding is
// refreshed at the same time so the reply has somewhere to go.
func (p *PendingTracker) Set(name string, chatID int64) error {
	if err := p.store.BindChat(name, chatID); err != nil {
		return err
	}
	ts := strconv.FormatInt(p.now().Unix(), 10)
	if err := os.WriteFile(p.path(name), []byte(ts), 0o600); err != nil {
		return fmt.Errorf("write pending marker for %s: %w", name, err)
	}
	return nil
}

// Clear removes the pending marker. Clearing an unmarked worker is a
// no-op.
func (p *PendingTracker) Clear(name string) {
	os.Remove(p.path(name))
}

// IsPending reports whether name owes a reply. Stale markers are
// deleted on read.
func (p *PendingTracker) IsPending(name string) bool {
	data, err := os.ReadFile(p.path(name))
	if err != nil {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		os.Remove(p.path(name))
		return false
	}
	if p.now().Sub(time.Unix(ts, 0)) > p.ttl {
		os.Remove(p.path(name))
		return false
	}
	return true
}

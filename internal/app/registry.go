package app

import (
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/crewbridge/internal/domain"
)

// Registry tracks the crew and the single focus pointer. The registry
// is in-memory; for interactive workers the backend's session list is
// the source of truth and Reconcile keeps the two aligned.
type Registry struct {
	mu           sync.RWMutex
	workers      map[string]*domain.Worker
	focus        string
	pendingClaim string // unclaimed session id awaiting a name, "" when none
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*domain.Worker)}
}

// Add registers a worker. The first worker added becomes the focus.
func (r *Registry) Add(w domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[w.Name]; ok {
		return domain.ErrWorkerExists
	}
	if w.HiredAt.IsZero() {
		w.HiredAt = time.Now()
	}
	r.workers[w.Name] = &w
	if r.focus == "" {
		r.focus = w.Name
	}
	return nil
}

// Get returns a copy of the named worker.
func (r *Registry) Get(name string) (domain.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	if !ok {
		return domain.Worker{}, false
	}
	return *w, true
}

// Remove drops a worker. A removed focus falls back to the first
// remaining worker by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[name]; !ok {
		return domain.ErrWorkerNotFound
	}
	delete(r.workers, name)
	if r.focus == name {
		r.focus = r.firstLocked()
	}
	return nil
}

// Names returns all worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for n := range r.workers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the crew size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Focus returns the focused worker's name, "" when the crew is empty.
func (r *Registry) Focus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focus
}

// SetFocus points the focus at an existing worker.
func (r *Registry) SetFocus(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[name]; !ok {
		return domain.ErrWorkerNotFound
	}
	r.focus = name
	return nil
}

// PendingClaim returns the unclaimed session id awaiting a name.
func (r *Registry) PendingClaim() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingClaim
}

// SetPendingClaim records an unclaimed session the manager was asked
// to name. An empty id clears the claim.
func (r *Registry) SetPendingClaim(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingClaim = sessionID
}

// Reconcile aligns the registry with the session names discovered for
// one backend kind: vanished workers are dropped, newcomers added. The
// focus is repaired if its worker vanished.
func (r *Registry) Reconcile(kind domain.BackendKind, found []string) {
	set := make(map[string]struct{}, len(found))
	for _, n := range found {
		set[n] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, w := range r.workers {
		if w.Backend != kind {
			continue
		}
		if _, ok := set[name]; !ok {
			delete(r.workers, name)
		}
	}
	for _, name := range found {
		if _, ok := r.workers[name]; !ok {
			r.workers[name] = &domain.Worker{
				Name:       name,
				Backend:    kind,
				Registered: true,
				HiredAt:    time.Now(),
			}
		}
	}
	if _, ok := r.workers[r.focus]; !ok {
		r.focus = r.firstLocked()
	}
}

func (r *Registry) firstLocked() string {
	var names []string
	for n := range r.workers {
		names = append(names, n)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

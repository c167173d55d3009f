package app

import (
	"fmt"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchdogInterval = 60 * time.Second

// Watchdog keeps the registry honest between messages. It watches the
// sessions directory for state changes and periodically sweeps: dead
// sessions are dropped from the registry, the manager is told when a
// worker vanishes, and stale pending markers get their lazy expiry
// a chance to run even when nobody is asking.
type Watchdog struct {
	svc      *Service
	logger   *log.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	// known is the crew seen on the previous sweep, for detecting
	// departures.
	known map[string]struct{}
}

// WatchdogOption configures the watchdog.
type WatchdogOption func(*Watchdog)

// WithWatchdogInterval sets the sweep interval.
func WithWatchdogInterval(d time.Duration) WatchdogOption {
	return func(w *Watchdog) { w.interval = d }
}

// NewWatchdog creates a watchdog over svc.
func NewWatchdog(svc *Service, logger *log.Logger, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		svc:      svc,
		logger:   logger,
		interval: defaultWatchdogInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		known:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the watchdog goroutine.
func (w *Watchdog) Start() {
	go w.run()
}

// Stop shuts the watchdog down and waits for the goroutine to exit.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watchdog) run() {
	defer close(w.doneCh)

	// Filesystem events make sweeps responsive; the ticker is the
	// fallback when the watcher cannot be set up.
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("watchdog: fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(w.svc.Store().Root()); err != nil {
			w.logger.Printf("watchdog: watch sessions dir: %v", err)
		} else {
			events = watcher.Events
		}
	}

	// Seed without notifying about pre-existing workers.
	w.svc.Refresh()
	for _, name := range w.svc.Registry().Names() {
		w.known[name] = struct{}{}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		case <-events:
			// Coalesce event bursts before sweeping.
			debounce = time.After(500 * time.Millisecond)
		case <-debounce:
			debounce = nil
			w.sweep()
		}
	}
}

// sweep reconciles registry state and reports departures.
func (w *Watchdog) sweep() {
	w.svc.Refresh()

	current := make(map[string]struct{})
	for _, name := range w.svc.Registry().Names() {
		current[name] = struct{}{}
		// Reading the marker clears it when stale.
		w.svc.Pending().IsPending(name)
	}

	admin := w.svc.AdminChatID()
	for name := range w.known {
		if _, ok := current[name]; !ok {
			w.logger.Printf("watchdog: worker %s vanished", name)
			if admin != 0 {
				w.svc.reply(admin, fmt.Sprintf("%s went offline and left the team. Use /hire to replace them.", capitalize(name)))
			}
		}
	}
	w.known = current
}

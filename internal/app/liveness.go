package app

import (
	"log"
	"time"
)

// ChatActions is the slice of the chat client the liveness notifier
// needs.
type ChatActions interface {
	SendChatAction(chatID int64, action string) error
}

const defaultTypingInterval = 4 * time.Second

// Liveness keeps the "typing" indicator alive in the manager's chat
// while a worker owes a reply. Each delivery starts one loop; the loop
// ends on its own when the pending marker clears or goes stale.
type Liveness struct {
	actions  ChatActions
	pending  *PendingTracker
	interval time.Duration
	logger   *log.Logger
}

// LivenessOption configures the notifier.
type LivenessOption func(*Liveness)

// WithTypingInterval overrides the signalling cadence.
func WithTypingInterval(d time.Duration) LivenessOption {
	return func(l *Liveness) { l.interval = d }
}

// NewLiveness creates the notifier.
func NewLiveness(actions ChatActions, pending *PendingTracker, logger *log.Logger, opts ...LivenessOption) *Liveness {
	l := &Liveness{
		actions:  actions,
		pending:  pending,
		interval: defaultTypingInterval,
		logger:   logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start launches a typing loop for worker in chatID. It returns
// immediately; the loop runs until the worker replies or the pending
// marker expires.
func (l *Liveness) Start(chatID int64, worker string) {
	go func() {
		start := time.Now()
		for l.pending.IsPending(worker) {
			if time.Since(start) > l.pending.ttl {
				return
			}
			if err := l.actions.SendChatAction(chatID, "typing"); err != nil {
				l.logger.Printf("typing action for %s: %v", worker, err)
				return
			}
			time.Sleep(l.interval)
		}
	}()
}

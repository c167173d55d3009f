// Package backend drives worker processes. Two process models are
// supported: interactive workers living in tmux panes, and pipe
// workers driven over stdin/stdout.
package backend

import "github.com/jaakkos/crewbridge/internal/domain"

// Backend starts, feeds, and stops worker processes of one kind.
type Backend interface {
	Kind() domain.BackendKind

	// Start launches a worker process under the given name.
	Start(name string, command []string, env map[string]string) error

	// Send delivers one message to the worker.
	Send(name, text string) error

	// Interrupt asks the worker to abandon its current input or turn.
	Interrupt(name string) error

	// Running reports whether the worker process is alive.
	Running(name string) bool

	// Stop terminates the worker process.
	Stop(name string) error
}

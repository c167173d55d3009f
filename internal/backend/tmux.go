package backend

import (
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/jaakkos/crewbridge/internal/domain"
)

// Tmux drives interactive workers inside tmux sessions. Sessions are
// named prefix+worker so several bridge nodes can share one tmux
// server without colliding.
type Tmux struct {
	prefix string
	logger *log.Logger

	// run executes a tmux command, overridable in tests.
	run func(args ...string) (string, error)
}

// NewTmux returns a Tmux backend using the given session prefix.
func NewTmux(prefix string, logger *log.Logger) *Tmux {
	return &Tmux{
		prefix: prefix,
		logger: logger,
		run:    runTmux,
	}
}

func runTmux(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Kind implements Backend.
func (t *Tmux) Kind() domain.BackendKind { return domain.BackendInteractive }

// SessionName returns the tmux session name for a worker.
func (t *Tmux) SessionName(worker string) string {
	return t.prefix + worker
}

// Start creates a detached session running command. Extra env vars are
// set on the session before the process starts.
func (t *Tmux) Start(name string, command []string, env map[string]string) error {
	if t.Running(name) {
		return domain.ErrAlreadyRunning
	}
	args := []string{"new-session", "-d", "-s", t.SessionName(name)}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, command...)
	if _, err := t.run(args...); err != nil {
		return fmt.Errorf("start session %s: %w", name, err)
	}
	t.logger.Printf("started tmux session %s", t.SessionName(name))
	return nil
}

// Send types text into the worker's pane literally, then presses
// Enter as a separate keystroke so bracketed paste settles first.
func (t *Tmux) Send(name, text string) error {
	target := t.SessionName(name)
	if _, err := t.run("send-keys", "-t", target, "-l", "--", text); err != nil {
		return fmt.Errorf("send to %s: %w", name, err)
	}
	if _, err := t.run("send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("send enter to %s: %w", name, err)
	}
	return nil
}

// Interrupt sends Escape, which interactive agents treat as "stop the
// current turn".
func (t *Tmux) Interrupt(name string) error {
	_, err := t.run("send-keys", "-t", t.SessionName(name), "Escape")
	return err
}

// Running implements Backend.
func (t *Tmux) Running(name string) bool {
	_, err := t.run("has-session", "-t", t.SessionName(name))
	return err == nil
}

// Stop kills the worker's session.
func (t *Tmux) Stop(name string) error {
	if _, err := t.run("kill-session", "-t", t.SessionName(name)); err != nil {
		return fmt.Errorf("kill session %s: %w", name, err)
	}
	return nil
}

// List returns the worker names of all sessions under this prefix.
func (t *Tmux) List() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions.
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, t.prefix) {
			names = append(names, strings.TrimPrefix(line, t.prefix))
		}
	}
	return names, nil
}

// ListUnclaimed returns raw session names outside this prefix whose
// pane is running hint. These are adoption candidates: agents someone
// started by hand that can be claimed into the crew.
func (t *Tmux) ListUnclaimed(hint string) ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil, nil
	}
	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" || strings.HasPrefix(line, t.prefix) {
			continue
		}
		if hint != "" {
			cmd, err := t.run("display-message", "-p", "-t", line, "#{pane_current_command}")
			if err != nil || !strings.Contains(strings.ToLower(strings.TrimSpace(cmd)), strings.ToLower(hint)) {
				continue
			}
		}
		sessions = append(sessions, line)
	}
	return sessions, nil
}

// Adopt renames a raw session into the prefix namespace under the
// worker's name, completing a claim.
func (t *Tmux) Adopt(session, worker string) error {
	if _, err := t.run("rename-session", "-t", session, t.SessionName(worker)); err != nil {
		return fmt.Errorf("adopt %s as %s: %w", session, worker, err)
	}
	return nil
}

// SetEnvironment sets a session environment variable, picked up by
// processes spawned in the pane afterwards.
func (t *Tmux) SetEnvironment(name, key, value string) error {
	_, err := t.run("set-environment", "-t", t.SessionName(name), key, value)
	return err
}

// CapturePane returns the visible pane content, used as a fallback
// when a worker has no transcript to extract from.
func (t *Tmux) CapturePane(name string) (string, error) {
	out, err := t.run("capture-pane", "-t", t.SessionName(name), "-p")
	if err != nil {
		return "", fmt.Errorf("capture pane %s: %w", name, err)
	}
	return out, nil
}

// PaneCommand returns the command currently running in the pane.
func (t *Tmux) PaneCommand(name string) (string, error) {
	out, err := t.run("display-message", "-p", "-t", t.SessionName(name), "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Package domain holds crew entities and shared state types.
// It has no dependencies on other packages.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// BackendKind selects how a worker process is driven.
type BackendKind string

const (
	// BackendInteractive drives a worker inside a terminal multiplexer
	// session by typing into its pane.
	BackendInteractive BackendKind = "interactive"
	// BackendPipe drives a worker over its stdin/stdout pipes as
	// line-delimited frames.
	BackendPipe BackendKind = "pipe"
)

// Worker is a single supervised background worker.
type Worker struct {
	Name       string      `json:"name"`
	Backend    BackendKind `json:"backend"`
	SessionID  string      `json:"session_id"` // backend session identifier (tmux session name or process id)
	Registered bool        `json:"registered"` // true once the worker claimed its name
	HiredAt    time.Time   `json:"hired_at"`
	LastStart  time.Time   `json:"last_start,omitempty"`
}

// DeliveryDirection marks which way a recorded message travelled.
type DeliveryDirection string

const (
	DirectionInbound  DeliveryDirection = "in"  // manager -> worker
	DirectionOutbound DeliveryDirection = "out" // worker -> manager
)

// Delivery is one recorded message crossing the bridge. The flat
// per-worker files stay authoritative; deliveries exist for /progress
// style reporting only.
type Delivery struct {
	ID        int               `json:"id"`
	Worker    string            `json:"worker"`
	Direction DeliveryDirection `json:"direction"`
	Preview   string            `json:"preview"`
	Timestamp time.Time         `json:"timestamp"`
}

// RegistrationClaim is the JSON payload an unregistered session writes
// to claim its crew name.
type RegistrationClaim struct {
	Name string `json:"name"`
}

// Sentinel errors shared across packages.
var (
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerExists   = errors.New("worker already exists")
	ErrReservedName   = errors.New("name is reserved")
	ErrInvalidName    = errors.New("invalid worker name")
	ErrNoFocus        = errors.New("no worker in focus")
	ErrNotRunning     = errors.New("worker is not running")
	ErrAlreadyRunning = errors.New("worker is already running")
)

// reservedNames are names that collide with management commands or
// routing keywords and can never be claimed by a worker.
var reservedNames = map[string]struct{}{
	"team": {}, "focus": {}, "progress": {}, "learn": {}, "pause": {},
	"relaunch": {}, "settings": {}, "hire": {}, "end": {},
	"new": {}, "use": {}, "list": {}, "kill": {}, "status": {},
	"stop": {}, "restart": {}, "system": {},
	"all": {}, "start": {}, "help": {},
}

// IsReservedName reports whether name collides with a management
// command or routing keyword.
func IsReservedName(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

var nameStrip = regexp.MustCompile(`[^a-z0-9-]`)
var hyphenRuns = regexp.MustCompile(`-{2,}`)

// SanitizeName normalizes a requested worker name: lowercase, spaces
// and underscores become hyphens, everything outside [a-z0-9-] is
// dropped, hyphen runs collapse, and the result is capped at 32 runes.
// Returns an empty string when nothing survives.
func SanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = nameStrip.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 32 {
		s = strings.Trim(s[:32], "-")
	}
	return s
}

// ValidateName sanitizes name and rejects empty or reserved results.
func ValidateName(name string) (string, error) {
	s := SanitizeName(name)
	if s == "" {
		return "", ErrInvalidName
	}
	if IsReservedName(s) {
		return "", ErrReservedName
	}
	return s, nil
}

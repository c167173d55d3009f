// Package app wires the crew together: per-worker state, message
// routing, send serialization, liveness signalling, and the management
// command surface.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SessionStore keeps per-worker state as flat files under the sessions
// directory: one directory per worker holding the chat binding, the
// pending marker, and the file inbox. Flat files are authoritative so
// a bridge restart loses nothing.
type SessionStore struct {
	root string
}

// NewSessionStore returns a store rooted at root, creating it if needed.
func NewSessionStore(root string) (*SessionStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{root: root}, nil
}

// Root returns the sessions directory.
func (s *SessionStore) Root() string { return s.root }

// Dir returns a worker's state directory.
func (s *SessionStore) Dir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *SessionStore) ensureDir(name string) (string, error) {
	d := s.Dir(name)
	if err := os.MkdirAll(d, 0o700); err != nil {
		return "", fmt.Errorf("create session dir %s: %w", name, err)
	}
	return d, nil
}

// BindChat records which chat a worker's replies go to.
func (s *SessionStore) BindChat(name string, chatID int64) error {
	d, err := s.ensureDir(name)
	if err != nil {
		return err
	}
	path := filepath.Join(d, "chat_id")
	if err := os.WriteFile(path, []byte(strconv.FormatInt(chatID, 10)), 0o600); err != nil {
		return fmt.Errorf("write chat binding for %s: %w", name, err)
	}
	return nil
}

// ChatID returns the chat bound to a worker, or false when none is.
func (s *SessionStore) ChatID(name string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(s.Dir(name), "chat_id"))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AllChatIDs returns every distinct chat bound to any worker.
func (s *SessionStore) AllChatIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, name := range s.Workers() {
		if id, ok := s.ChatID(name); ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Workers lists every worker with a state directory, sorted.
func (s *SessionStore) Workers() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// InboxDir returns a worker's inbox for files the manager sends in.
func (s *SessionStore) InboxDir(name string) string {
	return filepath.Join(s.Dir(name), "inbox")
}

// SaveInboxPath reserves a unique inbox path for filename, creating
// the inbox as needed. Collisions get a random suffix.
func (s *SessionStore) SaveInboxPath(name, filename string) (string, error) {
	inbox := s.InboxDir(name)
	if err := os.MkdirAll(inbox, 0o700); err != nil {
		return "", fmt.Errorf("create inbox for %s: %w", name, err)
	}
	filename = filepath.Base(filename)
	if filename == "" || filename == "." {
		filename = "file"
	}
	path := filepath.Join(inbox, filename)
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(filename)
		stem := strings.TrimSuffix(filename, ext)
		path = filepath.Join(inbox, stem+"-"+uuid.NewString()[:8]+ext)
	}
	return path, nil
}

// CleanupInbox deletes everything in a worker's inbox.
func (s *SessionStore) CleanupInbox(name string) {
	entries, err := os.ReadDir(s.InboxDir(name))
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(s.InboxDir(name), e.Name()))
	}
}

// Remove deletes a worker's entire state directory.
func (s *SessionStore) Remove(name string) error {
	return os.RemoveAll(s.Dir(name))
}

package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest attachment the chat transport accepts (20 MiB).
const MaxFileSize = 20 * 1024 * 1024

// allowedImageExtensions are the extensions accepted for image markers.
var allowedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true,
}

// allowedDocExtensions are common code, doc, and data extensions
// accepted for file markers.
var allowedDocExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".pdf": true,
	".json": true, ".csv": true, ".yaml": true, ".yml": true,
	".toml": true, ".ini": true, ".cfg": true, ".xml": true,
	".log": true, ".sql": true, ".patch": true, ".diff": true,
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true, ".kt": true, ".swift": true,
	".rb": true, ".php": true, ".c": true, ".cpp": true, ".h": true,
	".hpp": true, ".sh": true, ".html": true, ".css": true, ".scss": true,
}

// blockedExtensions are never sent regardless of location.
var blockedExtensions = map[string]bool{
	".pem": true, ".key": true, ".p12": true, ".pfx": true,
	".crt": true, ".cer": true, ".der": true, ".jks": true,
	".keystore": true, ".kdb": true, ".pgp": true, ".gpg": true,
	".asc": true,
}

// blockedFilenames are never sent regardless of location or extension.
var blockedFilenames = map[string]bool{
	".env": true, ".npmrc": true, ".pypirc": true, ".netrc": true,
	".git-credentials": true, "id_rsa": true, "id_ed25519": true,
	"id_dsa": true, "credentials": true, "kubeconfig": true,
}

// Validator enforces the outgoing file policy. Files may only come
// from the temp dir, the sessions dir, or the working directory.
type Validator struct {
	sessionsDir string
}

// NewValidator returns a Validator rooted at sessionsDir.
func NewValidator(sessionsDir string) *Validator {
	return &Validator{sessionsDir: filepath.Clean(sessionsDir)}
}

// Validate checks a tag's path against the policy. A nil error means
// the file may be sent.
func (v *Validator) Validate(t Tag) error {
	abs, err := filepath.Abs(t.Path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	// Resolve symlinks before any check so a link cannot smuggle a
	// blocked or out-of-root target past the policy.
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", t.Path, err)
	}

	name := strings.ToLower(filepath.Base(abs))
	if blockedFilenames[name] || strings.HasPrefix(name, ".env.") {
		return fmt.Errorf("blocked filename: %s", name)
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if blockedExtensions[ext] {
		return fmt.Errorf("blocked extension: %s", ext)
	}

	switch t.Kind {
	case KindImage:
		if !allowedImageExtensions[ext] {
			return fmt.Errorf("not an image extension: %s", ext)
		}
	case KindFile:
		if !allowedDocExtensions[ext] {
			return fmt.Errorf("extension not allowed: %s", ext)
		}
	default:
		return fmt.Errorf("unknown media kind: %s", t.Kind)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.Path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", t.Path)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("file too large: %d > %d", info.Size(), int64(MaxFileSize))
	}

	if !v.inAllowedRoot(abs) {
		return fmt.Errorf("path outside allowed directories: %s", t.Path)
	}
	return nil
}

func (v *Validator) inAllowedRoot(abs string) bool {
	cwd, _ := os.Getwd()
	roots := []string{os.TempDir(), v.sessionsDir, cwd}
	for _, root := range roots {
		if root == "" || root == "." {
			continue
		}
		// Compare resolved paths on both sides; on some systems the
		// temp root is itself a symlink.
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		} else {
			root = filepath.Clean(root)
		}
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// FormatFileSize renders a byte count for chat display.
func FormatFileSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

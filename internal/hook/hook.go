// Package hook implements the stop-hook side of the bridge: it runs
// inside a worker's session when the agent finishes a turn, extracts
// the reply, and posts it to the local bridge. The worker never holds
// the bot token; the bridge does the actual chat delivery.
package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Input is the JSON the agent pipes into its stop hook.
type Input struct {
	TranscriptPath string `json:"transcript_path"`
}

// transcriptMessage is one JSONL line of an agent transcript.
type transcriptMessage struct {
	Type    string `json:"type"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseInput decodes the hook's stdin JSON.
func ParseInput(data []byte) (*Input, error) {
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse hook input: %w", err)
	}
	return &in, nil
}

// ExtractTranscript returns the assistant text written after the last
// user message in a JSONL transcript.
func ExtractTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	lastUser := -1
	for i, line := range lines {
		if strings.Contains(line, `"type":"user"`) {
			lastUser = i
		}
	}
	if lastUser == -1 {
		return "", nil
	}

	var texts []string
	for _, line := range lines[lastUser:] {
		if !strings.Contains(line, `"type":"assistant"`) {
			continue
		}
		var msg transcriptMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		for _, block := range msg.Message.Content {
			if block.Type == "text" && block.Text != "" {
				texts = append(texts, block.Text)
			}
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

// FallbackNotice is appended when the reply came from a pane capture
// instead of the transcript.
const FallbackNotice = "\n\n⚠️ May be incomplete. Retry if needed."

// PaneFallback scrapes the last agent reply from the tmux pane when no
// transcript is available.
func PaneFallback(session string) (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-t", session, "-p", "-S", "-500").Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return extractPaneResponse(string(out)), nil
}

var (
	paneBullet    = regexp.MustCompile(`^\s*● `)
	panePrompt    = regexp.MustCompile(`^\s*❯`)
	paneSeparator = regexp.MustCompile(`^\s*───`)
	paneNoise     = regexp.MustCompile(`^[·✶✻⏵⎿]|stop hook|Whirring|Herding|Mulling|Recombobulating|Cooked for|Saut|^[a-z]+:$|Tip:`)
	paneFeedback  = regexp.MustCompile(`How is Claude doing this session`)
)

// extractPaneResponse finds the last reply block in pane content:
// text between a ● bullet and the next prompt or separator line.
func extractPaneResponse(content string) string {
	var (
		inResponse bool
		buf        strings.Builder
		last       string
	)
	for _, line := range strings.Split(content, "\n") {
		if paneBullet.MatchString(line) {
			inResponse = true
			buf.Reset()
			buf.WriteString(paneBullet.ReplaceAllString(line, ""))
			continue
		}
		if panePrompt.MatchString(line) || paneSeparator.MatchString(line) {
			if inResponse && buf.Len() > 0 {
				if text := buf.String(); !paneFeedback.MatchString(text) {
					last = text
				}
			}
			inResponse = false
			buf.Reset()
			continue
		}
		if inResponse {
			if paneNoise.MatchString(line) {
				continue
			}
			line = strings.TrimPrefix(line, "  ")
			line = strings.TrimPrefix(line, " ")
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(line)
		}
	}
	if inResponse && buf.Len() > 0 {
		if text := buf.String(); !paneFeedback.MatchString(text) {
			return text
		}
	}
	return last
}

// SessionName returns the tmux session the hook is running inside.
func SessionName() string {
	out, err := exec.Command("tmux", "display-message", "-p", "#{session_name}").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// SessionEnv reads one variable from the tmux session environment.
func SessionEnv(session, key string) string {
	if session == "" {
		return ""
	}
	out, err := exec.Command("tmux", "show-environment", "-t", session, key).Output()
	if err != nil {
		return ""
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "=", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Config tells Run where to post and for whom.
type Config struct {
	BridgeURL string // base bridge URL, /response is appended
	Worker    string // crew name of the worker this hook speaks for
}

// Run executes one hook invocation end to end: read stdin, pull the
// reply from the transcript or the pane, and post it to the bridge.
// Empty replies are a silent no-op so agent idle stops stay quiet.
func Run(cfg Config, stdin io.Reader) error {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read hook input: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}

	var text string
	var usedFallback bool

	in, err := ParseInput(data)
	if err == nil && in.TranscriptPath != "" {
		if text, err = ExtractTranscript(in.TranscriptPath); err != nil {
			text = ""
		}
	}

	if (text == "" || text == "null") && os.Getenv("CREWBRIDGE_NO_PANE_FALLBACK") == "" {
		if session := SessionName(); session != "" {
			if fallback, err := PaneFallback(session); err == nil && fallback != "" {
				text = fallback
				usedFallback = true
			}
		}
	}

	// Plain text piped straight in still works.
	if text == "" && in == nil {
		text = raw
	}
	if text == "" || text == "null" {
		return nil
	}
	if usedFallback {
		text += FallbackNotice
	}

	return post(cfg, text)
}

func post(cfg Config, text string) error {
	payload, err := json.Marshal(struct {
		Session string `json:"session"`
		Text    string `json:"text"`
	}{Session: cfg.Worker, Text: text})
	if err != nil {
		return fmt.Errorf("marshal hook payload: %w", err)
	}

	url := strings.TrimRight(strings.TrimSpace(cfg.BridgeURL), "/")
	if !strings.HasSuffix(url, "/response") {
		url += "/response"
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

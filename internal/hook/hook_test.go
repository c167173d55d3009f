package hook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseInput(t *testing.T) {
	in, err := ParseInput([]byte(`{"transcript_path": "/tmp/t.jsonl"}`))
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	if in.TranscriptPath != "/tmp/t.jsonl" {
		t.Errorf("TranscriptPath = %q", in.TranscriptPath)
	}
	if _, err := ParseInput([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assistantLine(texts ...string) string {
	var blocks []map[string]string
	for _, text := range texts {
		blocks = append(blocks, map[string]string{"type": "text", "text": text})
	}
	line, _ := json.Marshal(map[string]any{
		"type":    "assistant",
		"message": map[string]any{"content": blocks},
	})
	return string(line)
}

func TestExtractTranscript(t *testing.T) {
	path := writeTranscript(t,
		assistantLine("stale reply"),
		`{"type":"user","message":{"content":[{"type":"text","text":"do the thing"}]}}`,
		assistantLine("working on it"),
		assistantLine("all done"),
	)
	got, err := ExtractTranscript(path)
	if err != nil {
		t.Fatalf("ExtractTranscript: %v", err)
	}
	want := "working on it\n\nall done"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractTranscriptNoUserMessage(t *testing.T) {
	path := writeTranscript(t, assistantLine("orphan reply"))
	got, err := ExtractTranscript(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestExtractTranscriptSkipsToolBlocks(t *testing.T) {
	line, _ := json.Marshal(map[string]any{
		"type": "assistant",
		"message": map[string]any{"content": []map[string]string{
			{"type": "tool_use", "text": ""},
			{"type": "text", "text": "the answer"},
		}},
	})
	path := writeTranscript(t,
		`{"type":"user","message":{"content":[]}}`,
		string(line),
	)
	got, err := ExtractTranscript(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Errorf("got %q", got)
	}
}

func TestExtractPaneResponse(t *testing.T) {
	content := strings.Join([]string{
		"❯ old prompt",
		"● First reply.",
		"  continues here.",
		"❯ ",
		"● Second reply.",
		"  ✶ Mulling...",
		"  with detail.",
		"❯ ",
	}, "\n")
	got := extractPaneResponse(content)
	want := "Second reply.\nwith detail."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractPaneResponseOpenBlock(t *testing.T) {
	content := "● Still typing this out.\n  more text."
	got := extractPaneResponse(content)
	if got != "Still typing this out.\nmore text." {
		t.Errorf("got %q", got)
	}
}

func TestExtractPaneResponseSkipsFeedbackPrompt(t *testing.T) {
	content := strings.Join([]string{
		"● Real answer.",
		"❯ ",
		"● How is Claude doing this session?",
		"❯ ",
	}, "\n")
	if got := extractPaneResponse(content); got != "Real answer." {
		t.Errorf("got %q", got)
	}
}

func TestRunPostsTranscriptText(t *testing.T) {
	t.Setenv("CREWBRIDGE_NO_PANE_FALLBACK", "1")

	var gotPath string
	var payload struct {
		Session string `json:"session"`
		Text    string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	transcript := writeTranscript(t,
		`{"type":"user","message":{"content":[]}}`,
		assistantLine("shipped it"),
	)
	input, _ := json.Marshal(Input{TranscriptPath: transcript})

	err := Run(Config{BridgeURL: srv.URL, Worker: "alice"}, strings.NewReader(string(input)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotPath != "/response" {
		t.Errorf("path = %q", gotPath)
	}
	if payload.Session != "alice" || payload.Text != "shipped it" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRunEmptyInputIsQuiet(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	if err := Run(Config{BridgeURL: srv.URL, Worker: "alice"}, strings.NewReader("")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("empty input still posted to the bridge")
	}
}

func TestRunPlainTextPassthrough(t *testing.T) {
	t.Setenv("CREWBRIDGE_NO_PANE_FALLBACK", "1")

	var payload struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	err := Run(Config{BridgeURL: srv.URL, Worker: "alice"}, strings.NewReader("just some text"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if payload.Text != "just some text" {
		t.Errorf("text = %q", payload.Text)
	}
}

func TestRunBridgeError(t *testing.T) {
	t.Setenv("CREWBRIDGE_NO_PANE_FALLBACK", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no chat binding", http.StatusNotFound)
	}))
	defer srv.Close()

	err := Run(Config{BridgeURL: srv.URL, Worker: "ghost"}, strings.NewReader("hello"))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
}

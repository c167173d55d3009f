package backend

import (
	"encoding/json"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPipeRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	p := NewPipe(log.New(io.Discard, "", 0), func(name, line string) {
		mu.Lock()
		lines = append(lines, name+":"+line)
		mu.Unlock()
	})

	// cat echoes each frame back verbatim.
	if err := p.Start("echo", []string{"cat"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop("echo")

	if !p.Running("echo") {
		t.Fatal("worker not running after Start")
	}
	if err := p.Send("echo", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no output from worker")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	got := lines[0]
	mu.Unlock()
	var frame pipeFrame
	if err := json.Unmarshal([]byte(got[len("echo:"):]), &frame); err != nil {
		t.Fatalf("output not a frame: %q", got)
	}
	if frame.Type != "message" || frame.Text != "hello" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestPipeSendNotRunning(t *testing.T) {
	p := NewPipe(log.New(io.Discard, "", 0), nil)
	if err := p.Send("ghost", "hi"); err == nil {
		t.Error("expected error for unknown worker")
	}
}

func TestPipeSendBoundedWhenWorkerStopsReading(t *testing.T) {
	p := NewPipe(log.New(io.Discard, "", 0), nil)
	p.writeTimeout = 100 * time.Millisecond

	// sleep never reads stdin, so the pipe buffer fills and the write
	// must fail at the deadline instead of blocking.
	if err := p.Start("stuck", []string{"sleep", "10"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop("stuck")

	big := strings.Repeat("x", 4*1024*1024)
	done := make(chan error, 1)
	go func() { done <- p.Send("stuck", big) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected a transport error from a stalled worker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked past its write deadline")
	}
}

func TestPipeStartTwice(t *testing.T) {
	p := NewPipe(log.New(io.Discard, "", 0), nil)
	if err := p.Start("w", []string{"cat"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop("w")
	if err := p.Start("w", []string{"cat"}, nil); err == nil {
		t.Error("expected error for duplicate start")
	}
}

func TestPipeStopClearsWorker(t *testing.T) {
	p := NewPipe(log.New(io.Discard, "", 0), nil)
	if err := p.Start("w", []string{"cat"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop("w"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for p.Running("w") {
		select {
		case <-deadline:
			t.Fatal("worker still running after Stop")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jaakkos/crewbridge/internal/domain"
)

// pipeFrame is one stdin frame for a pipe worker.
type pipeFrame struct {
	Type string `json:"type"` // "message" or "interrupt"
	Text string `json:"text,omitempty"`
}

// defaultWriteTimeout bounds a stdin frame write. A worker that stops
// reading fills the pipe buffer; without the bound the writer would
// block forever while holding that worker's send lock.
const defaultWriteTimeout = 5 * time.Second

// Pipe drives workers over stdin/stdout. Frames going in are JSON
// lines; every stdout line the worker prints is forwarded through the
// output callback.
type Pipe struct {
	logger       *log.Logger
	onOutput     func(name, line string)
	writeTimeout time.Duration

	mu    sync.Mutex
	procs map[string]*pipeProc
}

type pipeProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewPipe returns a Pipe backend. onOutput receives every line a
// worker writes to stdout and may be nil.
func NewPipe(logger *log.Logger, onOutput func(name, line string)) *Pipe {
	return &Pipe{
		logger:       logger,
		onOutput:     onOutput,
		writeTimeout: defaultWriteTimeout,
		procs:        make(map[string]*pipeProc),
	}
}

// Kind implements Backend.
func (p *Pipe) Kind() domain.BackendKind { return domain.BackendPipe }

// Start launches command with its stdin and stdout piped.
func (p *Pipe) Start(name string, command []string, env map[string]string) error {
	if len(command) == 0 {
		return fmt.Errorf("start %s: empty command", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[name]; ok {
		return domain.ErrAlreadyRunning
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	p.procs[name] = &pipeProc{cmd: cmd, stdin: stdin}
	go p.drain(name, cmd, stdout)
	p.logger.Printf("started pipe worker %s (pid %d)", name, cmd.Process.Pid)
	return nil
}

// drain forwards worker output lines until the process exits.
func (p *Pipe) drain(name string, cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if p.onOutput != nil {
			p.onOutput(name, scanner.Text())
		}
	}
	err := cmd.Wait()

	p.mu.Lock()
	delete(p.procs, name)
	p.mu.Unlock()
	if err != nil {
		p.logger.Printf("pipe worker %s exited: %v", name, err)
	} else {
		p.logger.Printf("pipe worker %s exited", name)
	}
}

func (p *Pipe) writeFrame(name string, frame pipeFrame) error {
	p.mu.Lock()
	proc, ok := p.procs[name]
	p.mu.Unlock()
	if !ok {
		return domain.ErrNotRunning
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame for %s: %w", name, err)
	}
	// Bound the write so a worker that stops reading stdin cannot
	// block the caller (and its send lock) indefinitely.
	if d, ok := proc.stdin.(interface{ SetWriteDeadline(time.Time) error }); ok && p.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err == nil {
			defer d.SetWriteDeadline(time.Time{})
		}
	}
	if _, err := proc.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to %s: %w", name, err)
	}
	return nil
}

// Send delivers one message frame.
func (p *Pipe) Send(name, text string) error {
	return p.writeFrame(name, pipeFrame{Type: "message", Text: text})
}

// Interrupt delivers an interrupt frame.
func (p *Pipe) Interrupt(name string) error {
	return p.writeFrame(name, pipeFrame{Type: "interrupt"})
}

// Running implements Backend.
func (p *Pipe) Running(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[name]
	return ok
}

// Stop terminates the worker, escalating from SIGTERM to SIGKILL.
func (p *Pipe) Stop(name string) error {
	p.mu.Lock()
	proc, ok := p.procs[name]
	p.mu.Unlock()
	if !ok {
		return domain.ErrNotRunning
	}
	proc.stdin.Close()
	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	time.AfterFunc(2*time.Second, func() {
		p.mu.Lock()
		_, alive := p.procs[name]
		p.mu.Unlock()
		if alive {
			_ = proc.cmd.Process.Kill()
		}
	})
	return nil
}

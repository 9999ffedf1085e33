// fake_launcher.go - In-memory tail processes for session tests
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/apexlog/backend/internal/session"
)

// FakeProcess is a session.Process whose output is fed by the test.
type FakeProcess struct {
	// IgnoreTerm makes Terminate a no-op, forcing the kill path.
	IgnoreTerm bool

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu         sync.Mutex
	terminated int
	killed     int
	exitErr    error
	exited     chan struct{}
	once       sync.Once
}

// NewFakeProcess returns a running fake process.
func NewFakeProcess() *FakeProcess {
	p := &FakeProcess{exited: make(chan struct{})}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

// Emit writes text to stdout. It blocks until the session reads it.
func (p *FakeProcess) Emit(text string) error {
	_, err := io.WriteString(p.stdoutW, text)
	return err
}

// EmitErr writes text to stderr.
func (p *FakeProcess) EmitErr(text string) error {
	_, err := io.WriteString(p.stderrW, text)
	return err
}

// Exit ends the process with err as the Wait result.
func (p *FakeProcess) Exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		p.stdoutW.Close()
		p.stderrW.Close()
		close(p.exited)
	})
}

// Exited reports whether the process has ended.
func (p *FakeProcess) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Terminated returns how many times Terminate was called.
func (p *FakeProcess) Terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Killed returns how many times Kill was called.
func (p *FakeProcess) Killed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *FakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *FakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *FakeProcess) Pid() int          { return 4242 }

func (p *FakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.IgnoreTerm
	p.mu.Unlock()
	if !ignore {
		p.Exit(nil)
	}
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.Exit(nil)
	return nil
}

func (p *FakeProcess) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// FakeLauncher records every launch and hands out FakeProcesses.
type FakeLauncher struct {
	// Err, when set, fails every launch.
	Err error
	// IgnoreTerm is copied onto each new process.
	IgnoreTerm bool

	mu      sync.Mutex
	procs   []*FakeProcess
	targets []string
}

// Launch implements session.Launcher.
func (l *FakeLauncher) Launch(ctx context.Context, target string) (session.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets = append(l.targets, target)
	if l.Err != nil {
		return nil, l.Err
	}
	p := NewFakeProcess()
	p.IgnoreTerm = l.IgnoreTerm
	l.procs = append(l.procs, p)
	return p, nil
}

// Last returns the most recently launched process, or nil.
func (l *FakeLauncher) Last() *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

// Targets returns the target of every launch attempt.
func (l *FakeLauncher) Targets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.targets...)
}

// Live counts launched processes that have not exited.
func (l *FakeLauncher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.procs {
		if !p.Exited() {
			n++
		}
	}
	return n
}

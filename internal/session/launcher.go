package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// ErrLaunchFailed wraps every failure to start the tail subprocess.
var ErrLaunchFailed = errors.New("launching tail process")

// Process is a running tail subprocess. Stdout and Stderr must be read to
// EOF before Wait is called.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate asks the process to shut down gracefully.
	Terminate() error
	Kill() error
	Wait() error
	Pid() int
}

// Launcher starts tail subprocesses for a target org.
type Launcher interface {
	Launch(ctx context.Context, target string) (Process, error)
}

// CommandLauncher runs an external command such as `sf apex tail log`.
type CommandLauncher struct {
	Command    string
	Args       []string
	TargetFlag string
	Dir        string
}

// NewSFLauncher returns a launcher for the Salesforce CLI's log tail.
func NewSFLauncher(command, dir string) *CommandLauncher {
	if command == "" {
		command = "sf"
	}
	return &CommandLauncher{
		Command:    command,
		Args:       []string{"apex", "tail", "log"},
		TargetFlag: "--target-org",
		Dir:        dir,
	}
}

// Launch starts the command. ctx only bounds the launch itself; the
// process outlives it and is stopped through Terminate or Kill.
func (l *CommandLauncher) Launch(ctx context.Context, target string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	path, err := exec.LookPath(l.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrLaunchFailed, l.Command, err)
	}

	args := append([]string{}, l.Args...)
	if target != "" && l.TargetFlag != "" {
		args = append(args, l.TargetFlag, target)
	}
	cmd := exec.Command(path, args...)
	cmd.Dir = l.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunchFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
func (p *execProcess) Kill() error       { return p.cmd.Process.Kill() }

func (p *execProcess) Terminate() error {
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Platforms without SIGTERM only support Kill.
		return p.cmd.Process.Kill()
	}
	return nil
}

package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyOutput means the agent exited cleanly but said nothing.
var ErrEmptyOutput = errors.New("agent produced no output")

// Agent produces a free-text analysis of the logs staged in dir.
type Agent interface {
	Run(ctx context.Context, dir, prompt string) (string, error)
}

// CommandAgent runs an external command with the prompt as its final
// argument, e.g. `claude -p <prompt>`, inside the analysis directory.
type CommandAgent struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewCommandAgent returns an agent for command. A zero timeout means none.
func NewCommandAgent(command string, args []string, timeout time.Duration) *CommandAgent {
	return &CommandAgent{Command: command, Args: args, Timeout: timeout}
}

// Run executes the agent and returns its trimmed stdout.
func (a *CommandAgent) Run(ctx context.Context, dir, prompt string) (string, error) {
	if a.Command == "" {
		return "", errors.New("no agent command configured")
	}
	path, err := exec.LookPath(a.Command)
	if err != nil {
		return "", fmt.Errorf("agent %s not found: %w", a.Command, err)
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, a.Args...), prompt)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("agent %s: %w", a.Command, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("agent %s failed: %w: %s", a.Command, err, msg)
		}
		return "", fmt.Errorf("agent %s failed: %w", a.Command, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

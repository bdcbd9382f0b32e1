package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Output caps for shell results.
const maxShellOutputBytes = 256 << 10

// ShellTools runs commands in the workspace with a hard timeout ceiling.
type ShellTools struct {
	root    string
	ceiling time.Duration
}

// NewShellTools confines shell execution to the given working directory and
// clamps per-call timeouts to ceiling.
func NewShellTools(root string, ceiling time.Duration) (*ShellTools, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("tools: failed to resolve shell root: %w", err)
	}
	if ceiling <= 0 {
		ceiling = 2 * time.Minute
	}
	return &ShellTools{root: abs, ceiling: ceiling}, nil
}

type shellRunInput struct {
	Command        string `json:"command" jsonschema_description:"Shell command line to execute via sh -c."`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema_description:"Timeout in seconds; clamped to the server ceiling."`
	Dir            string `json:"dir,omitempty" jsonschema_description:"Workspace-relative working directory."`
}

type shellRunOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Definitions returns the shell tool set.
func (s *ShellTools) Definitions() []Definition {
	return []Definition{
		{
			Name:        "shell_run",
			Description: "Run a shell command in the workspace. On timeout the whole process group is killed and partial output is returned.",
			InputSchema: GenerateSchema[shellRunInput](),
			Handler:     s.run,
		},
	}
}

func (s *ShellTools) run(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[shellRunInput](input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrBadInput)
	}

	dir := s.root
	if in.Dir != "" {
		if filepath.IsAbs(in.Dir) {
			return nil, fmt.Errorf("%w: absolute working directories are not allowed", ErrBadInput)
		}
		dir = filepath.Clean(filepath.Join(s.root, in.Dir))
		if dir != s.root && !strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: working directory escapes the workspace", ErrBadInput)
		}
	}

	timeout := time.Duration(in.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > s.ceiling {
		timeout = s.ceiling
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", in.Command)
	cmd.Dir = dir
	// Run the command in its own process group so a timeout kills the whole
	// tree, not just the shell. Orphaned grandchildren would otherwise keep
	// running after the call returns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := shellRunOutput{
		Stdout: clamp(stdout.String(), maxShellOutputBytes),
		Stderr: clamp(stderr.String(), maxShellOutputBytes),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, fmt.Errorf("failed to run command: %w", runErr)
	}
	return out, nil
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

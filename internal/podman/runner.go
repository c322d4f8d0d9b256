package podman

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/containerd/errdefs"
)

// Runner executes podman commands. It is an interface so tests can replace
// the podman binary with a scripted fake.
type Runner interface {
	// Run executes the command and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream executes the command with stdout copied to out.
	Stream(ctx context.Context, out io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), newCommandError(args, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// Stream implements Runner.
func (ExecRunner) Stream(ctx context.Context, out io.Writer, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, &stderr)
	if err := cmd.Run(); err != nil {
		return newCommandError(args, lastLine(stderr.String()), err)
	}
	return nil
}

// CommandError is a failed podman invocation.
type CommandError struct {
	Args   []string
	Stderr string

	// Code is the process exit code, or -1 if the process did not run.
	Code int

	Err error
}

func newCommandError(args []string, stderr string, err error) *CommandError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{Args: args, Stderr: stderr, Code: code, Err: err}
}

// Error satisfies the error interface.
func (e *CommandError) Error() string {
	verb := ""
	if len(e.Args) > 0 {
		verb = e.Args[0]
	}
	if e.Stderr != "" {
		return fmt.Sprintf("podman %s: %s", verb, e.Stderr)
	}
	return fmt.Sprintf("podman %s: %v", verb, e.Err)
}

// Unwrap returns the process error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// classify maps podman's error messages onto errdefs sentinels.
func classify(err error) error {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	msg := strings.ToLower(cmdErr.Stderr)
	switch {
	case strings.Contains(msg, "no such container"),
		strings.Contains(msg, "no such network"),
		strings.Contains(msg, "network not found"),
		strings.Contains(msg, "no such image"),
		strings.Contains(msg, "image not known"):
		return fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
	case strings.Contains(msg, "already in use"),
		strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %w", errdefs.ErrConflict, err)
	}
	return err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

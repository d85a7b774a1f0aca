// Package runner executes external tools (ffmpeg, yt-dlp, whisperx) behind an
// interface so pipeline stages can be exercised without the binaries installed.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	stderrTail = 2048
	waitDelay  = 5 * time.Second
)

// Result captures the output of one command invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs one external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Func adapts a plain function to Runner.
type Func func(ctx context.Context, name string, args ...string) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f(ctx, name, args...)
}

// CommandError describes a command that exited unsuccessfully.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited %d: %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited %d: %v: %s", e.Command, e.ExitCode, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Exec runs commands through os/exec. The process is killed when ctx is
// cancelled and always reaped before Run returns.
type Exec struct {
	// Env is appended to the current environment.
	Env []string
}

// Run executes name with args and captures stdout and stderr.
func (e Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binaries come from deployment config
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	return res, &CommandError{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stderr:   tail(stderr.String()),
		Err:      err,
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTail {
		return s
	}
	return "..." + s[len(s)-stderrTail:]
}

package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stderrTailBytes bounds how much diagnostic output is kept per invocation.
const stderrTailBytes = 64 * 1024

// Output captures what an invocation produced.
type Output struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// Runner executes a Command. A non-nil error means the process could not be
// started or did not exit cleanly; Output is populated as far as possible in
// both cases.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// RunError describes an unclean process exit.
type RunError struct {
	Kind     Kind
	ExitCode int
	Signaled bool
	TimedOut bool
	Err      error
}

func (e *RunError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s timed out", e.Kind)
	case e.Signaled:
		return fmt.Sprintf("%s killed by signal: %v", e.Kind, e.Err)
	case e.ExitCode != 0:
		return fmt.Sprintf("%s exited with status %d", e.Kind, e.ExitCode)
	default:
		return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
	}
}

func (e *RunError) Unwrap() error { return e.Err }

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run executes cmd, enforcing cmd.Timeout on top of ctx.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...) //nolint:gosec
	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrTailBytes}
	proc.Stdout = &stdout
	proc.Stderr = stderr

	started := time.Now()
	err := proc.Run()
	out := Output{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(started),
	}
	if err == nil {
		return out, nil
	}

	runErr := &RunError{Kind: cmd.Kind, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		runErr.ExitCode = out.ExitCode
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			runErr.Signaled = true
		}
	} else {
		out.ExitCode = -1
		runErr.ExitCode = -1
	}
	// A deadline on the invocation context that the caller's context does not
	// share is the per-command timeout firing.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		runErr.TimedOut = true
	}
	return out, runErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if overflow := len(t.buf) - t.limit; overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status is the terminal state of an external process run.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusTimedOut       Status = "timed_out"
	StatusCanceled       Status = "canceled"
	StatusOutputTooLarge Status = "output_too_large"
)

var (
	// ErrTimeout reports that the process exceeded its wall-clock budget and
	// was killed.
	ErrTimeout = errors.New("process timed out")
	// ErrCanceled reports that the caller's context was canceled before the
	// process finished; the process was killed.
	ErrCanceled = errors.New("process canceled")
	// ErrOutputTooLarge reports that the process produced more output than
	// the configured cap allows.
	ErrOutputTooLarge = errors.New("process output exceeded limit")
	// ErrProcessFailed reports a nonzero exit status; the wrapped message
	// carries the captured stderr tail.
	ErrProcessFailed = errors.New("process failed")
)

// DefaultMaxOutputBytes bounds captured stdout and stderr when an Invocation
// does not specify its own cap.
const DefaultMaxOutputBytes = 10 << 20

// Invocation describes one external command execution. It is a value type;
// callers build a fresh Invocation per request and discard it afterwards.
type Invocation struct {
	Path           string
	Args           []string
	Dir            string
	MaxOutputBytes int64
	Timeout        time.Duration
}

// Result is the outcome of running an Invocation.
type Result struct {
	Status   Status
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Run executes the invocation and blocks until the process exits, the timeout
// expires, or ctx is canceled. The child is started in its own process group
// and the whole group is killed on timeout or cancellation, so no orphaned
// processes remain once Run returns.
//
// A non-nil error is returned for every terminal state other than a clean
// zero exit; the Result is populated either way.
func Run(ctx context.Context, inv Invocation) (Result, error) {
	if strings.TrimSpace(inv.Path) == "" {
		return Result{Status: StatusFailed}, fmt.Errorf("invocation path is required")
	}

	maxOutput := inv.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	stdout := newCappedBuffer(maxOutput, cancel)
	stderr := newCappedBuffer(maxOutput, cancel)

	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the whole process group, catching children
		// the tool forks for merge and post-processing stages.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailed, ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("start %s: %w", inv.Path, err)
	}
	waitErr := cmd.Wait()
	duration := time.Since(start)

	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case stdout.Exceeded() || stderr.Exceeded():
		result.Status = StatusOutputTooLarge
		return result, fmt.Errorf("%w: cap %d bytes", ErrOutputTooLarge, maxOutput)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimedOut
		return result, fmt.Errorf("%w after %s", ErrTimeout, inv.Timeout)
	case ctx.Err() != nil:
		result.Status = StatusCanceled
		return result, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
	case waitErr != nil:
		result.Status = StatusFailed
		return result, fmt.Errorf("%w: exit %d: %s", ErrProcessFailed, result.ExitCode, tail(result.Stderr, 512))
	default:
		result.Status = StatusSucceeded
		return result, nil
	}
}

// tail returns the last n bytes of s, trimmed, for diagnostics.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// cappedBuffer accumulates writes up to a byte cap. The first write that
// would exceed the cap marks the buffer exceeded and triggers the kill
// callback so the producing process stops instead of silently truncating.
type cappedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	written  int64
	exceeded bool
	onExceed context.CancelFunc
}

func newCappedBuffer(limit int64, onExceed context.CancelFunc) *cappedBuffer {
	return &cappedBuffer{limit: limit, onExceed: onExceed}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exceeded {
		return len(p), nil
	}
	if b.written+int64(len(p)) > b.limit {
		remaining := b.limit - b.written
		if remaining > 0 {
			b.buf.Write(p[:remaining])
			b.written = b.limit
		}
		b.exceeded = true
		if b.onExceed != nil {
			b.onExceed()
		}
		return len(p), nil
	}
	b.buf.Write(p)
	b.written += int64(len(p))
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

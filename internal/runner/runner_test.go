package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	result, err := Run(context.Background(), Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo out; echo err >&2"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
	if strings.TrimSpace(result.Stdout) != "out" {
		t.Fatalf("unexpected stdout %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", result.ExitCode)
	}
}

func TestRunReportsNonzeroExit(t *testing.T) {
	result, err := Run(context.Background(), Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if !errors.Is(err, ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %q", err.Error())
	}
}

func TestRunKillsOnTimeout(t *testing.T) {
	start := time.Now()
	result, err := Run(context.Background(), Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Run did not return promptly after timeout: %s", elapsed)
	}
}

func TestRunKillsChildrenOnTimeout(t *testing.T) {
	// The shell forks a grandchild; the process-group kill must take both
	// down or Run blocks on the inherited pipe until the grandchild exits.
	start := time.Now()
	_, err := Run(context.Background(), Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 30 & wait"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("grandchild outlived the kill: %s", elapsed)
	}
}

func TestRunReportsOutputTooLarge(t *testing.T) {
	result, err := Run(context.Background(), Invocation{
		Path:           "/bin/sh",
		Args:           []string{"-c", "while :; do echo xxxxxxxxxxxxxxxx; done"},
		MaxOutputBytes: 4096,
		Timeout:        10 * time.Second,
	})
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("expected ErrOutputTooLarge, got %v", err)
	}
	if result.Status != StatusOutputTooLarge {
		t.Fatalf("expected output_too_large, got %s", result.Status)
	}
	if int64(len(result.Stdout)) > 4096 {
		t.Fatalf("captured output exceeds cap: %d bytes", len(result.Stdout))
	}
}

func TestRunHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, err := Run(ctx, Invocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: time.Minute,
	})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if result.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", result.Status)
	}
}

func TestRunRequiresPath(t *testing.T) {
	if _, err := Run(context.Background(), Invocation{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

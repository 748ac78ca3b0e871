// Package runner spawns a single external process with a wall-clock timeout
// and an output-size cap. The process never outlives the call, on any exit
// path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when the process exceeds the wall-clock limit.
	ErrTimeout = errors.New("command timed out")
	// ErrOutputLimit is returned when accumulated stdout exceeds the cap.
	ErrOutputLimit = errors.New("command output limit exceeded")
	// ErrSpawn is returned when the process could not be started.
	ErrSpawn = errors.New("failed to spawn command")
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 1 << 20
	readChunkSize         = 4096
	maxStderrBytes        = 64 << 10
	killGracePeriod       = 3 * time.Second
)

// Spec describes one command invocation. Zero Timeout and MaxOutputBytes fall
// back to the runner defaults.
type Spec struct {
	Command        string
	Args           []string
	Timeout        time.Duration
	MaxOutputBytes int64
}

// Result captures the output of a finished process. A non-zero ExitCode is
// not an error at this layer; the caller decides what it means for the tool.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands under the configured default limits.
type Runner struct {
	Timeout        time.Duration
	MaxOutputBytes int64
}

// New creates a runner with the given default limits.
func New(timeout time.Duration, maxOutputBytes int64) *Runner {
	return &Runner{Timeout: timeout, MaxOutputBytes: maxOutputBytes}
}

// Run spawns the command and streams stdout until the process exits, the
// timeout expires, or the output cap is crossed. Captured stdout never
// exceeds the cap by more than one read chunk.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = r.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxBytes := spec.MaxOutputBytes
	if maxBytes == 0 {
		maxBytes = r.MaxOutputBytes
	}
	if maxBytes == 0 {
		maxBytes = defaultMaxOutputBytes
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.WaitDelay = killGracePeriod

	var stderr limitedBuffer
	stderr.limit = maxStderrBytes
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var stdout strings.Builder
	limitHit := false
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := stdoutPipe.Read(buf)
		if n > 0 {
			stdout.Write(buf[:n])
			if int64(stdout.Len()) > maxBytes {
				limitHit = true
				// Kill immediately so a runaway process cannot keep
				// producing; the pipe is drained below so Wait can return.
				_ = cmd.Process.Kill()
				break
			}
		}
		if readErr != nil {
			break
		}
	}
	if limitHit {
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}

	waitErr := cmd.Wait()

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if limitHit {
		return result, fmt.Errorf("%w: stdout exceeded %d bytes", ErrOutputLimit, maxBytes)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if runCtx.Err() != nil {
		return result, runCtx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Non-zero exit: report through ExitCode, not as a runner error.
			return result, nil
		}
		return result, fmt.Errorf("%w: %v", ErrSpawn, waitErr)
	}
	return result, nil
}

// limitedBuffer keeps at most limit bytes and silently drops the rest.
type limitedBuffer struct {
	buf   strings.Builder
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

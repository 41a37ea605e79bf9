// Package host runs the external capability binaries (display capture,
// OCR, input injection) as subprocesses with bounded timeouts.
package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type RunResult struct {
	Output   []byte
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner executes the command and returns stdout only. Capture output
// is binary image data, so stderr must never be mixed in; it is folded
// into the error instead.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

type Config struct {
	CommandTimeout time.Duration
	RetryBackoff   []time.Duration
}

type Executor struct {
	cfg    Config
	runner Runner
}

func NewExecutor(cfg Config) *Executor {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	return &Executor{
		cfg:    cfg,
		runner: OSRunner{},
	}
}

func NewExecutorWithRunner(cfg Config, runner Runner) *Executor {
	e := NewExecutor(cfg)
	e.runner = runner
	return e
}

// Run executes the command with the configured timeout. Read-only
// commands (capture, OCR) are retried with backoff and jitter; input
// injection is never retried, a repeated key press is a second action.
func (e *Executor) Run(ctx context.Context, command []string) (RunResult, error) {
	if len(command) == 0 {
		return RunResult{}, fmt.Errorf("empty command")
	}

	maxAttempts := 1
	if isRetryableCommand(command) {
		maxAttempts += len(e.cfg.RetryBackoff)
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
		out, err := e.runner.Run(runCtx, command[0], command[1:]...)
		cancel()
		if err == nil {
			return RunResult{Output: out, Duration: time.Since(start)}, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			backoff := e.cfg.RetryBackoff[attempt-1]
			jitter := time.Duration(0)
			maxJitter := int64(backoff / 4)
			if maxJitter > 0 {
				jitter = time.Duration(time.Now().UTC().UnixNano() % maxJitter)
			}
			select {
			case <-ctx.Done():
				return RunResult{}, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
	}

	return RunResult{}, fmt.Errorf("run %s: %w", command[0], lastErr)
}

func isRetryableCommand(command []string) bool {
	switch command[0] {
	case "import", "scrot", "tesseract":
		return true
	default:
		return false
	}
}

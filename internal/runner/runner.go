// Package runner executes external build commands with a bounded lifetime
// and bounded captured output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sevigo/build-warden/internal/core"
)

// ErrStart is returned when a process could not be started at all.
var ErrStart = errors.New("failed to start process")

// DefaultOutputLimit caps captured output when a command sets no limit.
const DefaultOutputLimit = 64 * 1024

// waitDelay bounds how long Wait keeps reading output after the process
// group has been killed.
const waitDelay = 5 * time.Second

// LineSink receives every complete line of combined output as it is produced.
type LineSink func(line string)

// Runner is a core.ProcessRunner backed by os/exec. Every child runs in its
// own process group so that a timeout or cancellation kills all processes it
// spawned, not just the direct child.
type Runner struct {
	logger *slog.Logger
	sink   LineSink
}

var _ core.ProcessRunner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithLineSink streams output lines to sink in addition to capturing them.
func WithLineSink(sink LineSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// New returns a Runner.
func New(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts cmd and waits for it to finish, time out, or be cancelled via
// ctx. A non-zero exit status is reported in the outcome; only a failure to
// start the process is returned as an error.
func (r *Runner) Run(ctx context.Context, cmd core.Command) (*core.ProcessOutcome, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	limit := cmd.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	out := newBoundedBuffer(limit, r.sink)

	c := exec.Command(cmd.Name, cmd.Args...) //nolint:gosec // commands come from the operator's pipeline file
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = waitDelay
	setProcessGroup(c)

	if err := runCtx.Err(); err != nil {
		return &core.ProcessOutcome{ExitCode: -1, Outcome: outcomeFor(err)}, nil
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, cmd.Name, err)
	}
	r.logger.DebugContext(ctx, "process started", "command", cmd.Name, "pid", c.Process.Pid, "dir", cmd.Dir)

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var (
		waitErr error
		killed  error
	)
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		killed = runCtx.Err()
		if err := killProcessGroup(c.Process); err != nil {
			r.logger.WarnContext(ctx, "failed to kill process group", "pid", c.Process.Pid, "error", err)
		}
		waitErr = <-done
	}
	out.flush()

	outcome := &core.ProcessOutcome{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}

	switch {
	case killed != nil:
		outcome.ExitCode = -1
		outcome.Outcome = outcomeFor(killed)
	case waitErr == nil:
		outcome.ExitCode = 0
		outcome.Outcome = core.OutcomeSucceeded
	default:
		outcome.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		}
		outcome.Outcome = core.OutcomeFailed
	}

	r.logger.DebugContext(ctx, "process finished",
		"command", cmd.Name,
		"exit_code", outcome.ExitCode,
		"outcome", outcome.Outcome,
		"duration", outcome.Duration,
		"truncated", outcome.Truncated,
	)
	return outcome, nil
}

func outcomeFor(ctxErr error) core.StepOutcome {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return core.OutcomeTimedOut
	}
	return core.OutcomeCancelled
}

// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"time"
)

//go:generate mockgen -destination=../../mocks/mock_core.go -package=mocks . JobStore,ProcessRunner,JobScheduler,JobExecutor

// JobScheduler defines the contract for a system that can accept and queue
// build jobs for asynchronous execution. This interface decouples the
// event source (e.g., a webhook handler) from the job execution mechanism.
type JobScheduler interface {
	// Submit queues a persisted QUEUED job for execution. It never blocks on
	// execution; it returns an error when the job cannot be admitted, for
	// example when the pending queue is full.
	Submit(job *BuildJob) error

	// Cancel requests cancellation of a pending or running job. It reports
	// whether the scheduler knew about the job.
	Cancel(jobID string) bool
}

// JobExecutor runs the step sequence of one job, persisting every state
// change through the JobStore as it goes.
type JobExecutor interface {
	Execute(ctx context.Context, job *BuildJob, steps []StepSpec) error
}

// JobStore is the durable record of build jobs. It is the only component
// that reads or writes persisted job data.
type JobStore interface {
	CreateJob(ctx context.Context, job *BuildJob) error
	// TransitionJob moves a job from one state to another. It fails with
	// ErrInvalidTransition if the edge is illegal or the stored state is no
	// longer from.
	TransitionJob(ctx context.Context, id string, from, to JobState, patch JobPatch) error
	AppendStepResult(ctx context.Context, id string, step StepResult) error
	GetJob(ctx context.Context, id string) (*BuildJob, error)
	ListNonTerminal(ctx context.Context) ([]*BuildJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*BuildJob, error)
}

// StepSpec is one configured step of a pipeline.
type StepSpec struct {
	Name    string            `yaml:"name" json:"name"`
	Command []string          `yaml:"command" json:"command"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
}

// Command describes one external process invocation.
type Command struct {
	Name        string
	Args        []string
	Dir         string
	Env         []string
	Timeout     time.Duration
	OutputLimit int
}

// ProcessOutcome is what a finished (or killed) process produced.
type ProcessOutcome struct {
	ExitCode  int
	Output    string
	Truncated bool
	Duration  time.Duration
	Outcome   StepOutcome
}

// ProcessRunner executes one external command with a bounded lifetime.
// A non-zero exit is reported in the outcome, not as an error; only failure
// to start the process is an error.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (*ProcessOutcome, error)
}

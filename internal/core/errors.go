package core

import "errors"

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrDuplicateDelivery = errors.New("a job already exists for this delivery")
	ErrAlreadyFinished   = errors.New("job has already finished")
	ErrUnknownRepository = errors.New("repository is not registered for builds")

	// ErrOverloaded is returned by JobScheduler.Submit when the pending queue is full.
	ErrOverloaded = errors.New("build queue is full")
	// ErrSchedulerStopped is returned by JobScheduler.Submit after shutdown has begun.
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

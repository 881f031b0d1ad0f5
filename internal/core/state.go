package core

import "fmt"

// JobState is the lifecycle state of a BuildJob.
type JobState string

const (
	StateQueued      JobState = "QUEUED"
	StateRunning     JobState = "RUNNING"
	StateSucceeded   JobState = "SUCCEEDED"
	StateFailed      JobState = "FAILED"
	StateTimedOut    JobState = "TIMED_OUT"
	StateCancelled   JobState = "CANCELLED"
	StateInterrupted JobState = "INTERRUPTED"
)

// transitions lists every legal edge of the job state machine.
// Terminal states have no outgoing edges.
var transitions = map[JobState][]JobState{
	StateQueued:  {StateRunning, StateCancelled},
	StateRunning: {StateSucceeded, StateFailed, StateTimedOut, StateCancelled, StateInterrupted},
}

// IsTerminal reports whether no further transition can leave s.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled, StateInterrupted:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	return s == StateQueued || s == StateRunning || s.IsTerminal()
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidatePath checks that states is a walk through the state machine that
// starts at QUEUED.
func ValidatePath(states []JobState) error {
	if len(states) == 0 {
		return nil
	}
	if states[0] != StateQueued {
		return fmt.Errorf("path must start at %s, got %s", StateQueued, states[0])
	}
	for i := 1; i < len(states); i++ {
		if !CanTransition(states[i-1], states[i]) {
			return fmt.Errorf("illegal transition %s -> %s at position %d", states[i-1], states[i], i)
		}
	}
	return nil
}

// Summary is the coarse outcome recorded on a finished job.
type Summary string

const (
	SummarySuccess     Summary = "success"
	SummaryFailure     Summary = "failure"
	SummaryTimeout     Summary = "timeout"
	SummaryCancelled   Summary = "cancelled"
	SummaryInterrupted Summary = "interrupted"
)

// SummaryFor maps a terminal state to its exit summary.
func SummaryFor(s JobState) Summary {
	switch s {
	case StateSucceeded:
		return SummarySuccess
	case StateTimedOut:
		return SummaryTimeout
	case StateCancelled:
		return SummaryCancelled
	case StateInterrupted:
		return SummaryInterrupted
	default:
		return SummaryFailure
	}
}

// StepOutcome classifies how a single step ended.
type StepOutcome string

const (
	OutcomeSucceeded StepOutcome = "succeeded"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeTimedOut  StepOutcome = "timed_out"
	OutcomeCancelled StepOutcome = "cancelled"
	OutcomeSkipped   StepOutcome = "skipped"
)

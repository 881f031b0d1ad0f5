package core

import (
	"time"
)

// TriggerKind records what created a job.
type TriggerKind string

const (
	TriggerWebhook TriggerKind = "webhook"
	TriggerManual  TriggerKind = "manual"
)

// BuildJob is one build-and-test execution for a repository at a commit.
// It is owned by the JobStore; other components hold copies while acting on it.
type BuildJob struct {
	ID         string      `json:"id" db:"id"`
	Repository string      `json:"repository" db:"repository"`
	CloneURL   string      `json:"clone_url" db:"clone_url"`
	CommitSHA  string      `json:"commit_sha" db:"commit_sha"`
	Ref        string      `json:"ref,omitempty" db:"ref"`
	Pipeline   string      `json:"pipeline" db:"pipeline"`
	DeliveryID *string     `json:"delivery_id,omitempty" db:"delivery_id"`
	Trigger    TriggerKind `json:"trigger" db:"trigger"`
	State      JobState    `json:"state" db:"state"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	Summary    Summary     `json:"summary,omitempty" db:"summary"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty" db:"finished_at"`

	Steps []StepResult `json:"steps" db:"-"`
}

// Clone returns a deep copy so callers cannot mutate store-owned data.
func (j *BuildJob) Clone() *BuildJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.DeliveryID != nil {
		id := *j.DeliveryID
		c.DeliveryID = &id
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.Steps = append([]StepResult(nil), j.Steps...)
	return &c
}

// StepResult records one executed (or skipped) step of a job.
type StepResult struct {
	JobID     string        `json:"-" db:"job_id"`
	Index     int           `json:"index" db:"step_index"`
	Name      string        `json:"name" db:"name"`
	Command   string        `json:"command" db:"command"`
	ExitCode  int           `json:"exit_code" db:"exit_code"`
	Output    string        `json:"output,omitempty" db:"output"`
	Truncated bool          `json:"truncated" db:"truncated"`
	Duration  time.Duration `json:"duration_ns" db:"duration_ns"`
	Outcome   StepOutcome   `json:"outcome" db:"outcome"`
	StartedAt *time.Time    `json:"started_at,omitempty" db:"started_at"`
}

// JobPatch carries the fields written together with a state transition.
type JobPatch struct {
	Reason     string
	StartedAt  *time.Time
	FinishedAt *time.Time
	Summary    Summary
	// ReleaseDelivery clears the job's delivery id so a redelivery of the
	// same event can create a new job.
	ReleaseDelivery bool
}

// JobFilter narrows a job listing. Zero values match everything.
type JobFilter struct {
	Repository string
	State      JobState
	Limit      int
}

// WebhookDelivery identifies one inbound event transmission.
type WebhookDelivery struct {
	DeliveryID    string
	EventType     string
	PayloadDigest string
	ReceivedAt    time.Time
}

// Admission is the deduplicator's verdict for a delivery id.
type Admission int

const (
	Accepted Admission = iota
	Duplicate
)

func (a Admission) String() string {
	if a == Accepted {
		return "accepted"
	}
	return "duplicate"
}

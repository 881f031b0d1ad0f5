package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sevigo/build-warden/internal/core"
)

const uniqueViolation = "23505"

type postgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a PostgreSQL-backed JobStore. The schema is created by
// the migrations in internal/db.
func NewStore(db *sqlx.DB) core.JobStore {
	return &postgresStore{db: db, now: time.Now}
}

const jobColumns = `id, repository, clone_url, commit_sha, ref, pipeline, delivery_id, trigger,
	state, reason, summary, created_at, started_at, finished_at`

func (s *postgresStore) CreateJob(ctx context.Context, job *core.BuildJob) error {
	if err := validateNewJob(job); err != nil {
		return err
	}

	query := `INSERT INTO build_jobs (` + jobColumns + `)
		VALUES (:id, :repository, :clone_url, :commit_sha, :ref, :pipeline, :delivery_id, :trigger,
			:state, :reason, :summary, :created_at, :started_at, :finished_at)`
	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && strings.Contains(pqErr.Constraint, "delivery_id") {
			return fmt.Errorf("%w: %s", core.ErrDuplicateDelivery, deref(job.DeliveryID))
		}
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// TransitionJob is a compare-and-set on the stored state, so two writers can
// never both move the same job out of from.
func (s *postgresStore) TransitionJob(ctx context.Context, id string, from, to core.JobState, patch core.JobPatch) error {
	if !core.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
	}

	// Start from a scratch job so terminal bookkeeping matches the memory store.
	var scratch core.BuildJob
	applyPatch(&scratch, to, patch, s.now())

	query := `UPDATE build_jobs SET
			state = $1,
			reason = COALESCE(NULLIF($2, ''), reason),
			started_at = COALESCE($3, started_at),
			finished_at = COALESCE($4, finished_at),
			summary = COALESCE(NULLIF($5, ''), summary),
			delivery_id = CASE WHEN $8 THEN NULL ELSE delivery_id END
		WHERE id = $6 AND state = $7`
	res, err := s.db.ExecContext(ctx, query,
		to, scratch.Reason, scratch.StartedAt, scratch.FinishedAt, scratch.Summary, id, from, patch.ReleaseDelivery)
	if err != nil {
		return fmt.Errorf("failed to transition job %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var current core.JobState
	err = s.db.GetContext(ctx, &current, `SELECT state FROM build_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read state of job %s: %w", id, err)
	}
	return fmt.Errorf("%w: job %s is %s, not %s", core.ErrInvalidTransition, id, current, from)
}

func (s *postgresStore) AppendStepResult(ctx context.Context, id string, step core.StepResult) error {
	step.JobID = id
	query := `INSERT INTO step_results
			(job_id, step_index, name, command, exit_code, output, truncated, duration_ns, outcome, started_at)
		SELECT :job_id, :step_index, :name, :command, :exit_code, :output, :truncated, :duration_ns, :outcome, :started_at
		WHERE EXISTS (SELECT 1 FROM build_jobs WHERE id = :job_id AND state = 'RUNNING')`
	res, err := s.db.NamedExecContext(ctx, query, step)
	if err != nil {
		return fmt.Errorf("failed to record step %q of job %s: %w", step.Name, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: cannot record steps for job %s unless it is running", core.ErrInvalidTransition, id)
	}
	return nil
}

func (s *postgresStore) GetJob(ctx context.Context, id string) (*core.BuildJob, error) {
	var job core.BuildJob
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM build_jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	err = s.db.SelectContext(ctx, &job.Steps, `
		SELECT job_id, step_index, name, command, exit_code, output, truncated, duration_ns, outcome, started_at
		FROM step_results
		WHERE job_id = $1
		ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of job %s: %w", id, err)
	}
	return &job, nil
}

func (s *postgresStore) ListNonTerminal(ctx context.Context) ([]*core.BuildJob, error) {
	var jobs []*core.BuildJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM build_jobs
		WHERE state IN ('QUEUED', 'RUNNING')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return jobs, nil
}

func (s *postgresStore) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.BuildJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Repository != "" {
		where = append(where, "repository = ?")
		args = append(args, filter.Repository)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}

	query := `SELECT ` + jobColumns + ` FROM build_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	var jobs []*core.BuildJob
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/metrics"
)

// Status is the outcome of ingesting one delivery.
type Status string

const (
	StatusAccepted        Status = "accepted"
	StatusUnauthenticated Status = "unauthenticated"
	StatusDuplicate       Status = "duplicate"
	StatusOverloaded      Status = "overloaded"
	StatusIgnored         Status = "ignored"
	StatusInvalid         Status = "invalid"
)

// HTTPStatus maps an ingestion outcome to the response code for the sender.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusAccepted:
		return http.StatusAccepted
	case StatusUnauthenticated:
		return http.StatusUnauthorized
	case StatusOverloaded:
		return http.StatusServiceUnavailable
	case StatusInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// Delivery is one inbound webhook transmission as received.
type Delivery struct {
	Body       []byte
	DeliveryID string
	EventType  string
	Signature  string
}

// Result describes what ingestion did with a delivery.
type Result struct {
	Status Status `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Enqueuer creates and schedules a job.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.Request) (*core.BuildJob, error)
}

// Registry answers which repositories are built.
type Registry interface {
	Repository(name string) (core.RepositoryConfig, bool)
}

// Ingestor turns authenticated deliveries into jobs. Ordering is fixed:
// verify, validate headers, parse, deduplicate, apply trigger policy,
// create the job, submit it.
type Ingestor struct {
	verifier *SignatureVerifier
	dedup    *Deduplicator
	jobs     Enqueuer
	registry Registry
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(verifier *SignatureVerifier, dedup *Deduplicator, enqueuer Enqueuer, registry Registry, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		verifier: verifier,
		dedup:    dedup,
		jobs:     enqueuer,
		registry: registry,
		logger:   logger,
	}
}

// Ingest processes one delivery. Every sender-visible outcome is a Result;
// the error is non-nil only when the job store failed, in which case the
// sender should retry.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) (Result, error) {
	res, err := i.ingest(ctx, d)
	status := string(res.Status)
	if err != nil {
		status = "error"
	}
	metrics.ObserveDelivery(d.EventType, status)
	return res, err
}

func (i *Ingestor) ingest(ctx context.Context, d Delivery) (Result, error) {
	log := i.logger.With("delivery_id", d.DeliveryID, "event", d.EventType)

	if err := i.verifier.Verify(d.Body, d.Signature); err != nil {
		log.WarnContext(ctx, "rejected webhook delivery", "error", err, "signature", signaturePreview(d.Signature))
		return Result{Status: StatusUnauthenticated}, nil
	}

	if d.DeliveryID == "" || d.EventType == "" {
		return Result{Status: StatusInvalid, Reason: "missing delivery id or event type header"}, nil
	}

	switch d.EventType {
	case "ping":
		log.InfoContext(ctx, "received ping event")
		return Result{Status: StatusIgnored, Reason: "ping"}, nil
	case "push", "pull_request":
	default:
		log.DebugContext(ctx, "ignoring unsupported event type")
		return Result{Status: StatusIgnored, Reason: "unsupported event type " + d.EventType}, nil
	}

	event, err := github.ParseWebHook(d.EventType, d.Body)
	if err != nil {
		log.WarnContext(ctx, "failed to parse webhook payload", "error", err)
		return Result{Status: StatusInvalid, Reason: "malformed payload"}, nil
	}

	delivery := core.WebhookDelivery{
		DeliveryID:    d.DeliveryID,
		EventType:     d.EventType,
		PayloadDigest: payloadDigest(d.Body),
		ReceivedAt:    time.Now(),
	}
	if i.dedup.Admit(delivery.DeliveryID) == core.Duplicate {
		log.InfoContext(ctx, "duplicate delivery, no new job", "payload_digest", delivery.PayloadDigest)
		return Result{Status: StatusDuplicate}, nil
	}

	trigger, err := triggerFrom(event)
	if err != nil {
		if errors.Is(err, core.ErrNotTriggering) {
			log.DebugContext(ctx, "event does not trigger a build", "reason", err)
			return Result{Status: StatusIgnored, Reason: err.Error()}, nil
		}
		log.WarnContext(ctx, "webhook payload is missing build information", "error", err)
		return Result{Status: StatusInvalid, Reason: err.Error()}, nil
	}

	repo, ok := i.registry.Repository(trigger.Repository)
	if !ok {
		log.InfoContext(ctx, "repository is not registered", "repository", trigger.Repository)
		return Result{Status: StatusIgnored, Reason: "repository not registered"}, nil
	}
	if !repo.TriggersOn(trigger.Branch) {
		log.DebugContext(ctx, "branch does not trigger builds", "repository", repo.Name, "branch", trigger.Branch)
		return Result{Status: StatusIgnored, Reason: fmt.Sprintf("branch %s does not trigger builds", trigger.Branch)}, nil
	}

	job, err := i.jobs.Enqueue(ctx, jobs.Request{
		Repository: repo.Name,
		CloneURL:   trigger.CloneURL,
		CommitSHA:  trigger.CommitSHA,
		Ref:        trigger.Ref,
		DeliveryID: delivery.DeliveryID,
		Trigger:    core.TriggerWebhook,
	})
	switch {
	case err == nil:
		log.InfoContext(ctx, "accepted webhook delivery", "job_id", job.ID, "repository", job.Repository, "commit", job.CommitSHA)
		return Result{Status: StatusAccepted, JobID: job.ID}, nil
	case errors.Is(err, core.ErrDuplicateDelivery):
		return Result{Status: StatusDuplicate}, nil
	case errors.Is(err, core.ErrOverloaded), errors.Is(err, core.ErrSchedulerStopped):
		// Let the sender's redelivery through once capacity frees up.
		i.dedup.Forget(delivery.DeliveryID)
		log.WarnContext(ctx, "build queue refused job", "error", err)
		res := Result{Status: StatusOverloaded, Reason: err.Error()}
		if job != nil {
			res.JobID = job.ID
		}
		return res, nil
	default:
		i.dedup.Forget(delivery.DeliveryID)
		log.ErrorContext(ctx, "failed to create job for delivery", "error", err)
		return Result{}, fmt.Errorf("failed to create job for delivery %s: %w", delivery.DeliveryID, err)
	}
}

func triggerFrom(event any) (*core.BuildTrigger, error) {
	switch e := event.(type) {
	case *github.PushEvent:
		return core.TriggerFromPush(e)
	case *github.PullRequestEvent:
		return core.TriggerFromPullRequest(e)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", core.ErrNotTriggering, event)
	}
}

func payloadDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

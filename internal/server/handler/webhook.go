// Package handler provides HTTP handlers for the build-warden service.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/build-warden/internal/webhook"
)

// maxPayloadBytes matches the largest payload GitHub will deliver.
const maxPayloadBytes = 25 << 20

// WebhookHandler processes incoming webhooks from GitHub.
type WebhookHandler struct {
	ingestor Ingestor
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler backed by the given ingestor.
func NewWebhookHandler(ingestor Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor: ingestor,
		logger:   logger,
	}
}

// Handle reads one delivery and reports the ingestion outcome. The body is
// read unparsed so the signature is checked over the exact bytes received.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), webhook.Delivery{
		Body:       body,
		DeliveryID: github.DeliveryID(r),
		EventType:  github.WebHookType(r),
		Signature:  r.Header.Get(github.SHA256SignatureHeader),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to ingest webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record delivery")
		return
	}

	writeJSON(w, res.Status.HTTPStatus(), res)
}

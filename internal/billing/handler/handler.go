package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cargolink/internal/billing/webhook"
	dErrors "cargolink/pkg/domain-errors"
	"cargolink/pkg/platform/httputil"
	"cargolink/pkg/requestcontext"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Webhook-Signature"

	maxWebhookBody = 64 * 1024
)

// Processor applies payment notifications.
type Processor interface {
	Process(ctx context.Context, raw []byte, signature string) (webhook.Outcome, error)
}

// Handler receives YuKassa webhooks.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// New creates a Handler.
func New(processor Processor, logger *slog.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// Register mounts the payment webhook route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/yookassa", h.HandlePaymentWebhook)
}

type webhookResponse struct {
	Status string `json:"status"`
}

// HandlePaymentWebhook implements POST /webhooks/yookassa. Applied and
// duplicate deliveries both answer 200 so the provider stops retrying.
func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read payment webhook body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable body"))
		return
	}

	outcome, err := h.processor.Process(ctx, raw, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrWebhookValidation):
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "webhook rejected"))
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "payment webhook not applied",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "webhook not applied"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Status: string(outcome)})
}

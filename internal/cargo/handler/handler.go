package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cargolink/internal/cargo/models"
	"cargolink/internal/cargotech/client"
	dErrors "cargolink/pkg/domain-errors"
	"cargolink/pkg/platform/httputil"
	"cargolink/pkg/platform/middleware/signature"
	"cargolink/pkg/requestcontext"
)

// webhookBodyLimit caps CargoTech notification bodies.
const webhookBodyLimit = 16 * 1024

// SignatureHeader carries the hex HMAC-SHA256 of a CargoTech notification.
const SignatureHeader = "X-CargoTech-Signature"

// Service defines the cargo read operations.
type Service interface {
	List(ctx context.Context, userID int64, q client.ListQuery) (*models.ListResult, error)
	Detail(ctx context.Context, cargoID int64) (*models.DetailResult, error)
	Points(ctx context.Context, q client.PointQuery) (*models.PointsResult, error)
	ResetUser(ctx context.Context, userID int64) error
	CargoStatusChanged(ctx context.Context, cargoID int64) error
	CargoPosted(ctx context.Context) error
}

// Handler serves the cargo API and the CargoTech notification webhooks.
type Handler struct {
	service       Service
	logger        *slog.Logger
	webhookSecret string
}

// Option configures a Handler.
type Option func(*Handler)

// WithWebhookSecret sets the secret CargoTech signs notifications with.
// Without it every notification is refused.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) {
		h.webhookSecret = secret
	}
}

// New creates a Handler.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the user-facing routes. The router must already carry
// the user middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/cargos", h.HandleListCargos)
	r.Get("/api/cargos/{id}", h.HandleGetCargo)
	r.Get("/api/points", h.HandleSearchPoints)
	r.Delete("/api/cache/me", h.HandleResetCache)
}

// RegisterWebhooks mounts the CargoTech notification routes behind
// signature verification.
func (h *Handler) RegisterWebhooks(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(signature.Require(h.webhookSecret, SignatureHeader, webhookBodyLimit, h.logger))
		r.Post("/webhooks/cargotech/cargo-status", h.HandleCargoStatus)
		r.Post("/webhooks/cargotech/cargo-posted", h.HandleCargoPosted)
	})
}

// HandleListCargos implements GET /api/cargos.
func (h *Handler) HandleListCargos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	raw := r.URL.Query()
	params := make(map[string]string, len(raw))
	for key, values := range raw {
		if len(values) > 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "filter "+key+" given more than once"))
			return
		}
		params[key] = values[0]
	}
	q, err := client.NewListQuery(params)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid cargo filter",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.List(ctx, userID, q)
	if err != nil {
		h.logFailure(ctx, "failed to list cargos", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(res))
}

// HandleGetCargo implements GET /api/cargos/{id}.
func (h *Handler) HandleGetCargo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := httputil.RequireUserID(ctx, h.logger); err != nil {
		httputil.WriteError(w, err)
		return
	}
	cargoID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || cargoID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid cargo id"))
		return
	}

	res, err := h.service.Detail(ctx, cargoID)
	if err != nil {
		h.logFailure(ctx, "failed to get cargo", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDetailResponse(res))
}

// HandleSearchPoints implements GET /api/points?name=.
func (h *Handler) HandleSearchPoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := httputil.RequireUserID(ctx, h.logger); err != nil {
		httputil.WriteError(w, err)
		return
	}
	q, err := client.NewPointQuery(r.URL.Query().Get("name"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Points(ctx, q)
	if err != nil {
		h.logFailure(ctx, "failed to search points", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PointsResponse{Items: res.Points, Stale: res.Stale})
}

// HandleResetCache implements DELETE /api/cache/me.
func (h *Handler) HandleResetCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.ResetUser(ctx, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCargoStatus implements POST /webhooks/cargotech/cargo-status.
func (h *Handler) HandleCargoStatus(w http.ResponseWriter, r *http.Request) {
	event, ok := httputil.Bind[models.CargoStatusEvent](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.CargoStatusChanged(r.Context(), event.CargoID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCargoPosted implements POST /webhooks/cargotech/cargo-posted.
func (h *Handler) HandleCargoPosted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.CargoPosted(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logFailure logs at warn for expected upstream conditions and error otherwise.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelError
	if dErrors.HasCode(err, dErrors.CodeNotFound) ||
		dErrors.HasCode(err, dErrors.CodeRateLimited) ||
		dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable) {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

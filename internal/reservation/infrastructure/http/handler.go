package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/reservation-engine/internal/reservation/application"
	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	"github.com/orderflow/reservation-engine/pkg/retry"
)

type StockService interface {
	Reserve(ctx context.Context, orderID string) (time.Time, error)
	Confirm(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string, reason domain.CancelReason) error
}

type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, batchSize int) (application.ReapSummary, error)
}

type Handler struct {
	log        *slog.Logger
	service    StockService
	reaper     ExpiredReleaser
	cronSecret string
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, service StockService, reaper ExpiredReleaser, cronSecret string) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		reaper:     reaper,
		cronSecret: cronSecret,
		tracer:     otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/stock/{orderID}/reserve", h.reserve)
	r.Post("/stock/{orderID}/confirm", h.confirm)
	r.Post("/stock/{orderID}/release", h.release)
	r.Post("/internal/cron/release-expired", h.releaseExpired)
	return r
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	expiry, err := h.service.Reserve(ctx, orderID)
	if err != nil {
		h.writeError(w, orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"expiry":  expiry.Format(time.RFC3339),
	})
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmStock")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	if err := h.service.Confirm(ctx, orderID); err != nil {
		h.writeError(w, orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type releaseReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseStock")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")

	req := releaseReq{Reason: string(domain.ReasonCancelled)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
			return
		}
	}
	reason, ok := domain.ParseCancelReason(req.Reason)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "reason must be cancelled or expired"})
		return
	}

	if err := h.service.Release(ctx, orderID, reason); err != nil {
		h.writeError(w, orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// releaseExpired is invoked by an external scheduler, roughly every ten
// minutes. Authentication is a shared bearer secret supplied by the caller.
func (h *Handler) releaseExpired(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseExpiredReservations")
	defer span.End()

	auth := r.Header.Get("Authorization")
	want := "Bearer " + h.cronSecret
	if h.cronSecret == "" || subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	batch := application.DefaultReapBatchSize
	if raw := r.URL.Query().Get("batch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "batch must be a positive integer"})
			return
		}
		batch = n
	}

	summary, err := h.reaper.ReleaseExpired(ctx, batch)
	if err != nil {
		h.log.Error("release expired sweep failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": summary.Processed,
		"results":   summary.Results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, orderID string, err error) {
	var insufficient *domain.InsufficientStockError
	switch {
	case errors.Is(err, domain.ErrLockContention):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     insufficient.Error(),
			"product":   insufficient.Product,
			"available": insufficient.Available,
		})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyProcessed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, retry.ErrExhausted):
		h.log.Error("transient conflicts exhausted", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "storage conflict, try again"})
	default:
		h.log.Error("stock operation failed", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

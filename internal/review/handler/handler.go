package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aegis/internal/review/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the review queue as the reviewer console sees it.
type Service interface {
	ListPending(ctx context.Context, limit int) ([]*models.Task, error)
	Get(ctx context.Context, reviewID id.ReviewID) (*models.Task, error)
	Assign(ctx context.Context, reviewID id.ReviewID, reviewer id.ReviewerID) (*models.Task, error)
	Complete(ctx context.Context, reviewID id.ReviewID, reviewer id.ReviewerID, decision models.Decision, notes string) (*models.Task, error)
	Escalate(ctx context.Context, reviewID id.ReviewID, reason string) (*models.Task, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Handler serves the reviewer queue. Routes expect RequireReviewer upstream.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the queue endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/reviews", h.HandleListPending)
	r.Get("/reviews/stats", h.HandleStats)
	r.Get("/reviews/{reviewID}", h.HandleGet)
	r.Post("/reviews/{reviewID}/assign", h.HandleAssign)
	r.Post("/reviews/{reviewID}/decision", h.HandleDecide)
	r.Post("/reviews/{reviewID}/escalate", h.HandleEscalate)
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 200"))
			return
		}
		limit = n
	}
	tasks, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list pending reviews failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTasks(tasks))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "review stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := reviewIDParam(w, r)
	if !ok {
		return
	}
	task, err := h.service.Get(r.Context(), reviewID)
	if err != nil {
		h.fail(w, r, "get review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTask(task))
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := reviewIDParam(w, r)
	if !ok {
		return
	}
	task, err := h.service.Assign(r.Context(), reviewID, requestcontext.ReviewerID(r.Context()))
	if err != nil {
		h.fail(w, r, "assign review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTask(task))
}

func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID, ok := reviewIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[DecisionRequest](w, r, h.logger)
	if !ok {
		return
	}
	reviewer := requestcontext.ReviewerID(ctx)
	task, err := h.service.Complete(ctx, reviewID, reviewer, req.decision, req.Notes)
	if err != nil {
		h.fail(w, r, "complete review failed", err)
		return
	}
	h.logger.InfoContext(ctx, "review decided",
		"request_id", requestcontext.RequestID(ctx),
		"review_id", reviewID.String(),
		"reviewer_id", reviewer.String(),
		"decision", string(req.decision),
	)
	httputil.WriteJSON(w, http.StatusOK, FromTask(task))
}

func (h *Handler) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := reviewIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[EscalateRequest](w, r, h.logger)
	if !ok {
		return
	}
	task, err := h.service.Escalate(r.Context(), reviewID, req.Reason)
	if err != nil {
		h.fail(w, r, "escalate review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTask(task))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func reviewIDParam(w http.ResponseWriter, r *http.Request) (id.ReviewID, bool) {
	reviewID, err := id.ParseReviewID(chi.URLParam(r, "reviewID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid review id"))
		return id.ReviewID{}, false
	}
	return reviewID, true
}

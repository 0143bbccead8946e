package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/verification/models"
	"aegis/internal/verification/service"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// TokenIssuer hands a subject the bearer token for one request.
type TokenIssuer interface {
	Issue(g requestcontext.SubjectGrant, now time.Time) (string, error)
}

type Service interface {
	Initiate(ctx context.Context, subjectID id.SubjectID) (*models.Request, error)
	Reverify(ctx context.Context, priorID id.VerificationID) (*models.Request, error)
	CompleteStep(ctx context.Context, requestID id.VerificationID, report service.StepReport) (*models.Request, error)
	Abandon(ctx context.Context, requestID id.VerificationID) (*models.Request, error)
	Get(ctx context.Context, requestID id.VerificationID) (*models.Request, error)
}

// Handler serves the verification flow. Subjects open a request and follow
// it with the token returned on creation; check providers report step
// results on a separately guarded route.
type Handler struct {
	service Service
	tokens  TokenIssuer
	logger  *slog.Logger
}

func New(service Service, tokens TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, logger: logger}
}

// Register mounts the unauthenticated entry point.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.HandleInitiate)
}

// RegisterSubject mounts the routes a subject reaches with their bearer
// token; callers wrap r with the subject authenticator.
func (h *Handler) RegisterSubject(r chi.Router) {
	r.Get("/verifications/{verificationID}", h.HandleGet)
	r.Post("/verifications/{verificationID}/abandon", h.HandleAbandon)
	r.Post("/verifications/{verificationID}/reverify", h.HandleReverify)
}

// RegisterProvider mounts the step report route; callers wrap r with the
// check provider token check.
func (h *Handler) RegisterProvider(r chi.Router) {
	r.Post("/verifications/{verificationID}/steps", h.HandleCompleteStep)
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := httputil.DecodeAndValidate[InitiateRequest](w, r, h.logger)
	if !ok {
		return
	}
	vr, err := h.service.Initiate(ctx, req.subjectID)
	if err != nil {
		h.fail(w, r, "verification initiation failed", err)
		return
	}
	resp, err := h.withToken(ctx, vr)
	if err != nil {
		h.fail(w, r, "subject token issue failed", err)
		return
	}
	h.logger.InfoContext(ctx, "verification initiated",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", vr.ID.String(),
		"tier", string(vr.Tier),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	verificationID, ok := h.grantedID(w, r)
	if !ok {
		return
	}
	vr, err := h.service.Get(r.Context(), verificationID)
	if err != nil {
		h.fail(w, r, "get verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(vr))
}

func (h *Handler) HandleCompleteStep(w http.ResponseWriter, r *http.Request) {
	verificationID, ok := verificationIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[StepRequest](w, r, h.logger)
	if !ok {
		return
	}
	vr, err := h.service.CompleteStep(r.Context(), verificationID, req.Report())
	if err != nil {
		h.fail(w, r, "verification step failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(vr))
}

func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	verificationID, ok := h.grantedID(w, r)
	if !ok {
		return
	}
	vr, err := h.service.Abandon(r.Context(), verificationID)
	if err != nil {
		h.fail(w, r, "verification abandon failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(vr))
}

func (h *Handler) HandleReverify(w http.ResponseWriter, r *http.Request) {
	priorID, ok := h.grantedID(w, r)
	if !ok {
		return
	}
	vr, err := h.service.Reverify(r.Context(), priorID)
	if err != nil {
		h.fail(w, r, "reverification failed", err)
		return
	}
	resp, err := h.withToken(r.Context(), vr)
	if err != nil {
		h.fail(w, r, "subject token issue failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// withToken renders vr with a fresh subject token for it.
func (h *Handler) withToken(ctx context.Context, vr *models.Request) (RequestResponse, error) {
	resp := FromRequest(vr)
	token, err := h.tokens.Issue(requestcontext.SubjectGrant{SubjectID: vr.SubjectID, VerificationID: vr.ID}, requestcontext.Now(ctx))
	if err != nil {
		return RequestResponse{}, err
	}
	resp.AccessToken = token
	return resp, nil
}

// grantedID parses the path's request ID and checks the caller's subject
// token was issued for it.
func (h *Handler) grantedID(w http.ResponseWriter, r *http.Request) (id.VerificationID, bool) {
	verificationID, ok := verificationIDParam(w, r)
	if !ok {
		return id.VerificationID{}, false
	}
	grant, ok := requestcontext.Subject(r.Context())
	if !ok || grant.VerificationID != verificationID {
		h.logger.WarnContext(r.Context(), "subject token does not cover verification",
			"request_id", requestcontext.RequestID(r.Context()),
			"verification_id", verificationID.String(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token does not grant access to this verification"))
		return id.VerificationID{}, false
	}
	return verificationID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.IsFatal(err) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func verificationIDParam(w http.ResponseWriter, r *http.Request) (id.VerificationID, bool) {
	verificationID, err := id.ParseVerificationID(chi.URLParam(r, "verificationID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid verification id"))
		return id.VerificationID{}, false
	}
	return verificationID, true
}

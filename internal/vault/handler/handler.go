// Package handler exposes the identity vault to operators. Subject-facing
// access goes through the verification flow, never through these routes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// operatorGrantTTL bounds the capability minted for a single read request.
const operatorGrantTTL = time.Minute

type Service interface {
	StoreField(ctx context.Context, subjectID id.SubjectID, field models.FieldName, raw string) error
	ReadFields(ctx context.Context, subjectID id.SubjectID, fields []models.FieldName, grant models.Capability) (map[models.FieldName]string, error)
	SetEmail(ctx context.Context, subjectID id.SubjectID, address string) error
	FindByEmail(ctx context.Context, address string) (id.SubjectID, error)
	Anonymize(ctx context.Context, subjectID id.SubjectID, reason string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdmin mounts the vault routes; callers wrap r with the admin
// token check.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/subjects/lookup", h.HandleLookup)
	r.Put("/subjects/{subjectID}/fields/{field}", h.HandleStoreField)
	r.Post("/subjects/{subjectID}/fields/read", h.HandleReadFields)
	r.Put("/subjects/{subjectID}/email", h.HandleSetEmail)
	r.Post("/subjects/{subjectID}/anonymize", h.HandleAnonymize)
}

func (h *Handler) HandleStoreField(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	field, err := models.ParseFieldName(chi.URLParam(r, "field"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndValidate[StoreFieldRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.StoreField(r.Context(), subjectID, field, req.Value); err != nil {
		h.fail(w, r, "vault write failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleReadFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[ReadFieldsRequest](w, r, h.logger)
	if !ok {
		return
	}
	grant := models.Capability{
		Actor:     "operator",
		Subject:   subjectID,
		Fields:    req.fields,
		Purpose:   req.Purpose,
		ExpiresAt: requestcontext.Now(ctx).Add(operatorGrantTTL),
	}
	values, err := h.service.ReadFields(ctx, subjectID, req.fields, grant)
	if err != nil {
		h.fail(w, r, "vault read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromValues(subjectID, values))
}

func (h *Handler) HandleSetEmail(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[EmailRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.SetEmail(r.Context(), subjectID, req.Email); err != nil {
		h.fail(w, r, "vault email update failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndValidate[EmailRequest](w, r, h.logger)
	if !ok {
		return
	}
	subjectID, err := h.service.FindByEmail(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, "vault lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LookupResponse{SubjectID: subjectID.String()})
}

func (h *Handler) HandleAnonymize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, ok := subjectIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[AnonymizeRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Anonymize(ctx, subjectID, req.Reason); err != nil {
		h.fail(w, r, "vault anonymization failed", err)
		return
	}
	h.logger.InfoContext(ctx, "subject anonymized",
		"request_id", requestcontext.RequestID(ctx),
		"subject_id", subjectID.String(),
	)
	w.WriteHeader(http.StatusNoContent)
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

func subjectIDParam(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid subject id"))
		return id.SubjectID{}, false
	}
	return subjectID, true
}

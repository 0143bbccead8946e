// Package handler exposes credential checks to relying parties and the
// lifecycle operations to operators.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aegis/internal/credential/models"
	"aegis/internal/credential/service"
	"aegis/internal/credential/signer"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

type Service interface {
	Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	Check(ctx context.Context, credentialID id.CredentialID) (service.CheckResult, error)
	Verify(ctx context.Context, credentialID id.CredentialID) (bool, error)
	VerifyDocument(ctx context.Context, doc models.Document) error
	PublicKey() (signer.PublicKeyInfo, error)
	Revoke(ctx context.Context, credentialID id.CredentialID, reason string) (*models.Credential, error)
	ExpireDue(ctx context.Context) (int, error)
	ExportJWT(ctx context.Context, credentialID id.CredentialID) (string, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the relying party endpoints. None of them return
// anything beyond the signed summary.
func (h *Handler) Register(r chi.Router) {
	r.Get("/credentials/public-key", h.HandlePublicKey)
	r.Post("/credentials/verify-document", h.HandleVerifyDocument)
	r.Get("/credentials/{credentialID}", h.HandleGet)
	r.Get("/credentials/{credentialID}/check", h.HandleCheck)
	r.Post("/credentials/{credentialID}/verify", h.HandleVerify)
}

// RegisterAdmin mounts the operator endpoints; callers wrap r with the
// admin token check.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/credentials/{credentialID}/revoke", h.HandleRevoke)
	r.Get("/credentials/{credentialID}/jwt", h.HandleExportJWT)
	r.Post("/credentials/expire", h.HandleExpireDue)
}

func (h *Handler) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.PublicKey()
	if err != nil {
		h.fail(w, r, "public key export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := credentialIDParam(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "get credential failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCredential(c, requestcontext.Now(r.Context())))
}

func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := credentialIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.service.Check(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "credential check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := credentialIDParam(w, r)
	if !ok {
		return
	}
	valid, err := h.service.Verify(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "credential verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{CredentialID: credentialID.String(), SignatureValid: valid})
}

func (h *Handler) HandleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndValidate[VerifyDocumentRequest](w, r, h.logger)
	if !ok {
		return
	}
	resp := VerifyResponse{CredentialID: req.CredentialID, SignatureValid: true}
	if err := h.service.VerifyDocument(r.Context(), req.Document); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeIntegrity) && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.fail(w, r, "document verification failed", err)
			return
		}
		resp.SignatureValid = false
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credentialID, ok := credentialIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndValidate[RevokeRequest](w, r, h.logger)
	if !ok {
		return
	}
	c, err := h.service.Revoke(ctx, credentialID, req.Reason)
	if err != nil {
		h.fail(w, r, "credential revocation failed", err)
		return
	}
	h.logger.InfoContext(ctx, "credential revoked",
		"request_id", requestcontext.RequestID(ctx),
		"credential_id", credentialID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromCredential(c, requestcontext.Now(ctx)))
}

func (h *Handler) HandleExportJWT(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := credentialIDParam(w, r)
	if !ok {
		return
	}
	token, err := h.service.ExportJWT(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "credential jwt export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, JWTResponse{Token: token, TokenType: "JWT"})
}

func (h *Handler) HandleExpireDue(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ExpireDue(r.Context())
	if err != nil {
		h.fail(w, r, "credential expiry sweep failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExpireResponse{Expired: n})
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

func credentialIDParam(w http.ResponseWriter, r *http.Request) (id.CredentialID, bool) {
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "credentialID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid credential id"))
		return id.CredentialID{}, false
	}
	return credentialID, true
}

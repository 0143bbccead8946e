package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aegis/internal/credential/models"
	"aegis/internal/credential/service"
	"aegis/internal/credential/signer"
	"aegis/internal/credential/store"
	"aegis/internal/risk"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/audit/publishers/compliance"
	auditmemory "aegis/pkg/platform/audit/store/memory"
	"aegis/pkg/platform/middleware/admin"
)

const adminToken = "operator-secret"

func newCredentialRouter(t *testing.T) (http.Handler, *service.Service) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := signer.New(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc, err := service.New(store.NewInMemory(), sig, compliance.New(auditmemory.NewInMemoryStore()))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	verify := func(token string) error {
		if token != adminToken {
			return errors.New("mismatch")
		}
		return nil
	}

	h := New(svc, logger)
	r := chi.NewRouter()
	h.Register(r)
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(verify, logger))
		h.RegisterAdmin(r)
	})
	return r, svc
}

func issue(t *testing.T, svc *service.Service) *models.Credential {
	t.Helper()
	c, err := svc.Issue(context.Background(), service.IssueRequest{
		VerificationID: id.VerificationID(uuid.New()),
		SubjectID:      id.SubjectID(uuid.New()),
		Decision:       "approved",
		CompositeScore: 22.5,
		Tier:           risk.TierLow,
		Checks:         map[string]bool{"geolocation": true, "identity_data": true, "document": true},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return c
}

func serve(router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(admin.HeaderAdminToken, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckAndVerify(t *testing.T) {
	router, svc := newCredentialRouter(t)
	c := issue(t, svc)

	rec := serve(router, http.MethodGet, "/credentials/"+c.ID.String()+"/check", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 checking credential, got %d", rec.Code)
	}
	var check struct {
		Valid          bool   `json:"valid"`
		SignatureValid bool   `json:"signature_valid"`
		Status         string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if !check.Valid || !check.SignatureValid || check.Status != "active" {
		t.Fatalf("expected active valid credential, got %+v", check)
	}

	rec = serve(router, http.MethodPost, "/credentials/"+c.ID.String()+"/verify", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 verifying credential, got %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/credentials/"+uuid.NewString()+"/check", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown credential, got %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/credentials/not-a-uuid/check", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestVerifyDocument(t *testing.T) {
	router, svc := newCredentialRouter(t)
	doc := issue(t, svc).Document()

	verify := func(d models.Document) bool {
		t.Helper()
		rec := serve(router, http.MethodPost, "/credentials/verify-document", d, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 verifying document, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp VerifyResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.SignatureValid
	}

	if !verify(doc) {
		t.Fatalf("expected untouched document to verify")
	}

	tampered := doc
	tampered.SummaryFields = append([]models.Field(nil), doc.SummaryFields...)
	for i, f := range tampered.SummaryFields {
		if f.Key == "risk_tier" {
			tampered.SummaryFields[i].Value = "medium"
		}
	}
	if verify(tampered) {
		t.Fatalf("expected altered summary to fail verification")
	}

	rec := serve(router, http.MethodPost, "/credentials/verify-document", map[string]string{"credential_id": doc.CredentialID}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete document, got %d", rec.Code)
	}
}

func TestPublicKey(t *testing.T) {
	router, _ := newCredentialRouter(t)
	rec := serve(router, http.MethodGet, "/credentials/public-key", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info signer.PublicKeyInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Algorithm != models.AlgorithmRSA2048 || len(info.Fingerprint) != 16 {
		t.Fatalf("unexpected key info %+v", info)
	}
	if _, err := signer.ParsePublicKey([]byte(info.PEM)); err != nil {
		t.Fatalf("published PEM does not parse: %v", err)
	}
}

func TestAdminRoutes(t *testing.T) {
	router, svc := newCredentialRouter(t)
	c := issue(t, svc)
	revokePath := "/admin/credentials/" + c.ID.String() + "/revoke"

	if rec := serve(router, http.MethodPost, revokePath, RevokeRequest{Reason: "fraud"}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}

	rec := serve(router, http.MethodGet, "/admin/credentials/"+c.ID.String()+"/jwt", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 exporting jwt, got %d", rec.Code)
	}
	var jwtResp JWTResponse
	if err := json.NewDecoder(rec.Body).Decode(&jwtResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := svc.ParseJWT(jwtResp.Token)
	if err != nil {
		t.Fatalf("exported token does not parse: %v", err)
	}
	if claims.ID != c.ID.String() {
		t.Fatalf("expected jti %s, got %s", c.ID, claims.ID)
	}

	if rec := serve(router, http.MethodPost, revokePath, RevokeRequest{Reason: " "}, adminToken); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank reason, got %d", rec.Code)
	}
	rec = serve(router, http.MethodPost, revokePath, RevokeRequest{Reason: "fraud"}, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 revoking, got %d", rec.Code)
	}
	var revoked CredentialResponse
	if err := json.NewDecoder(rec.Body).Decode(&revoked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if revoked.Status != "revoked" || revoked.StatusReason != "fraud" {
		t.Fatalf("unexpected revoke response %+v", revoked)
	}

	if rec := serve(router, http.MethodGet, "/admin/credentials/"+c.ID.String()+"/jwt", nil, adminToken); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 exporting a revoked credential, got %d", rec.Code)
	}

	rec = serve(router, http.MethodPost, "/admin/credentials/expire", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from sweep, got %d", rec.Code)
	}
}

package handler

import (
	"time"

	"aegis/internal/credential/models"
)

type CredentialResponse struct {
	models.Document
	DigestHex    string    `json:"digest_hex"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiryAt     time.Time `json:"expiry_at"`
	StatusReason string    `json:"status_reason,omitempty"`
}

// FromCredential reports the effective status, so a credential past expiry
// reads as expired before the sweep has run.
func FromCredential(c *models.Credential, now time.Time) CredentialResponse {
	return CredentialResponse{
		Document:     c.Document(),
		DigestHex:    c.DigestHex(),
		Status:       string(c.EffectiveStatus(now)),
		IssuedAt:     c.IssuedAt,
		ExpiryAt:     c.ExpiryAt,
		StatusReason: c.StatusReason,
	}
}

type VerifyResponse struct {
	CredentialID   string `json:"credential_id"`
	SignatureValid bool   `json:"signature_valid"`
}

type JWTResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

type ExpireResponse struct {
	Expired int `json:"expired"`
}

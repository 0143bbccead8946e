package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"strconv"
	"time"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// AlgorithmRSA2048 is RSASSA-PKCS1-v1_5 with SHA-256 under a 2048-bit RSA
// key.
const AlgorithmRSA2048 = "RSA-2048"

// AlgorithmForBits names RSASSA-PKCS1-v1_5 with SHA-256 under an RSA key
// whose modulus is bits long.
func AlgorithmForBits(bits int) string {
	return "RSA-" + strconv.Itoa(bits)
}

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Credential is a signed proof of an approved verification. Only its status
// ever changes after issuance.
type Credential struct {
	ID                    id.CredentialID   `json:"id"`
	SubjectID             id.SubjectID      `json:"subject_id"`
	VerificationRequestID id.VerificationID `json:"verification_request_id"`
	Summary               Summary           `json:"summary"`
	Digest                []byte            `json:"digest"`
	Signature             []byte            `json:"signature"`
	Algorithm             string            `json:"algorithm"`
	IssuedAt              time.Time         `json:"issued_at"`
	ExpiryAt              time.Time         `json:"expiry_at"`
	Status                Status            `json:"status"`
	StatusChangedAt       *time.Time        `json:"status_changed_at,omitempty"`
	StatusReason          string            `json:"status_reason,omitempty"`
}

// EffectiveStatus treats an active credential past its expiry as expired
// even before the sweep has recorded it.
func (c *Credential) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusActive && !now.Before(c.ExpiryAt) {
		return StatusExpired
	}
	return c.Status
}

// DigestMatches reports whether the stored digest is the digest of the
// summary as it reads now.
func (c *Credential) DigestMatches() bool {
	d := c.Summary.Digest()
	return len(c.Digest) == sha256.Size && subtle.ConstantTimeCompare(c.Digest, d[:]) == 1
}

func (c *Credential) DigestHex() string { return hex.EncodeToString(c.Digest) }

// Revoke moves an active credential to revoked. Revoking twice is a no-op.
func (c *Credential) Revoke(reason string, now time.Time) (bool, error) {
	switch c.Status {
	case StatusRevoked:
		return false, nil
	case StatusExpired:
		return false, dErrors.New(dErrors.CodePrecondition, "credential has expired")
	}
	c.Status = StatusRevoked
	c.StatusReason = reason
	c.StatusChangedAt = &now
	return true, nil
}

// Expire records expiry of an active credential whose expiry time passed.
func (c *Credential) Expire(now time.Time) bool {
	if c.Status != StatusActive || now.Before(c.ExpiryAt) {
		return false
	}
	c.Status = StatusExpired
	c.StatusReason = "expired"
	c.StatusChangedAt = &now
	return true
}

// Document is the portable form handed to third parties. It carries
// everything needed to verify the credential with only the issuer's public
// key.
type Document struct {
	CredentialID  string  `json:"credential_id"`
	Digest        []byte  `json:"digest"`
	Signature     []byte  `json:"signature"`
	Algorithm     string  `json:"algorithm"`
	SummaryFields []Field `json:"summary_fields"`
}

func (c *Credential) Document() Document {
	return Document{
		CredentialID:  c.ID.String(),
		Digest:        c.Digest,
		Signature:     c.Signature,
		Algorithm:     c.Algorithm,
		SummaryFields: c.Summary.Fields(),
	}
}

// Clone returns a copy safe to mutate.
func (c *Credential) Clone() *Credential {
	out := *c
	out.Digest = append([]byte(nil), c.Digest...)
	out.Signature = append([]byte(nil), c.Signature...)
	out.Summary.Checks = maps.Clone(c.Summary.Checks)
	if c.StatusChangedAt != nil {
		t := *c.StatusChangedAt
		out.StatusChangedAt = &t
	}
	return &out
}

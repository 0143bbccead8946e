// Package signer signs credential summaries and verifies them with only the
// public key.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"aegis/internal/credential/models"
	dErrors "aegis/pkg/domain-errors"
)

// MinKeyBits is the smallest modulus accepted for signing or verifying.
const MinKeyBits = 2048

// Signer holds the issuer's private key. It is safe for concurrent use.
type Signer struct {
	key *rsa.PrivateKey
}

func New(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if key.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("signing key must be at least %d bits, got %d", MinKeyBits, key.N.BitLen())
	}
	return &Signer{key: key}, nil
}

// Sign signs a SHA-256 digest with RSASSA-PKCS1-v1_5.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "digest must be SHA-256")
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign credential")
	}
	return sig, nil
}

func (s *Signer) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

// Algorithm names the signature scheme and the actual modulus size.
func (s *Signer) Algorithm() string { return models.AlgorithmForBits(s.key.N.BitLen()) }

// PublicKeyInfo is what verifiers need to check a credential offline.
type PublicKeyInfo struct {
	Algorithm   string `json:"algorithm"`
	PEM         string `json:"pem"`
	Fingerprint string `json:"fingerprint"`
}

func (s *Signer) PublicKeyInfo() (PublicKeyInfo, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return PublicKeyInfo{}, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return PublicKeyInfo{
		Algorithm:   s.Algorithm(),
		PEM:         string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		Fingerprint: hex.EncodeToString(sum[:])[:16],
	}, nil
}

// ParsePublicKey reads a PKIX "PUBLIC KEY" PEM block.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expected a PUBLIC KEY PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid public key")
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "public key is not RSA")
	}
	return pub, nil
}

// VerifyDigest checks sig over digest.
func VerifyDigest(pub *rsa.PublicKey, digest, sig []byte) error {
	if pub == nil || pub.N.BitLen() < MinKeyBits {
		return dErrors.New(dErrors.CodeInvalidInput, "verification key must be RSA of at least 2048 bits")
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
		return dErrors.Wrap(err, dErrors.CodeIntegrity, "credential signature is invalid")
	}
	return nil
}

// VerifyDocument rebuilds the canonical summary from doc's fields, checks
// it against doc's digest and verifies the signature. It needs nothing but
// the document and the issuer's public key.
func VerifyDocument(pub *rsa.PublicKey, doc models.Document) error {
	if pub == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "verification key is required")
	}
	if doc.Algorithm != models.AlgorithmForBits(pub.N.BitLen()) {
		return dErrors.New(dErrors.CodeInvalidInput, "unsupported signature algorithm")
	}
	if err := models.ValidateFields(doc.SummaryFields); err != nil {
		return err
	}
	digest := sha256.Sum256(models.Canonicalize(doc.SummaryFields))
	if subtle.ConstantTimeCompare(digest[:], doc.Digest) != 1 {
		return dErrors.New(dErrors.CodeIntegrity, "credential summary does not match its digest")
	}
	if doc.SummaryFields[1].Value != doc.CredentialID {
		return dErrors.New(dErrors.CodeIntegrity, "credential ID does not match its summary")
	}
	return VerifyDigest(pub, digest[:], doc.Signature)
}

package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/credential/models"
	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

var testKey = mustKey(2048)

func mustKey(bits int) *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		panic(err)
	}
	return k
}

func signedCredential(t *testing.T, s *Signer, issuedAt time.Time) *models.Credential {
	t.Helper()
	c := &models.Credential{
		ID:                    id.CredentialID(uuid.New()),
		SubjectID:             id.SubjectID(uuid.New()),
		VerificationRequestID: id.VerificationID(uuid.New()),
		Algorithm:             s.Algorithm(),
		IssuedAt:              issuedAt,
		ExpiryAt:              issuedAt.AddDate(5, 0, 0),
		Status:                models.StatusActive,
	}
	c.Summary = models.Summary{
		Schema:                models.SchemaV1,
		CredentialID:          c.ID,
		SubjectID:             c.SubjectID,
		VerificationRequestID: c.VerificationRequestID,
		CompositeRiskScore:    18,
		RiskTier:              risk.TierLow,
		Checks:                map[string]bool{"document": true, "biometric": true},
		IssuedAt:              c.IssuedAt,
		ExpiryAt:              c.ExpiryAt,
	}
	d := c.Summary.Digest()
	c.Digest = d[:]
	sig, err := s.Sign(c.Digest)
	require.NoError(t, err)
	c.Signature = sig
	return c
}

func TestNewRejectsWeakKeys(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(mustKey(1024))
	assert.Error(t, err)

	s, err := New(testKey)
	require.NoError(t, err)
	assert.Equal(t, &testKey.PublicKey, s.PublicKey())
}

func TestVerifyDocument(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	c := signedCredential(t, s, time.Now().UTC().Truncate(time.Second))

	t.Run("valid with only the public key", func(t *testing.T) {
		info, err := s.PublicKeyInfo()
		require.NoError(t, err)
		pub, err := ParsePublicKey([]byte(info.PEM))
		require.NoError(t, err)
		assert.NoError(t, VerifyDocument(pub, c.Document()))
	})

	t.Run("any altered summary field fails", func(t *testing.T) {
		for i := range c.Document().SummaryFields {
			doc := c.Document()
			doc.SummaryFields[i].Value += "x"
			assert.Error(t, VerifyDocument(s.PublicKey(), doc), "field %s", doc.SummaryFields[i].Key)
		}
	})

	t.Run("re-digested tampered summary fails the signature", func(t *testing.T) {
		tampered := c.Clone()
		tampered.Summary.CompositeRiskScore = 5
		d := tampered.Summary.Digest()
		tampered.Digest = d[:]
		err := VerifyDocument(s.PublicKey(), tampered.Document())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity))
	})

	t.Run("flipped signature bit fails", func(t *testing.T) {
		doc := c.Document()
		doc.Signature = append([]byte(nil), doc.Signature...)
		doc.Signature[0] ^= 0x01
		assert.True(t, dErrors.HasCode(VerifyDocument(s.PublicKey(), doc), dErrors.CodeIntegrity))
	})

	t.Run("other issuer key fails", func(t *testing.T) {
		other := mustKey(2048)
		assert.True(t, dErrors.HasCode(VerifyDocument(&other.PublicKey, c.Document()), dErrors.CodeIntegrity))
	})

	t.Run("unknown algorithm is rejected", func(t *testing.T) {
		doc := c.Document()
		doc.Algorithm = "HS256"
		assert.True(t, dErrors.HasCode(VerifyDocument(s.PublicKey(), doc), dErrors.CodeInvalidInput))
	})
}

func TestAlgorithmNamesTheKeySize(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmRSA2048, s.Algorithm())

	large, err := New(mustKey(3072))
	require.NoError(t, err)
	assert.Equal(t, "RSA-3072", large.Algorithm())
	info, err := large.PublicKeyInfo()
	require.NoError(t, err)
	assert.Equal(t, "RSA-3072", info.Algorithm)

	c := signedCredential(t, large, time.Now().UTC().Truncate(time.Second))
	assert.Equal(t, "RSA-3072", c.Algorithm)
	assert.NoError(t, VerifyDocument(large.PublicKey(), c.Document()))

	doc := c.Document()
	doc.Algorithm = models.AlgorithmRSA2048
	assert.True(t, dErrors.HasCode(VerifyDocument(large.PublicKey(), doc), dErrors.CodeInvalidInput),
		"a label that understates the key is rejected")
}

func TestPublicKeyFingerprint(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	a, err := s.PublicKeyInfo()
	require.NoError(t, err)
	b, err := s.PublicKeyInfo()
	require.NoError(t, err)

	assert.Len(t, a.Fingerprint, 16)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, models.AlgorithmRSA2048, a.Algorithm)
	assert.Contains(t, a.PEM, "BEGIN PUBLIC KEY")

	_, err = ParsePublicKey([]byte("not pem"))
	assert.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	c := signedCredential(t, s, now)

	token, err := s.ExportJWT(c, "aegis", now)
	require.NoError(t, err)

	claims, err := ParseJWT(s.PublicKey(), token, "aegis")
	require.NoError(t, err)
	assert.Equal(t, c.ID.String(), claims.ID)
	assert.Equal(t, c.SubjectID.String(), claims.Subject)
	assert.Equal(t, c.DigestHex(), claims.SummaryDigest)
	assert.Equal(t, "active", claims.Status)
	assert.True(t, claims.Checks["document"])

	_, err = ParseJWT(s.PublicKey(), token, "someone-else")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity))

	other := mustKey(2048)
	_, err = ParseJWT(&other.PublicKey, token, "aegis")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity))
}

func TestJWTExpired(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	past := time.Now().UTC().AddDate(-6, 0, 0).Truncate(time.Second)
	c := signedCredential(t, s, past)

	token, err := s.ExportJWT(c, "aegis", time.Now())
	require.NoError(t, err)
	_, err = ParseJWT(s.PublicKey(), token, "aegis")
	assert.True(t, dErrors.HasCode(err, dErrors.CodePrecondition))
}

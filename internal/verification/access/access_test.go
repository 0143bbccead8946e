package access

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTokens(t *testing.T, key string) *Tokens {
	t.Helper()
	tokens, err := New([]byte(strings.Repeat(key, 32)), "aegis-kyc", time.Hour)
	require.NoError(t, err)
	return tokens
}

func at(ts time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), ts)
}

func TestIssueAndAuthenticate(t *testing.T) {
	tokens := newTokens(t, "k")
	grant := requestcontext.SubjectGrant{
		SubjectID:      id.SubjectID(uuid.New()),
		VerificationID: id.VerificationID(uuid.New()),
	}
	token, err := tokens.Issue(grant, issuedAt)
	require.NoError(t, err)

	t.Run("valid within lifetime", func(t *testing.T) {
		got, err := tokens.AuthenticateSubject(at(issuedAt.Add(30*time.Minute)), token)
		require.NoError(t, err)
		assert.Equal(t, grant, got)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := tokens.AuthenticateSubject(at(issuedAt.Add(2*time.Hour)), token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("signed with another key", func(t *testing.T) {
		_, err := newTokens(t, "x").AuthenticateSubject(at(issuedAt), token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		forged := parts[0] + "." + parts[1] + "x." + parts[2]
		_, err := tokens.AuthenticateSubject(at(issuedAt), forged)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("unsigned token", func(t *testing.T) {
		none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
			VerificationID: grant.VerificationID.String(),
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   grant.SubjectID.String(),
				Issuer:    "aegis-kyc",
				ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
			},
		})
		raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tokens.AuthenticateSubject(at(issuedAt), raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestNewRejectsShortKeys(t *testing.T) {
	_, err := New([]byte("short"), "aegis-kyc", time.Hour)
	assert.Error(t, err)
}

// Package access issues and checks the bearer tokens a subject uses to
// follow their own verification request.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

// KeyPurpose is the HKDF label the signing key is derived under.
const KeyPurpose = "aegis/verification/subject-token"

const (
	minKeySize = 32
	defaultTTL = 24 * time.Hour
)

type claims struct {
	VerificationID string `json:"vid"`
	jwt.RegisteredClaims
}

// Tokens signs HS256 tokens that bind a subject to one verification request.
type Tokens struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func New(key []byte, issuer string, ttl time.Duration) (*Tokens, error) {
	if len(key) < minKeySize {
		return nil, errors.New("subject token key must be at least 256 bits")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Tokens{key: append([]byte(nil), key...), issuer: issuer, ttl: ttl}, nil
}

// Issue returns a token for g valid from now for the configured lifetime.
func (t *Tokens) Issue(g requestcontext.SubjectGrant, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		VerificationID: g.VerificationID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.SubjectID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign subject token")
	}
	return signed, nil
}

// AuthenticateSubject validates token at the request's time and returns the
// grant it carries.
func (t *Tokens) AuthenticateSubject(ctx context.Context, token string) (requestcontext.SubjectGrant, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid subject token")
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestcontext.SubjectGrant{}, dErrors.New(dErrors.CodeUnauthorized, "subject token expired")
		}
		return requestcontext.SubjectGrant{}, invalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return requestcontext.SubjectGrant{}, invalid
	}
	subjectID, err := id.ParseSubjectID(c.Subject)
	if err != nil {
		return requestcontext.SubjectGrant{}, invalid
	}
	verificationID, err := id.ParseVerificationID(c.VerificationID)
	if err != nil {
		return requestcontext.SubjectGrant{}, invalid
	}
	return requestcontext.SubjectGrant{SubjectID: subjectID, VerificationID: verificationID}, nil
}

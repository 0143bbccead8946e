package signer

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aegis/internal/credential/models"
	dErrors "aegis/pkg/domain-errors"
)

// Claims is the JWT rendition of a credential. The summary travels with its
// digest so the token can be matched to the signed credential.
type Claims struct {
	VerificationRequestID string          `json:"vrid"`
	CompositeRiskScore    float64         `json:"risk_score"`
	RiskTier              string          `json:"risk_tier"`
	Checks                map[string]bool `json:"checks"`
	SummaryDigest         string          `json:"summary_sha256"`
	Status                string          `json:"status"`
	jwt.RegisteredClaims
}

// ExportJWT signs c as an RS256 token issued by issuer.
func (s *Signer) ExportJWT(c *models.Credential, issuer string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		VerificationRequestID: c.VerificationRequestID.String(),
		CompositeRiskScore:    c.Summary.CompositeRiskScore,
		RiskTier:              string(c.Summary.RiskTier),
		Checks:                c.Summary.Checks,
		SummaryDigest:         c.DigestHex(),
		Status:                string(c.EffectiveStatus(now)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID.String(),
			Subject:   c.SubjectID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiryAt),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign credential token")
	}
	return signed, nil
}

// ParseJWT validates an RS256 credential token against pub.
func ParseJWT(pub *rsa.PublicKey, tokenString, issuer string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodePrecondition, "credential token has expired")
		}
		return nil, dErrors.New(dErrors.CodeIntegrity, "invalid credential token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeIntegrity, "invalid credential token claims")
	}
	return claims, nil
}

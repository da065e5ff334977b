package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sah-anshu/wa2fa-meta/core"
)

// ConfirmClaims binds a confirmation link to one verification token and the
// phone it is supposed to prove ownership of.
type ConfirmClaims struct {
	jwt.RegisteredClaims
	VerificationToken string `json:"vt"`
	Phone             string `json:"phone"`
}

const confirmAudience = "wa2fa:confirm"

// ConfirmLinkSigner issues and parses the short-lived signed tokens embedded
// in phone-ownership confirmation links. A pseudonymous (LID) sender matched
// a QR token; tapping the link we send them proves they control the expected
// phone and completes the pending_confirm step.
type ConfirmLinkSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewConfirmLinkSigner creates a signer with the given HMAC secret and link
// validity window.
func NewConfirmLinkSigner(secret string, ttl time.Duration) *ConfirmLinkSigner {
	return &ConfirmLinkSigner{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed confirmation token for a verification token and its
// expected phone.
func (s *ConfirmLinkSigner) Issue(verificationToken, phone string) (string, error) {
	now := time.Now()
	claims := ConfirmClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{confirmAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		VerificationToken: verificationToken,
		Phone:             phone,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign confirm token: %w", err)
	}
	return signed, nil
}

// Parse validates a confirmation token and returns the verification token and
// phone it was issued for.
func (s *ConfirmLinkSigner) Parse(tokenString string) (verificationToken, phone string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConfirmClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, core.ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithAudience(confirmAudience))
	if err != nil {
		return "", "", core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*ConfirmClaims)
	if !ok || !token.Valid || claims.VerificationToken == "" {
		return "", "", core.ErrInvalidToken
	}
	return claims.VerificationToken, claims.Phone, nil
}

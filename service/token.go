package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// tokenAlphabet excludes I, O, 0 and 1 — the token is typed or read aloud by
// humans, so visually confusable symbols are out.
const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const tokenLength = 9

// GenerateToken produces a verification token like "ACME-AB3F7G2K9". The
// realm name (uppercased, non-alphanumerics stripped) prefixes the token for
// multi-tenant setups; without one the prefix falls back to "VERIFY".
//
// 32^9 possibilities make collisions across a bounded store practically
// impossible; callers that do collide simply replace the existing entry.
func GenerateToken(realm string) (string, error) {
	prefix := "VERIFY-"
	if cleaned := stripNonAlnum(strings.ToUpper(realm)); cleaned != "" {
		prefix = cleaned + "-"
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for i := 0; i < tokenLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		sb.WriteByte(tokenAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// BuildWaMeLink builds the wa.me deep link that opens WhatsApp with the
// verification token pre-filled as message text to the business number.
// Everything but digits is stripped from the phone, which also removes
// invisible unicode (BOM, zero-width spaces) that sneaks into configs.
func BuildWaMeLink(businessPhone, token string) string {
	var digits strings.Builder
	for _, r := range businessPhone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return fmt.Sprintf("https://wa.me/%s?text=%s", digits.String(), url.QueryEscape(token))
}

func stripNonAlnum(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

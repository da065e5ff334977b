package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// ValidateMetaSignature checks the X-Hub-Signature-256 header Meta attaches
// to every webhook POST: HMAC-SHA256 over the raw body, keyed with the app
// secret, hex encoded.
//
// An empty secret disables the check and returns true. That is an explicit
// insecure fallback for deployments that have not configured the app secret,
// not an oversight — callers should log loudly when relying on it.
func ValidateMetaSignature(body []byte, signatureHeader, appSecret string) bool {
	if appSecret == "" {
		return true
	}

	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	received := signatureHeader[len(signaturePrefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(received))
}

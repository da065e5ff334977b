package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/sah-anshu/wa2fa-meta/ports"
)

// Session note keys for OTP state. Scoped per login attempt via ports.Notes.
const (
	otpCodeKey      = "wa2fa_otp_code"
	otpTimestampKey = "wa2fa_otp_timestamp"
	otpAttemptsKey  = "wa2fa_otp_attempts"
	otpLockoutKey   = "wa2fa_otp_lockout"
)

const (
	// DefaultMaxAttempts is the default OTP attempt budget before lockout.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long a session stays locked out after
	// exceeding the attempt budget. Only time clears it.
	DefaultLockoutDuration = 5 * time.Minute

	minOTPLength     = 4
	maxOTPLength     = 10
	defaultOTPLength = 6
)

// OTPManager generates and validates delivered one-time codes. All state
// lives in the caller-supplied Notes, so the manager itself is stateless and
// safe for concurrent use.
type OTPManager struct {
	lockoutDuration time.Duration
	now             func() time.Time
}

// NewOTPManager creates an OTP manager with the default lockout window.
func NewOTPManager() *OTPManager {
	return &OTPManager{
		lockoutDuration: DefaultLockoutDuration,
		now:             time.Now,
	}
}

// GenerateCode returns a uniformly random numeric code of the given length.
// Out-of-range lengths clamp to the 6-digit default. Leading zeros are valid
// and as likely as any other digit.
func (m *OTPManager) GenerateCode(length int) (string, error) {
	if length < minOTPLength || length > maxOTPLength {
		length = defaultOTPLength
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate otp digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// StoreCode writes the code and its issue timestamp to the session notes.
func (m *OTPManager) StoreCode(notes ports.Notes, code string) {
	notes.Set(otpCodeKey, code)
	notes.Set(otpTimestampKey, strconv.FormatInt(m.now().Unix(), 10))
}

// IsStillValid reports whether a code is stored and inside its validity
// window. Resend flows use this to decide between re-delivering the existing
// code and issuing a fresh one.
func (m *OTPManager) IsStillValid(notes ports.Notes, expiry time.Duration) bool {
	if notes.Get(otpCodeKey) == "" {
		return false
	}
	issuedAt, ok := noteTime(notes, otpTimestampKey)
	if !ok {
		return false
	}
	return m.now().Sub(issuedAt) <= expiry
}

// Validate checks the user-entered code against the stored one.
//
// A locked-out session always fails without touching any other state. On a
// mismatch the attempt counter is incremented; hitting maxAttempts destroys
// the code and locks the session out, so a later correct guess cannot revive
// it. maxAttempts of 0 means unlimited attempts.
func (m *OTPManager) Validate(notes ports.Notes, userInput string, expiry time.Duration, maxAttempts int) bool {
	if m.IsLockedOut(notes) {
		return false
	}

	stored := notes.Get(otpCodeKey)
	issuedAt, hasTimestamp := noteTime(notes, otpTimestampKey)
	if stored == "" || !hasTimestamp {
		return false
	}

	if m.now().Sub(issuedAt) > expiry {
		m.ClearCode(notes)
		return false
	}

	// Constant-time comparison so response time leaks nothing about which
	// digits were right.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(userInput)) == 1 {
		m.ClearCode(notes)
		notes.Remove(otpAttemptsKey)
		return true
	}

	attempts := m.AttemptCount(notes) + 1
	notes.Set(otpAttemptsKey, strconv.Itoa(attempts))
	if maxAttempts > 0 && attempts >= maxAttempts {
		m.ClearCode(notes)
		notes.Set(otpLockoutKey, strconv.FormatInt(m.now().Unix(), 10))
	}
	return false
}

// IsLockedOut reports whether the session is inside a lockout window. An
// elapsed lockout is cleared, together with the attempt counter, as a side
// effect.
func (m *OTPManager) IsLockedOut(notes ports.Notes) bool {
	lockedAt, ok := noteTime(notes, otpLockoutKey)
	if !ok {
		return false
	}
	if m.now().Sub(lockedAt) > m.lockoutDuration {
		notes.Remove(otpLockoutKey)
		notes.Remove(otpAttemptsKey)
		return false
	}
	return true
}

// AttemptCount returns the number of failed attempts recorded for the session.
func (m *OTPManager) AttemptCount(notes ports.Notes) int {
	n, err := strconv.Atoi(notes.Get(otpAttemptsKey))
	if err != nil {
		return 0
	}
	return n
}

// StoredCode returns the currently stored code, if any.
func (m *OTPManager) StoredCode(notes ports.Notes) (string, bool) {
	code := notes.Get(otpCodeKey)
	return code, code != ""
}

// ClearCode removes the code and its timestamp from the session notes.
func (m *OTPManager) ClearCode(notes ports.Notes) {
	notes.Remove(otpCodeKey)
	notes.Remove(otpTimestampKey)
}

func noteTime(notes ports.Notes, key string) (time.Time, bool) {
	raw := notes.Get(key)
	if raw == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

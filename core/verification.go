package core

import "time"

// VerificationState describes where a pending verification sits in its lifecycle.
// Absence from the store means expired or never created.
type VerificationState int

const (
	// StatePending means the challenge was issued and no matching message arrived yet.
	StatePending VerificationState = iota

	// StatePendingConfirm means the token was matched by a pseudonymous (LID) sender
	// and phone ownership still has to be confirmed out of band.
	StatePendingConfirm

	// StateVerified is terminal. No transition ever leaves it.
	StateVerified
)

// String returns the wire name used by the status poll endpoint.
func (s VerificationState) String() string {
	switch s {
	case StatePendingConfirm:
		return "pending_confirm"
	case StateVerified:
		return "verified"
	default:
		return "pending"
	}
}

// PendingVerification is a single QR challenge: a token bound to the phone
// number expected to send it back, valid for a TTL.
type PendingVerification struct {
	Token         string    // unique code embedded in the QR deep link, e.g. "ACME-AB3F7G2K9"
	ExpectedPhone string    // E.164 phone that must send the message
	CreatedAt     time.Time // issuance instant
	TTL           time.Duration
	State         VerificationState
	SenderPhone   string // phone that actually completed the challenge
}

// ExpiredAt reports whether the verification is past its TTL at the given instant.
func (pv PendingVerification) ExpiredAt(now time.Time) bool {
	return now.Sub(pv.CreatedAt) > pv.TTL
}

// MatchStatus is the outcome of matching an inbound message against the store.
type MatchStatus int

const (
	// MatchNone means no pending entry matched the message text.
	MatchNone MatchStatus = iota

	// Matched means the token matched and, for real phone senders, the phone matched too.
	Matched

	// MatchExpired means the token matched an entry whose TTL had elapsed.
	MatchExpired

	// PhoneMismatch means the token matched but the message came from the wrong phone.
	PhoneMismatch
)

// MatchResult carries the match outcome plus, on mismatch or expiry, the last
// four digits of the expected phone for user-facing hints.
type MatchResult struct {
	Status             MatchStatus
	ExpectedPhoneLast4 string
}

// Matched reports whether the inbound message completed (or, for LID senders,
// progressed) the challenge.
func (r MatchResult) Matched() bool {
	return r.Status == Matched
}

// Last4 returns the last four digits of a phone number, or "****" when the
// number is too short to disclose anything useful.
func Last4(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return phone[len(phone)-4:]
}

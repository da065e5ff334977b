package service

import (
	"strings"
	"sync"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"go.uber.org/zap"
)

const (
	// maxPendingEntries caps the store size to prevent unbounded memory growth
	// from challenges that are never completed.
	maxPendingEntries = 10_000

	// cleanupInterval is the minimum time between proactive expiry sweeps.
	cleanupInterval = 60 * time.Second
)

// Store is the process-wide table of pending QR verifications. It is the
// single coordination point between the webhook handler (which matches
// inbound messages) and the browser poll handler (which reads status), so
// every operation takes the store lock and returned entries are value copies.
type Store struct {
	log *zap.Logger
	now func() time.Time

	mu          sync.Mutex
	byToken     map[string]*core.PendingVerification
	bySession   map[string]string // sessionID -> token
	lastCleanup time.Time
}

// NewStore creates an empty verification store.
func NewStore(log *zap.Logger) *Store {
	return &Store{
		log:       log,
		now:       time.Now,
		byToken:   make(map[string]*core.PendingVerification),
		bySession: make(map[string]string),
	}
}

// CreatePending registers a new pending verification for a session. Any
// previous challenge owned by the same session is replaced. Under sustained
// overload the store degrades to evicting the oldest entry rather than
// rejecting the new one.
func (s *Store) CreatePending(token, expectedPhone string, ttl time.Duration, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if len(s.byToken) > maxPendingEntries/2 || now.Sub(s.lastCleanup) > cleanupInterval {
		s.cleanupLocked(now)
	}

	if len(s.byToken) >= maxPendingEntries {
		s.log.Warn("verification store at capacity, forcing cleanup", zap.Int("size", len(s.byToken)))
		s.cleanupLocked(now)
		for len(s.byToken) >= maxPendingEntries {
			s.evictOldestLocked()
		}
	}

	if old, ok := s.bySession[sessionID]; ok {
		delete(s.byToken, old)
	}

	s.byToken[token] = &core.PendingVerification{
		Token:         token,
		ExpectedPhone: expectedPhone,
		CreatedAt:     now,
		TTL:           ttl,
		State:         core.StatePending,
	}
	s.bySession[sessionID] = token

	s.log.Debug("created qr verification",
		zap.String("token", token),
		zap.String("phone_last4", core.Last4(expectedPhone)),
		zap.String("session", sessionID),
		zap.Int("size", len(s.byToken)))
}

// HandleIncomingMessage matches an inbound message against pending entries.
//
// When senderIsLID is true the sender identity is a pseudonymous linked ID,
// not a phone number; the phone comparison is skipped because token
// possession alone proves the QR was scanned. The entry is left in
// StatePending — the webhook layer decides whether to verify immediately or
// require a phone ownership confirmation first.
func (s *Store) HandleIncomingMessage(senderPhone, messageBody string, senderIsLID bool) core.MatchResult {
	body := strings.ToUpper(strings.TrimSpace(messageBody))
	if body == "" {
		return core.MatchResult{Status: core.MatchNone}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pv, ok := s.byToken[body]
	if !ok {
		// Clients sometimes lowercase the message; fall back to a scan.
		for _, candidate := range s.byToken {
			if strings.EqualFold(candidate.Token, body) {
				pv = candidate
				ok = true
				break
			}
		}
	}

	if !ok {
		s.log.Debug("no pending verification for inbound message")
		return core.MatchResult{Status: core.MatchNone}
	}

	// Duplicate webhook delivery for an already verified token is a no-op.
	if pv.State == core.StateVerified {
		s.log.Debug("token already verified, ignoring duplicate", zap.String("token", pv.Token))
		return core.MatchResult{Status: core.MatchNone}
	}

	if pv.ExpiredAt(s.now()) {
		s.removeTokenLocked(pv.Token)
		s.log.Debug("verification expired", zap.String("token", pv.Token))
		return core.MatchResult{Status: core.MatchExpired, ExpectedPhoneLast4: core.Last4(pv.ExpectedPhone)}
	}

	if senderIsLID {
		if pv.State == core.StatePendingConfirm {
			s.log.Debug("token already pending confirm, ignoring duplicate", zap.String("token", pv.Token))
			return core.MatchResult{Status: core.MatchNone}
		}
		s.log.Info("token matched by pseudonymous sender, verification deferred",
			zap.String("token", pv.Token),
			zap.String("phone_last4", core.Last4(pv.ExpectedPhone)))
		return core.MatchResult{Status: core.Matched}
	}

	// WhatsApp delivers the sender phone without the leading '+'; stored
	// numbers are E.164 with it.
	sender := senderPhone
	if !strings.HasPrefix(sender, "+") {
		sender = "+" + sender
	}

	if sender != pv.ExpectedPhone {
		s.log.Warn("verification phone mismatch",
			zap.String("token", pv.Token),
			zap.String("expected_last4", core.Last4(pv.ExpectedPhone)),
			zap.String("got_last4", core.Last4(sender)))
		return core.MatchResult{Status: core.PhoneMismatch, ExpectedPhoneLast4: core.Last4(pv.ExpectedPhone)}
	}

	pv.State = core.StateVerified
	pv.SenderPhone = sender
	s.log.Info("qr verification successful",
		zap.String("token", pv.Token),
		zap.String("phone_last4", core.Last4(sender)))
	return core.MatchResult{Status: core.Matched}
}

// MarkConfirmPending moves a pending entry to the pending-confirm state after
// a pseudonymous match. Returns false when the token is unknown or already
// past pending.
func (s *Store) MarkConfirmPending(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pv, ok := s.byToken[token]
	if !ok || pv.State != core.StatePending {
		return false
	}
	pv.State = core.StatePendingConfirm
	return true
}

// ConfirmIdentity completes the pending-confirm step: the user proved
// ownership of the expected phone out of band (confirmation link). Idempotent
// for already verified entries.
func (s *Store) ConfirmIdentity(token, confirmedPhone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pv, ok := s.byToken[token]
	if !ok {
		return false
	}
	if pv.State == core.StateVerified {
		return true
	}
	pv.State = core.StateVerified
	pv.SenderPhone = confirmedPhone
	s.log.Info("phone ownership confirmed",
		zap.String("token", token),
		zap.String("phone_last4", core.Last4(confirmedPhone)))
	return true
}

// GetStatus resolves the active verification for a session. Expired entries
// that are neither verified nor awaiting confirmation are evicted on read.
func (s *Store) GetStatus(sessionID string) (core.PendingVerification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.bySession[sessionID]
	if !ok {
		return core.PendingVerification{}, false
	}
	pv, ok := s.byToken[token]
	if !ok {
		return core.PendingVerification{}, false
	}
	if pv.ExpiredAt(s.now()) && pv.State == core.StatePending {
		delete(s.byToken, token)
		delete(s.bySession, sessionID)
		return core.PendingVerification{}, false
	}
	return *pv, true
}

// GetByToken resolves a verification by its token, with the same
// expiry-eviction-on-read behavior as GetStatus. Used by the polling
// endpoint, which only knows the token.
func (s *Store) GetByToken(token string) (core.PendingVerification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pv, ok := s.byToken[token]
	if !ok {
		return core.PendingVerification{}, false
	}
	if pv.ExpiredAt(s.now()) && pv.State == core.StatePending {
		s.removeTokenLocked(token)
		return core.PendingVerification{}, false
	}
	return *pv, true
}

// Remove drops a session's verification, e.g. on explicit cancellation or
// after the login flow consumed a success.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.bySession[sessionID]; ok {
		delete(s.bySession, sessionID)
		delete(s.byToken, token)
	}
}

// CleanupExpired sweeps the whole table: expired unverified entries go, and
// so do verified entries older than twice their TTL — stale successes nobody
// polled for. Returns the number of removed entries.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.now())
}

// Size returns the number of live entries, for monitoring.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

func (s *Store) cleanupLocked(now time.Time) int {
	s.lastCleanup = now
	removed := 0
	for token, pv := range s.byToken {
		drop := false
		if pv.State != core.StateVerified && pv.ExpiredAt(now) {
			drop = true
		}
		if pv.State == core.StateVerified && now.Sub(pv.CreatedAt) > 2*pv.TTL {
			drop = true
		}
		if drop {
			s.removeTokenLocked(token)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("verification store cleanup",
			zap.Int("removed", removed),
			zap.Int("remaining", len(s.byToken)))
	}
	return removed
}

// evictOldestLocked drops the entry with the earliest creation time. Last
// resort when the store is full of unexpired entries.
func (s *Store) evictOldestLocked() {
	var oldestToken string
	var oldest *core.PendingVerification
	for token, pv := range s.byToken {
		if oldest == nil || pv.CreatedAt.Before(oldest.CreatedAt) {
			oldest = pv
			oldestToken = token
		}
	}
	if oldestToken != "" {
		s.removeTokenLocked(oldestToken)
		s.log.Error("verification store still full after cleanup, evicted oldest entry",
			zap.String("token", oldestToken))
	}
}

func (s *Store) removeTokenLocked(token string) {
	delete(s.byToken, token)
	for sessionID, t := range s.bySession {
		if t == token {
			delete(s.bySession, sessionID)
		}
	}
}

package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := NewStore(zap.NewNop())
	store.now = func() time.Time { return now }
	return store, &now
}

func TestCreatePendingThenGetByToken(t *testing.T) {
	store, _ := newTestStore(t)

	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StatePending, pv.State)
	assert.Equal(t, "+15550001234", pv.ExpectedPhone)
}

func TestHandleIncomingMessageMatches(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	// Message text case-folds and the sender arrives without the leading +.
	result := store.HandleIncomingMessage("15550001234", "acme-ab3f7g2k9", false)
	assert.Equal(t, core.Matched, result.Status)

	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StateVerified, pv.State)
	assert.Equal(t, "+15550001234", pv.SenderPhone)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	first := store.HandleIncomingMessage("+15550001234", "ACME-AB3F7G2K9", false)
	require.Equal(t, core.Matched, first.Status)

	second := store.HandleIncomingMessage("+15550001234", "ACME-AB3F7G2K9", false)
	assert.Equal(t, core.MatchNone, second.Status)

	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StateVerified, pv.State)
}

func TestPhoneMismatchLeavesEntryPending(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	result := store.HandleIncomingMessage("+19998887777", "ACME-AB3F7G2K9", false)
	assert.Equal(t, core.PhoneMismatch, result.Status)
	assert.Equal(t, "1234", result.ExpectedPhoneLast4)

	// The rightful owner can still complete it.
	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StatePending, pv.State)

	result = store.HandleIncomingMessage("+15550001234", "ACME-AB3F7G2K9", false)
	assert.Equal(t, core.Matched, result.Status)
}

func TestExpiredEntryIsRemovedOnMatch(t *testing.T) {
	store, now := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	*now = now.Add(301 * time.Second)

	result := store.HandleIncomingMessage("+15550001234", "ACME-AB3F7G2K9", false)
	assert.Equal(t, core.MatchExpired, result.Status)
	assert.Equal(t, "1234", result.ExpectedPhoneLast4)

	_, ok := store.GetByToken("ACME-AB3F7G2K9")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Size())
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	store, now := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	*now = now.Add(301 * time.Second)

	_, ok := store.GetByToken("ACME-AB3F7G2K9")
	assert.False(t, ok)

	_, ok = store.GetStatus("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Size())
}

func TestPseudonymousSenderSkipsPhoneCheck(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	result := store.HandleIncomingMessage("123456789012345678", "ACME-AB3F7G2K9", true)
	assert.Equal(t, core.Matched, result.Status)

	// The store leaves the state decision to the caller.
	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StatePending, pv.State)

	require.True(t, store.MarkConfirmPending("ACME-AB3F7G2K9"))

	// Duplicate webhook delivery while awaiting confirmation is a no-op.
	dup := store.HandleIncomingMessage("123456789012345678", "ACME-AB3F7G2K9", true)
	assert.Equal(t, core.MatchNone, dup.Status)
}

func TestConfirmIdentityCompletesPendingConfirm(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")
	store.HandleIncomingMessage("123456789012345678", "ACME-AB3F7G2K9", true)
	require.True(t, store.MarkConfirmPending("ACME-AB3F7G2K9"))

	require.True(t, store.ConfirmIdentity("ACME-AB3F7G2K9", "+15550001234"))

	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StateVerified, pv.State)
	assert.Equal(t, "+15550001234", pv.SenderPhone)

	// Idempotent on repeat.
	assert.True(t, store.ConfirmIdentity("ACME-AB3F7G2K9", "+15550001234"))

	// Unknown token is a no-op.
	assert.False(t, store.ConfirmIdentity("ACME-MISSING11", "+15550001234"))
}

func TestPendingConfirmSurvivesExpiryOnRead(t *testing.T) {
	store, now := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")
	require.True(t, store.MarkConfirmPending("ACME-AB3F7G2K9"))

	*now = now.Add(301 * time.Second)

	pv, ok := store.GetByToken("ACME-AB3F7G2K9")
	require.True(t, ok)
	assert.Equal(t, core.StatePendingConfirm, pv.State)
}

func TestOneChallengePerSession(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AAAAAAAAA", "+15550001234", 300*time.Second, "sess-1")
	store.CreatePending("ACME-BBBBBBBBB", "+15550001234", 300*time.Second, "sess-1")

	_, ok := store.GetByToken("ACME-AAAAAAAAA")
	assert.False(t, ok)

	pv, ok := store.GetStatus("sess-1")
	require.True(t, ok)
	assert.Equal(t, "ACME-BBBBBBBBB", pv.Token)
	assert.Equal(t, 1, store.Size())
}

func TestRemoveDropsBothIndexes(t *testing.T) {
	store, _ := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")

	store.Remove("sess-1")

	_, ok := store.GetByToken("ACME-AB3F7G2K9")
	assert.False(t, ok)
	_, ok = store.GetStatus("sess-1")
	assert.False(t, ok)
}

func TestCleanupRemovesStaleVerified(t *testing.T) {
	store, now := newTestStore(t)
	store.CreatePending("ACME-AB3F7G2K9", "+15550001234", 300*time.Second, "sess-1")
	store.HandleIncomingMessage("+15550001234", "ACME-AB3F7G2K9", false)

	// Verified entries outlive their TTL so the browser can still poll them.
	*now = now.Add(400 * time.Second)
	assert.Equal(t, 0, store.CleanupExpired())
	_, ok := store.GetByToken("ACME-AB3F7G2K9")
	assert.True(t, ok)

	// Past twice the TTL nobody is coming back for them.
	*now = now.Add(300 * time.Second)
	assert.Equal(t, 1, store.CleanupExpired())
	assert.Equal(t, 0, store.Size())
}

func TestCapacityEvictsOldest(t *testing.T) {
	store, now := newTestStore(t)

	base := *now
	for i := 0; i < maxPendingEntries; i++ {
		*now = base.Add(time.Duration(i) * time.Millisecond)
		store.CreatePending(fmt.Sprintf("ACME-%09d", i), "+15550001234", time.Hour, fmt.Sprintf("sess-%d", i))
	}
	require.Equal(t, maxPendingEntries, store.Size())

	*now = base.Add(time.Duration(maxPendingEntries) * time.Millisecond)
	store.CreatePending("ACME-OVERFLOW1", "+15550001234", time.Hour, "sess-overflow")

	assert.Equal(t, maxPendingEntries, store.Size())

	// The very first entry was the one evicted.
	_, ok := store.GetByToken("ACME-000000000")
	assert.False(t, ok)
	_, ok = store.GetByToken("ACME-OVERFLOW1")
	assert.True(t, ok)
}

func TestConcurrentMatchAndPoll(t *testing.T) {
	store, _ := newTestStore(t)

	const n = 100
	for i := 0; i < n; i++ {
		store.CreatePending(fmt.Sprintf("ACME-%09d", i), "+15550001234", time.Hour, fmt.Sprintf("sess-%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		token := fmt.Sprintf("ACME-%09d", i)
		go func() {
			defer wg.Done()
			store.HandleIncomingMessage("+15550001234", token, false)
		}()
		go func() {
			defer wg.Done()
			store.GetByToken(token)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		pv, ok := store.GetByToken(fmt.Sprintf("ACME-%09d", i))
		require.True(t, ok)
		assert.Equal(t, core.StateVerified, pv.State)
	}
}

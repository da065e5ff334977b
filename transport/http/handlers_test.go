package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sah-anshu/wa2fa-meta/adapters/notes"
	"github.com/sah-anshu/wa2fa-meta/service"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type nopSender struct{}

func (nopSender) SendTemplate(context.Context, string, string, string, ...string) error { return nil }
func (nopSender) SendAuthTemplate(context.Context, string, string, string, ...string) error {
	return nil
}
func (nopSender) SendText(context.Context, string, string) error { return nil }

type testApp struct {
	router *gin.Engine
	notes  *notes.MemoryProvider
	disp   *service.Dispatcher
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	provider := notes.NewMemoryProvider()
	dispatcher := service.NewDispatcher(2, 32, log)
	t.Cleanup(dispatcher.Close)

	opts := service.Options{
		Realm:           "acme",
		BusinessPhone:   "+14155550100",
		DefaultRegion:   "GB",
		OTPEnabled:      true,
		OTPLength:       6,
		OTPExpiry:       5 * time.Minute,
		OTPMaxAttempts:  5,
		OTPTemplate:     "login_code",
		DefaultLanguage: "en",
		QREnabled:       true,
		QRTTL:           5 * time.Minute,
		ConfirmBaseURL:  "https://auth.example.com/wa2fa/confirm",
		AckVerified:     "verified",
	}
	verification := service.NewVerificationService(
		opts,
		service.NewStore(log),
		service.NewOTPManager(),
		service.NewConfirmLinkSigner("confirm-secret", time.Hour),
		nopSender{},
		nil,
		nil,
		provider,
		dispatcher,
		log,
	)

	return &testApp{
		router: SetupRouter(verification, testVerifyToken, testAppSecret, log),
		notes:  provider,
		disp:   dispatcher,
	}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) postJSON(path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func signedWebhookRequest(t *testing.T, sender, text string) *http.Request {
	t.Helper()
	payload := fmt.Sprintf(
		`{"entry":[{"changes":[{"value":{"messages":[{"from":%q,"text":{"body":%q}}]}}]}]}`,
		sender, text)

	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(payload))

	req := httptest.NewRequest(http.MethodPost, "/wa2fa/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhookHandshake(t *testing.T) {
	app := newTestApp(t)

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.challenge", "challenge-1234")
	q.Set("hub.verify_token", testVerifyToken)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/webhook?"+q.Encode(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "challenge-1234", w.Body.String())
}

func TestWebhookHandshakeTokenMismatch(t *testing.T) {
	app := newTestApp(t)

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.challenge", "challenge-1234")
	q.Set("hub.verify_token", "wrong")

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/webhook?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHealthPing(t *testing.T) {
	app := newTestApp(t)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/webhook", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/wa2fa/webhook",
		bytes.NewReader([]byte(`{"entry":[]}`)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	w := app.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookAcceptsUnparseablePayload(t *testing.T) {
	app := newTestApp(t)

	payload := []byte("not json")
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(payload)

	req := httptest.NewRequest(http.MethodPost, "/wa2fa/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	w := app.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChallengeWebhookStatusFlow(t *testing.T) {
	app := newTestApp(t)

	// Start a challenge.
	w := app.postJSON("/wa2fa/challenge", gin.H{
		"session_id": "sess-1",
		"phone":      "+447911123456",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Contains(t, body["link"], token)
	assert.Equal(t, float64(300), body["expires_in"])

	// Poll: pending.
	w = app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/qr-status?token="+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["status"])

	// The expected phone messages the token in.
	w = app.do(signedWebhookRequest(t, "447911123456", token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "received", decodeBody(t, w)["status"])

	// Poll: verified.
	w = app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/qr-status?token="+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "verified", body["status"])
	assert.Equal(t, "+447911123456", body["phone"])
}

func TestQRStatusUnknownToken(t *testing.T) {
	app := newTestApp(t)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/qr-status?token=ACME-ZZZZZZZZZ", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["status"])

	w = app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/qr-status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["status"])
}

func TestStartChallengeRejectsBadPhone(t *testing.T) {
	app := newTestApp(t)

	w := app.postJSON("/wa2fa/challenge", gin.H{
		"session_id": "sess-1",
		"phone":      "not a phone",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartChallengeRequiresFields(t *testing.T) {
	app := newTestApp(t)

	w := app.postJSON("/wa2fa/challenge", gin.H{"phone": "+447911123456"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelChallenge(t *testing.T) {
	app := newTestApp(t)

	w := app.postJSON("/wa2fa/challenge", gin.H{
		"session_id": "sess-1",
		"phone":      "+447911123456",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decodeBody(t, w)["token"].(string)

	w = app.do(httptest.NewRequest(http.MethodDelete, "/wa2fa/challenge/sess-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/qr-status?token="+token, nil))
	assert.Equal(t, "not_found", decodeBody(t, w)["status"])
}

func TestOTPSendAndValidate(t *testing.T) {
	app := newTestApp(t)

	w := app.postJSON("/wa2fa/otp/send", gin.H{
		"session_id": "sess-1",
		"phone":      "+447911123456",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sent", decodeBody(t, w)["status"])

	code := app.notes.ForSession("sess-1").Get("wa2fa_otp_code")
	require.Len(t, code, 6)

	w = app.postJSON("/wa2fa/otp/validate", gin.H{
		"session_id": "sess-1",
		"code":       "wrong1",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_code", decodeBody(t, w)["error"])

	w = app.postJSON("/wa2fa/otp/validate", gin.H{
		"session_id": "sess-1",
		"code":       code,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["valid"])
}

func TestOTPValidateLockout(t *testing.T) {
	app := newTestApp(t)

	w := app.postJSON("/wa2fa/otp/send", gin.H{
		"session_id": "sess-1",
		"phone":      "+447911123456",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = app.postJSON("/wa2fa/otp/validate", gin.H{
			"session_id": "sess-1",
			"code":       "wrong1",
		})
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "locked_out", decodeBody(t, last)["error"])
}

func TestConfirmRequiresToken(t *testing.T) {
	app := newTestApp(t)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/confirm", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmRejectsGarbageToken(t *testing.T) {
	app := newTestApp(t)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/confirm?token=garbage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmGoneForMissingVerification(t *testing.T) {
	app := newTestApp(t)

	signer := service.NewConfirmLinkSigner("confirm-secret", time.Hour)
	link, err := signer.Issue("ACME-AAAAAAAAA", "+447911123456")
	require.NoError(t, err)

	w := app.do(httptest.NewRequest(http.MethodGet, "/wa2fa/confirm?token="+url.QueryEscape(link), nil))
	assert.Equal(t, http.StatusGone, w.Code)
}

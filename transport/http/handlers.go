package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sah-anshu/wa2fa-meta/core"
	"github.com/sah-anshu/wa2fa-meta/service"
	"go.uber.org/zap"
)

// maxWebhookBody bounds how much of a webhook POST is read before parsing.
const maxWebhookBody = 1 << 20

// Handlers contains the HTTP handlers for the verification endpoints.
type Handlers struct {
	verification *service.VerificationService
	verifyToken  string // webhook subscription verify token
	appSecret    string // Meta app secret for X-Hub-Signature-256
	log          *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(verification *service.VerificationService, verifyToken, appSecret string, log *zap.Logger) *Handlers {
	return &Handlers{
		verification: verification,
		verifyToken:  verifyToken,
		appSecret:    appSecret,
		log:          log,
	}
}

// VerifyWebhook answers Meta's webhook subscription handshake: echo
// hub.challenge when hub.verify_token matches the configured one.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	challenge := c.Query("hub.challenge")
	verifyToken := c.Query("hub.verify_token")

	if mode == "subscribe" && challenge != "" {
		if h.verifyToken != "" && h.verifyToken == verifyToken {
			h.log.Info("whatsapp webhook verified")
			c.String(http.StatusOK, challenge)
			return
		}
		h.log.Warn("webhook verification failed: token mismatch")
		c.String(http.StatusForbidden, "verify token mismatch")
		return
	}

	c.String(http.StatusOK, "wa2fa webhook active")
}

// ReceiveMessage handles an inbound WhatsApp message. The signature gate runs
// against the raw body before any parsing; after it, the response is always
// 200 — Meta retries aggressively on anything else, and a retry storm is
// worse than a dropped match.
func (h *Handlers) ReceiveMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !service.ValidateMetaSignature(body, signature, h.appSecret) {
		h.log.Warn("rejecting webhook post: invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}
	if h.appSecret == "" {
		h.log.Warn("app secret not configured, webhook signature validation skipped")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Debug("unparseable webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	if msg, ok := payload.firstMessage(); ok {
		h.log.Info("inbound whatsapp message", zap.String("sender_last4", core.Last4(msg.Sender)))
		h.verification.ProcessInboundMessage(msg.Sender, msg.Text)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// QRStatus is the browser poll: token in, {not_found, pending,
// pending_confirm, verified, expired} out. Safe to hit every few seconds; the
// only mutation is the store's lazy expiry eviction.
func (h *Handlers) QRStatus(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"status": "not_found"})
		return
	}

	pv, ok := h.verification.QRStatusByToken(token)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "not_found"})
		return
	}

	if pv.State == core.StateVerified {
		c.JSON(http.StatusOK, gin.H{"status": "verified", "phone": pv.SenderPhone})
		return
	}

	// Expired pending entries were already evicted by the lookup; an expired
	// entry seen here is a pending_confirm that outlived its TTL waiting for
	// the confirmation link.
	if pv.ExpiredAt(time.Now()) {
		c.JSON(http.StatusOK, gin.H{"status": "expired"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": pv.State.String()})
}

// ConfirmIdentity consumes the phone-ownership confirmation link sent to
// pseudonymous senders.
func (h *Handlers) ConfirmIdentity(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	if err := h.verification.ConfirmIdentity(token); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid confirmation link"})
		case errors.Is(err, core.ErrTokenExpired):
			c.JSON(http.StatusGone, gin.H{"error": "verification expired"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// StartChallenge issues a QR challenge for a login session.
func (h *Handlers) StartChallenge(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Phone     string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	challenge, err := h.verification.StartQRChallenge(req.SessionID, req.Phone)
	if err != nil {
		c.JSON(phoneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      challenge.Token,
		"link":       challenge.Link,
		"expires_in": int(challenge.ExpiresIn.Seconds()),
	})
}

// CancelChallenge drops a session's pending challenge.
func (h *Handlers) CancelChallenge(c *gin.Context) {
	h.verification.CancelChallenge(c.Param("session_id"))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// SendOTP issues or re-delivers a one-time code.
func (h *Handlers) SendOTP(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Phone     string `json:"phone" binding:"required"`
		Language  string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.verification.SendOTP(req.SessionID, req.Phone, req.Language); err != nil {
		c.JSON(phoneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// ValidateOTP checks a user-entered code.
func (h *Handlers) ValidateOTP(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Code      string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.verification.ValidateOTP(req.SessionID, req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.Is(err, core.ErrOTPLockedOut):
		c.JSON(http.StatusTooManyRequests, gin.H{"valid": false, "error": "locked_out"})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "invalid_code"})
	}
}

func phoneErrorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrPhoneRequired),
		errors.Is(err, core.ErrPhoneNotParseable),
		errors.Is(err, core.ErrPhoneNotValid),
		errors.Is(err, core.ErrPhoneNotMobile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoMethodEnabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

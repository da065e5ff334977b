package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"github.com/sah-anshu/wa2fa-meta/ports"
	"go.uber.org/zap"
)

// Options carries the already-resolved settings the verification service
// needs. Config-file/env fallback chains live in the config package; by the
// time values reach here they are plain.
type Options struct {
	Realm           string
	BusinessPhone   string // international format, digits only or with +
	DefaultRegion   string // ISO-3166 alpha-2, used when user input has no +prefix
	OTPEnabled      bool
	OTPLength       int
	OTPExpiry       time.Duration
	OTPMaxAttempts  int
	OTPTemplate     string
	DefaultLanguage string
	QREnabled       bool
	QRTTL           time.Duration
	ConfirmBaseURL  string // e.g. "https://auth.example.com/wa2fa/confirm"

	// Acknowledgement reply texts, sent back over the open conversation
	// window after an inbound QR message. AckMismatch may contain the
	// "{{last4}}" placeholder.
	AckVerified string
	AckMismatch string
	AckExpired  string
	AckNoMatch  string
}

// VerificationService orchestrates the two second-factor methods: the
// out-of-band QR challenge and the delivered one-time code. HTTP handlers
// call into it; everything network-bound goes through the dispatcher.
type VerificationService struct {
	log        *zap.Logger
	opts       Options
	store      *Store
	otp        *OTPManager
	confirm    *ConfirmLinkSigner
	sender     ports.MessageSender
	fallback   ports.MessageSender // optional SMS fallback, may be nil
	events     ports.EventPublisher
	notes      ports.NotesProvider
	dispatcher *Dispatcher
}

// NewVerificationService wires the coordination engine together.
func NewVerificationService(
	opts Options,
	store *Store,
	otp *OTPManager,
	confirm *ConfirmLinkSigner,
	sender ports.MessageSender,
	fallback ports.MessageSender,
	events ports.EventPublisher,
	notes ports.NotesProvider,
	dispatcher *Dispatcher,
	log *zap.Logger,
) *VerificationService {
	return &VerificationService{
		log:        log,
		opts:       opts,
		store:      store,
		otp:        otp,
		confirm:    confirm,
		sender:     sender,
		fallback:   fallback,
		events:     events,
		notes:      notes,
		dispatcher: dispatcher,
	}
}

// Challenge is what a login flow needs to render the QR method: the token
// the user's message must carry and the deep link the QR encodes.
type Challenge struct {
	Token     string
	Link      string
	ExpiresIn time.Duration
}

// StartQRChallenge validates the phone, issues a fresh token and registers
// the pending verification for the session. Any previous challenge for the
// same session is replaced.
func (s *VerificationService) StartQRChallenge(sessionID, rawPhone string) (Challenge, error) {
	if !s.opts.QREnabled {
		return Challenge{}, core.ErrNoMethodEnabled
	}

	phone, err := NormalizePhone(rawPhone, s.opts.DefaultRegion)
	if err != nil {
		return Challenge{}, err
	}

	token, err := GenerateToken(s.opts.Realm)
	if err != nil {
		return Challenge{}, fmt.Errorf("failed to issue challenge: %w", err)
	}

	s.store.CreatePending(token, phone, s.opts.QRTTL, sessionID)

	return Challenge{
		Token:     token,
		Link:      BuildWaMeLink(s.opts.BusinessPhone, token),
		ExpiresIn: s.opts.QRTTL,
	}, nil
}

// QRStatus returns the session's active verification, if any.
func (s *VerificationService) QRStatus(sessionID string) (core.PendingVerification, bool) {
	return s.store.GetStatus(sessionID)
}

// QRStatusByToken returns the verification for a token, for the browser poll.
func (s *VerificationService) QRStatusByToken(token string) (core.PendingVerification, bool) {
	return s.store.GetByToken(token)
}

// CancelChallenge drops the session's pending verification.
func (s *VerificationService) CancelChallenge(sessionID string) {
	s.store.Remove(sessionID)
}

// ProcessInboundMessage handles one webhook message: matches it against
// pending challenges, progresses the state machine and dispatches the
// acknowledgement reply. The returned result is informational — the webhook
// response to Meta is always 200 regardless.
func (s *VerificationService) ProcessInboundMessage(sender, text string) core.MatchResult {
	senderIsLID := !IsDialablePhone(sender)

	result := s.store.HandleIncomingMessage(sender, text, senderIsLID)

	if result.Matched() && senderIsLID {
		// Token possession is proven but the phone is not. Park the entry in
		// pending_confirm and send the owner a signed confirmation link.
		token := strings.ToUpper(strings.TrimSpace(text))
		if pv, ok := s.store.GetByToken(token); ok && s.store.MarkConfirmPending(pv.Token) {
			s.sendConfirmLinkAsync(pv.Token, pv.ExpectedPhone)
		}
	}

	if result.Matched() && !senderIsLID {
		s.publishCompletedAsync("qr", sender)
	}

	s.sendAckReplyAsync(sender, result)
	return result
}

// ConfirmIdentity consumes a confirmation link token and completes the
// pending_confirm step for its verification.
func (s *VerificationService) ConfirmIdentity(confirmToken string) error {
	verificationToken, phone, err := s.confirm.Parse(confirmToken)
	if err != nil {
		return err
	}
	if !s.store.ConfirmIdentity(verificationToken, phone) {
		return core.ErrTokenExpired
	}
	s.publishCompletedAsync("qr", phone)
	return nil
}

// SendOTP issues (or re-delivers) a one-time code to the user's phone. A
// still-valid stored code is reused so hammering "resend" does not invalidate
// the code already in flight.
func (s *VerificationService) SendOTP(sessionID, rawPhone, language string) error {
	if !s.opts.OTPEnabled {
		return core.ErrNoMethodEnabled
	}

	phone, err := NormalizePhone(rawPhone, s.opts.DefaultRegion)
	if err != nil {
		return err
	}

	notes := s.notes.ForSession(sessionID)

	code, ok := s.otp.StoredCode(notes)
	if !ok || !s.otp.IsStillValid(notes, s.opts.OTPExpiry) {
		code, err = s.otp.GenerateCode(s.opts.OTPLength)
		if err != nil {
			return err
		}
		s.otp.StoreCode(notes, code)
	}

	if language == "" {
		language = s.opts.DefaultLanguage
	}

	s.dispatcher.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := s.sender.SendAuthTemplate(ctx, phone, s.opts.OTPTemplate, language, code)
		if err == nil {
			s.log.Info("otp sent", zap.String("phone_last4", core.Last4(phone)))
			return
		}
		s.log.Warn("whatsapp otp delivery failed",
			zap.String("phone_last4", core.Last4(phone)), zap.Error(err))

		if s.fallback == nil {
			return
		}
		if err := s.fallback.SendText(ctx, phone, code); err != nil {
			s.log.Error("sms fallback delivery failed",
				zap.String("phone_last4", core.Last4(phone)), zap.Error(err))
			return
		}
		s.log.Info("otp sent via sms fallback", zap.String("phone_last4", core.Last4(phone)))
	})

	return nil
}

// ValidateOTP checks a user-entered code for the session.
func (s *VerificationService) ValidateOTP(sessionID, userInput string) error {
	notes := s.notes.ForSession(sessionID)

	if s.otp.IsLockedOut(notes) {
		return core.ErrOTPLockedOut
	}
	if !s.otp.Validate(notes, userInput, s.opts.OTPExpiry, s.opts.OTPMaxAttempts) {
		if s.otp.IsLockedOut(notes) {
			return core.ErrOTPLockedOut
		}
		return core.ErrOTPInvalid
	}

	s.publishCompletedAsync("otp", "")
	return nil
}

func (s *VerificationService) sendConfirmLinkAsync(verificationToken, phone string) {
	link, err := s.confirm.Issue(verificationToken, phone)
	if err != nil {
		s.log.Error("failed to issue confirm link", zap.Error(err))
		return
	}
	text := s.opts.ConfirmBaseURL + "?token=" + link

	s.dispatcher.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.sender.SendText(ctx, phone, text); err != nil {
			s.log.Error("failed to send confirm link",
				zap.String("phone_last4", core.Last4(phone)), zap.Error(err))
		}
	})
}

func (s *VerificationService) sendAckReplyAsync(sender string, result core.MatchResult) {
	var text string
	switch result.Status {
	case core.Matched:
		text = s.opts.AckVerified
	case core.PhoneMismatch:
		hint := result.ExpectedPhoneLast4
		if hint == "" {
			hint = "****"
		}
		text = strings.ReplaceAll(s.opts.AckMismatch, "{{last4}}", hint)
	case core.MatchExpired:
		text = s.opts.AckExpired
	default:
		text = s.opts.AckNoMatch
	}
	if text == "" {
		return
	}

	phone := sender
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}

	s.dispatcher.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.sender.SendText(ctx, phone, text); err != nil {
			s.log.Warn("failed to send ack reply",
				zap.String("phone_last4", core.Last4(phone)), zap.Error(err))
		}
	})
}

func (s *VerificationService) publishCompletedAsync(method, phone string) {
	if s.events == nil {
		return
	}
	last4 := core.Last4(phone)
	s.dispatcher.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.events.PublishVerificationCompleted(ctx, s.opts.Realm, method, last4); err != nil {
			s.log.Warn("failed to publish verification event", zap.Error(err))
		}
	})
}

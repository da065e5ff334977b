package sender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"go.uber.org/zap"
)

// SMSSender is the fallback transport used when the WhatsApp delivery fails:
// it pushes the message to a configurable SMS gateway endpoint.
//
// In GET mode the recipient and content are appended to the URL as `to` and
// `content` query parameters; in POST mode the base URL is called unchanged
// and the parameters go into a form-encoded body.
type SMSSender struct {
	client  *http.Client
	baseURL string
	method  string
	log     *zap.Logger
}

// NewSMSSender creates a fallback sender. method is "GET" or "POST";
// anything else falls back to GET.
func NewSMSSender(baseURL, method string, log *zap.Logger) *SMSSender {
	if !strings.EqualFold(method, http.MethodPost) {
		method = http.MethodGet
	} else {
		method = http.MethodPost
	}
	return &SMSSender{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		method:  method,
		log:     log,
	}
}

// SendTemplate is not supported by plain SMS gateways; the message content is
// expected to already be rendered. It delegates to SendText with the joined
// parameters.
func (s *SMSSender) SendTemplate(ctx context.Context, phone, template, language string, params ...string) error {
	return s.SendText(ctx, phone, strings.Join(params, " "))
}

// SendAuthTemplate delegates to SendText the same way as SendTemplate.
func (s *SMSSender) SendAuthTemplate(ctx context.Context, phone, template, language string, params ...string) error {
	return s.SendText(ctx, phone, strings.Join(params, " "))
}

// SendText delivers a plain-text SMS through the gateway.
func (s *SMSSender) SendText(ctx context.Context, phone, text string) error {
	if s.baseURL == "" {
		return fmt.Errorf("%w: sms fallback url not configured", core.ErrSendFailed)
	}

	form := url.Values{}
	form.Set("to", phone)
	form.Set("content", text)

	var req *http.Request
	var err error
	if s.method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		sep := "?"
		if strings.Contains(s.baseURL, "?") {
			sep = "&"
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+sep+form.Encode(), nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSendFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Error("sms gateway error", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: sms gateway status %d", core.ErrSendFailed, resp.StatusCode)
	}

	return nil
}

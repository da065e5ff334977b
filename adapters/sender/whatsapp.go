package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"go.uber.org/zap"
)

const defaultAPIVersion = "v22.0"

// WhatsAppSender sends messages through the Meta WhatsApp Cloud API. One
// instance is shared by all background workers; the embedded http.Client is
// safe for concurrent use.
type WhatsAppSender struct {
	client        *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
	apiVersion    string
	log           *zap.Logger
}

// NewWhatsAppSender creates a sender for the given business phone number ID.
// apiVersion may be empty; it defaults to v22.0.
func NewWhatsAppSender(accessToken, phoneNumberID, apiVersion string, log *zap.Logger) *WhatsAppSender {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return &WhatsAppSender{
		client:        &http.Client{Timeout: 30 * time.Second},
		baseURL:       "https://graph.facebook.com",
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		apiVersion:    apiVersion,
		log:           log,
	}
}

type templateRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Template         *templateBody `json:"template,omitempty"`
	Text             *textBody     `json:"text,omitempty"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendTemplate sends a pre-approved template message (e.g. login notification).
func (s *WhatsAppSender) SendTemplate(ctx context.Context, phone, template, language string, params ...string) error {
	return s.sendTemplate(ctx, phone, template, language, false, params)
}

// SendAuthTemplate sends an authentication template. Meta requires the OTP
// code (first body parameter) to be repeated as the URL button parameter at
// index 0, which this method adds.
func (s *WhatsAppSender) SendAuthTemplate(ctx context.Context, phone, template, language string, params ...string) error {
	return s.sendTemplate(ctx, phone, template, language, true, params)
}

// SendText sends a free-form text message inside an open conversation window.
func (s *WhatsAppSender) SendText(ctx context.Context, phone, text string) error {
	req := templateRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             &textBody{Body: text},
	}
	return s.post(ctx, req)
}

func (s *WhatsAppSender) sendTemplate(ctx context.Context, phone, template, language string, withButton bool, params []string) error {
	bodyParams := make([]templateParameter, 0, len(params))
	for _, p := range params {
		bodyParams = append(bodyParams, templateParameter{Type: "text", Text: p})
	}

	components := []templateComponent{{Type: "body", Parameters: bodyParams}}
	if withButton && len(params) > 0 {
		components = append(components, templateComponent{
			Type:       "button",
			SubType:    "url",
			Index:      "0",
			Parameters: []templateParameter{{Type: "text", Text: params[0]}},
		})
	}

	req := templateRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: &templateBody{
			Name:       template,
			Language:   templateLanguage{Code: language},
			Components: components,
		},
	}
	return s.post(ctx, req)
}

func (s *WhatsAppSender) post(ctx context.Context, payload templateRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.apiVersion, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Error("whatsapp api error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return fmt.Errorf("%w: whatsapp api status %d", core.ErrSendFailed, resp.StatusCode)
	}

	return nil
}

package ports

import "context"

// MessageSender delivers outbound messages to a user's phone. Implementations
// wrap the Meta Cloud API or an SMS gateway; all calls are made from
// background workers, never from request handlers.
type MessageSender interface {
	// SendTemplate sends a pre-approved template message.
	SendTemplate(ctx context.Context, phone, template, language string, params ...string) error

	// SendAuthTemplate sends an authentication template. Meta requires the
	// first body parameter (the OTP code) to be repeated as the URL button
	// parameter, which implementations handle internally.
	SendAuthTemplate(ctx context.Context, phone, template, language string, params ...string) error

	// SendText sends a free-form text message. Only valid inside an open
	// 24h conversation window (e.g. replying to an inbound message).
	SendText(ctx context.Context, phone, text string) error
}

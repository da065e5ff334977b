package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/sah-anshu/wa2fa-meta/ports"
)

// VerificationCompletedTopic carries one event per completed second-factor
// verification, for audit trails and login-notification consumers.
const VerificationCompletedTopic = "wa2fa.verification.completed"

// VerificationCompletedEvent is the published payload. Only the last four
// digits of the phone leave the process.
type VerificationCompletedEvent struct {
	Realm      string    `json:"realm"`
	Method     string    `json:"method"` // "qr" or "otp"
	PhoneLast4 string    `json:"phone_last4"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WatermillPublisher implements ports.EventPublisher on top of a Watermill
// publisher (redis streams in production).
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher wraps a Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishVerificationCompleted publishes a completion event.
func (p *WatermillPublisher) PublishVerificationCompleted(ctx context.Context, realm, method, phoneLast4 string) error {
	event := VerificationCompletedEvent{
		Realm:      realm,
		Method:     method,
		PhoneLast4: phoneLast4,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(VerificationCompletedTopic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

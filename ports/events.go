package ports

import "context"

// EventPublisher publishes verification lifecycle events for downstream
// consumers (audit, login notifications).
type EventPublisher interface {
	PublishVerificationCompleted(ctx context.Context, realm, method, phoneLast4 string) error
}

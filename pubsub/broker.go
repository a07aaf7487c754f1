package pubsub

import (
	"context"
	"time"
)

// Broker is the messaging backend boundary: an administrative plane for
// topic/subscription lifecycle and a data plane for publish, pull and
// acknowledge. Implementations must be safe for concurrent use.
//
// Admin operations referencing a missing resource fail with a NotFound
// error; duplicate creates fail with AlreadyExists. Pull never blocks
// waiting for new arrivals: it returns whatever is currently deliverable,
// possibly nothing. Acknowledge is idempotent for expired or already
// acknowledged handles.
type Broker interface {
	ProjectID() string

	CreateTopic(ctx context.Context, topic string) error
	DeleteTopic(ctx context.Context, topic string) error
	ListTopics(ctx context.Context) ([]string, error)

	CreateSubscription(ctx context.Context, subscription, topic string, ackDeadline time.Duration) error
	DeleteSubscription(ctx context.Context, subscription string) error
	ListSubscriptions(ctx context.Context) ([]string, error)

	Publish(ctx context.Context, topic string, env *Envelope) (string, error)
	Pull(ctx context.Context, subscription string, maxMessages int) ([]*ReceivedMessage, error)
	Acknowledge(ctx context.Context, subscription string, ackIDs []string) error

	Subscribe(ctx context.Context, subscription string, opts SubscribeOptions, handler StreamHandler) error

	Close(ctx context.Context) error
}

// Envelope holds the broker-facing outbound message.
type Envelope struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// ReceivedMessage is a single delivery attempt pulled from a subscription.
// AckID identifies this attempt only; it expires with the ack deadline.
type ReceivedMessage struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	AckID      string
}

// StreamMessage is handed to streaming subscribers. Exactly one of Ack or
// Nack should be called once the message has been handled.
type StreamMessage struct {
	ReceivedMessage
	Ack  func() error
	Nack func() error
}

// StreamHandler processes messages delivered by a streaming subscribe.
type StreamHandler func(ctx context.Context, msg *StreamMessage) error

// SubscribeOptions configures a streaming subscribe at the broker level.
type SubscribeOptions struct {
	Parallelism    int
	MaxOutstanding int
}

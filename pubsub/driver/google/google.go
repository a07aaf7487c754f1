// Package google implements pubsub.Broker on Google Cloud Pub/Sub. Admin
// and streaming traffic go through the high-level SDK client; synchronous
// pull and acknowledge use the low-level subscriber API, which is the only
// surface exposing return-immediately pulls.
package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	pubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	gcperr "github.com/polarisops/gcp-common/errors"
	"github.com/polarisops/gcp-common/pubsub"
)

type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	Endpoint        string
	Options         []option.ClientOption
	Logger          pubsub.Logger
	Receive         ReceiveSettings
}

type ReceiveSettings struct {
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

type broker struct {
	projectID  string
	client     *gcppubsub.Client
	subscriber *pubapi.SubscriberClient
	logger     pubsub.Logger
	receive    ReceiveSettings
}

func New(ctx context.Context, cfg Config) (pubsub.Broker, error) {
	if cfg.ProjectID == "" {
		return nil, gcperr.InvalidArgument("googlepubsub: project id required")
	}
	opts := make([]option.ClientOption, 0, len(cfg.Options)+2)
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.Options...)

	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("googlepubsub: create client: %w", err)
	}
	subscriber, err := pubapi.NewSubscriberClient(ctx, opts...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("googlepubsub: create subscriber client: %w", err)
	}

	b := &broker{
		projectID:  cfg.ProjectID,
		client:     client,
		subscriber: subscriber,
		logger:     cfg.Logger,
		receive:    cfg.Receive,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

func (b *broker) ProjectID() string { return b.projectID }

func (b *broker) CreateTopic(ctx context.Context, topic string) error {
	_, err := b.client.CreateTopic(ctx, topic)
	return wrap("create topic", err)
}

func (b *broker) DeleteTopic(ctx context.Context, topic string) error {
	return wrap("delete topic", b.client.Topic(topic).Delete(ctx))
}

// ListTopics drains the paginated listing and returns full resource names.
func (b *broker) ListTopics(ctx context.Context) ([]string, error) {
	var names []string
	it := b.client.Topics(ctx)
	for {
		t, err := it.Next()
		if err == iterator.Done {
			return names, nil
		}
		if err != nil {
			return nil, wrap("list topics", err)
		}
		names = append(names, t.String())
	}
}

func (b *broker) CreateSubscription(ctx context.Context, subscription, topic string, ackDeadline time.Duration) error {
	_, err := b.client.CreateSubscription(ctx, subscription, gcppubsub.SubscriptionConfig{
		Topic:       b.client.Topic(topic),
		AckDeadline: ackDeadline,
	})
	return wrap("create subscription", err)
}

func (b *broker) DeleteSubscription(ctx context.Context, subscription string) error {
	return wrap("delete subscription", b.client.Subscription(subscription).Delete(ctx))
}

func (b *broker) ListSubscriptions(ctx context.Context) ([]string, error) {
	var names []string
	it := b.client.Subscriptions(ctx)
	for {
		s, err := it.Next()
		if err == iterator.Done {
			return names, nil
		}
		if err != nil {
			return nil, wrap("list subscriptions", err)
		}
		names = append(names, s.String())
	}
}

func (b *broker) Publish(ctx context.Context, topic string, env *pubsub.Envelope) (string, error) {
	if env == nil {
		env = &pubsub.Envelope{}
	}
	gTopic := b.client.Topic(topic)
	defer gTopic.Stop()
	if env.OrderingKey != "" {
		gTopic.EnableMessageOrdering = true
	}
	res := gTopic.Publish(ctx, &gcppubsub.Message{
		Data:        append([]byte(nil), env.Data...),
		Attributes:  cloneMap(env.Attributes),
		OrderingKey: env.OrderingKey,
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", wrap("publish", err)
	}
	return id, nil
}

func (b *broker) Pull(ctx context.Context, subscription string, maxMessages int) ([]*pubsub.ReceivedMessage, error) {
	resp, err := b.subscriber.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: pubsub.SubscriptionName(b.projectID, subscription),
		MaxMessages:  int32(maxMessages),
		// Deprecated upstream, but it is the contract here: return whatever
		// is deliverable right now instead of waiting for arrivals.
		ReturnImmediately: true,
	})
	if err != nil {
		return nil, wrap("pull", err)
	}
	msgs := make([]*pubsub.ReceivedMessage, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		m := rm.GetMessage()
		msgs = append(msgs, &pubsub.ReceivedMessage{
			ID:         m.GetMessageId(),
			Data:       m.GetData(),
			Attributes: m.GetAttributes(),
			AckID:      rm.GetAckId(),
		})
	}
	return msgs, nil
}

func (b *broker) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	err := b.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: pubsub.SubscriptionName(b.projectID, subscription),
		AckIds:       ackIDs,
	})
	return wrap("acknowledge", err)
}

func (b *broker) Subscribe(ctx context.Context, subscription string, opts pubsub.SubscribeOptions, handler pubsub.StreamHandler) error {
	if handler == nil {
		return gcperr.InvalidArgument("googlepubsub: handler required")
	}
	sub := b.client.Subscription(subscription)
	settings := sub.ReceiveSettings
	if b.receive.NumGoroutines > 0 {
		settings.NumGoroutines = b.receive.NumGoroutines
	}
	if opts.Parallelism > 0 {
		settings.NumGoroutines = opts.Parallelism
	}
	if b.receive.MaxOutstandingMessages > 0 {
		settings.MaxOutstandingMessages = b.receive.MaxOutstandingMessages
	}
	if opts.MaxOutstanding > 0 {
		settings.MaxOutstandingMessages = opts.MaxOutstanding
	}
	if b.receive.MaxOutstandingBytes > 0 {
		settings.MaxOutstandingBytes = b.receive.MaxOutstandingBytes
	}
	if b.receive.MaxExtension > 0 {
		settings.MaxExtension = b.receive.MaxExtension
	}
	sub.ReceiveSettings = settings

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		handlerErr error
	)
	fail := func(err error) {
		mu.Lock()
		if handlerErr == nil {
			handlerErr = err
		}
		mu.Unlock()
		cancel()
	}

	err := sub.Receive(subCtx, func(msgCtx context.Context, m *gcppubsub.Message) {
		var once sync.Once
		ack := func() error {
			once.Do(m.Ack)
			return nil
		}
		nack := func() error {
			once.Do(m.Nack)
			return nil
		}
		sm := &pubsub.StreamMessage{
			ReceivedMessage: pubsub.ReceivedMessage{
				ID:         m.ID,
				Data:       append([]byte(nil), m.Data...),
				Attributes: cloneMap(m.Attributes),
			},
			Ack:  ack,
			Nack: nack,
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error(msgCtx, "googlepubsub handler panic", "subscription", subscription, "panic", r)
				_ = nack()
				fail(fmt.Errorf("googlepubsub: handler panic: %v", r))
			}
		}()
		if err := handler(msgCtx, sm); err != nil {
			fail(err)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if handlerErr != nil {
		return handlerErr
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return wrap("receive", err)
}

func (b *broker) Close(context.Context) error {
	subErr := b.subscriber.Close()
	if err := b.client.Close(); err != nil {
		return err
	}
	return subErr
}

// wrap classifies a broker SDK error into the module taxonomy while keeping
// the cause for unwrapping.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := gcperr.KindUnknown
	switch status.Code(err) {
	case codes.NotFound:
		kind = gcperr.KindNotFound
	case codes.AlreadyExists:
		kind = gcperr.KindAlreadyExists
	case codes.InvalidArgument:
		kind = gcperr.KindInvalidArgument
	}
	return gcperr.Wrap(kind, fmt.Sprintf("googlepubsub: %s: %v", op, err), err)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

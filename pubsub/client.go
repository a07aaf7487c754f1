package pubsub

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	gcperr "github.com/polarisops/gcp-common/errors"
	"github.com/polarisops/gcp-common/pubsub/internal/backoff"
)

// Client is a thin façade over a Broker. It adds publish retry with
// exponential backoff, default option handling, logging, hooks and the
// composite multi-subscription operations. All data operations stay
// synchronous; waiting for eventual visibility is the caller's concern.
type Client struct {
	broker Broker
	opts   options
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

func New(ctx context.Context, broker Broker, opts ...Option) (*Client, error) {
	if broker == nil {
		return nil, gcperr.InvalidArgument("pubsub: broker required")
	}
	base := defaultOptions()
	for _, opt := range opts {
		opt(&base)
	}
	if base.logger == nil {
		base.logger = noopLogger{}
	}
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		broker: broker,
		opts:   base,
		ctx:    clientCtx,
		cancel: cancel,
		subs:   map[*subscription]struct{}{},
	}, nil
}

func (c *Client) ProjectID() string { return c.broker.ProjectID() }

// CreateTopic creates a topic scoped to the active project. Creating an
// existing topic surfaces the broker's AlreadyExists error; there is no
// silent idempotency.
func (c *Client) CreateTopic(ctx context.Context, topic string) error {
	if topic == "" {
		return gcperr.InvalidArgument("pubsub: topic required")
	}
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.broker.CreateTopic(ctx, topic); err != nil {
		return err
	}
	c.opts.logger.Info(ctx, "topic created", "topic", topic)
	return nil
}

// DeleteTopic deletes a topic; a missing topic fails with NotFound.
func (c *Client) DeleteTopic(ctx context.Context, topic string) error {
	if topic == "" {
		return gcperr.InvalidArgument("pubsub: topic required")
	}
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.broker.DeleteTopic(ctx, topic); err != nil {
		return err
	}
	c.opts.logger.Info(ctx, "topic deleted", "topic", topic)
	return nil
}

// CreateSubscription binds a new subscription to an existing topic. The
// default acknowledgement deadline is 10 seconds unless overridden.
func (c *Client) CreateSubscription(ctx context.Context, subscription, topic string, opts ...SubscriptionOption) error {
	if subscription == "" {
		return gcperr.InvalidArgument("pubsub: subscription required")
	}
	if topic == "" {
		return gcperr.InvalidArgument("pubsub: topic required")
	}
	if err := c.guard(); err != nil {
		return err
	}
	sopts := defaultSubscriptionOptions(c.opts)
	for _, opt := range opts {
		opt(&sopts)
	}
	if err := c.broker.CreateSubscription(ctx, subscription, topic, sopts.ackDeadline); err != nil {
		return err
	}
	c.opts.logger.Info(ctx, "subscription created", "subscription", subscription, "topic", topic)
	return nil
}

func (c *Client) DeleteSubscription(ctx context.Context, subscription string) error {
	if subscription == "" {
		return gcperr.InvalidArgument("pubsub: subscription required")
	}
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.broker.DeleteSubscription(ctx, subscription); err != nil {
		return err
	}
	c.opts.logger.Info(ctx, "subscription deleted", "subscription", subscription)
	return nil
}

// ListTopicNames returns the fully drained listing of topic resource names.
func (c *Client) ListTopicNames(ctx context.Context) ([]string, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.broker.ListTopics(ctx)
}

func (c *Client) ListSubscriptionNames(ctx context.Context) ([]string, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.broker.ListSubscriptions(ctx)
}

func (c *Client) TopicExists(ctx context.Context, topic string) (bool, error) {
	names, err := c.ListTopicNames(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(names, TopicName(c.broker.ProjectID(), topic)), nil
}

func (c *Client) SubscriptionExists(ctx context.Context, subscription string) (bool, error) {
	names, err := c.ListSubscriptionNames(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(names, SubscriptionName(c.broker.ProjectID(), subscription)), nil
}

// DeleteTopicIfExists deletes the topic only when the project listing shows
// it, so cleanup never trips over NotFound. Reports whether a delete was
// attempted.
func (c *Client) DeleteTopicIfExists(ctx context.Context, topic string) (bool, error) {
	exists, err := c.TopicExists(ctx, topic)
	if err != nil || !exists {
		return false, err
	}
	return true, c.DeleteTopic(ctx, topic)
}

func (c *Client) DeleteSubscriptionIfExists(ctx context.Context, subscription string) (bool, error) {
	exists, err := c.SubscriptionExists(ctx, subscription)
	if err != nil || !exists {
		return false, err
	}
	return true, c.DeleteSubscription(ctx, subscription)
}

// Publish sends one message to a topic, retrying transient failures per the
// configured policy. Broker contract errors (NotFound, AlreadyExists,
// InvalidArgument) are permanent and returned immediately.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, opts ...PublishOption) (string, error) {
	if topic == "" {
		return "", gcperr.InvalidArgument("pubsub: topic required")
	}
	if err := c.guard(); err != nil {
		return "", err
	}
	po := defaultPublishOptions(c.opts)
	for _, opt := range opts {
		opt(&po)
	}
	env := &Envelope{
		Data:        append([]byte(nil), data...),
		Attributes:  cloneMap(po.attributes),
		OrderingKey: po.orderingKey,
	}
	policy := po.retryPolicy.normalized()
	bo := backoff.New(backoff.Config{
		Initial:    policy.InitialBackoff,
		Max:        policy.MaxBackoff,
		Multiplier: policy.Multiplier,
		Jitter:     policy.Jitter,
	})
	var attempt int
	for {
		attempt++
		id, err := c.broker.Publish(ctx, topic, env)
		if err == nil {
			if c.opts.hooks.OnPublish != nil {
				c.opts.hooks.OnPublish(ctx, topic, id)
			}
			return id, nil
		}
		if isPermanent(err) || attempt >= policy.MaxAttempts {
			if c.opts.hooks.OnPublishFail != nil {
				c.opts.hooks.OnPublishFail(ctx, topic, err)
			}
			return "", err
		}
		delay := bo.Next()
		c.opts.logger.Warn(ctx, "publish retry", "topic", topic, "attempt", attempt, "delay", delay.String(), "err", err)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return "", ctx.Err()
		case <-tmr.C:
		}
	}
}

// PublishCount publishes count independent copies of the same payload. Each
// subscription bound to the topic receives its own copy of every message.
func (c *Client) PublishCount(ctx context.Context, topic string, data []byte, count int, opts ...PublishOption) ([]string, error) {
	if count <= 0 {
		return nil, gcperr.InvalidArgument("pubsub: count must be positive")
	}
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := c.Publish(ctx, topic, data, opts...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Pull fetches up to maxMessages currently deliverable messages. It returns
// immediately with whatever is available, possibly nothing. maxMessages <= 0
// falls back to the configured pull batch size.
func (c *Client) Pull(ctx context.Context, subscription string, maxMessages int) ([]*ReceivedMessage, error) {
	if subscription == "" {
		return nil, gcperr.InvalidArgument("pubsub: subscription required")
	}
	if err := c.guard(); err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = c.opts.pullBatch
	}
	msgs, err := c.broker.Pull(ctx, subscription, maxMessages)
	if err != nil {
		return nil, err
	}
	if c.opts.hooks.OnPull != nil {
		c.opts.hooks.OnPull(ctx, subscription, len(msgs))
	}
	return msgs, nil
}

// PullPayloads pulls and projects the message payloads as strings.
func (c *Client) PullPayloads(ctx context.Context, subscription string, maxMessages int) ([]string, error) {
	msgs, err := c.Pull(ctx, subscription, maxMessages)
	if err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m *ReceivedMessage, _ int) string { return string(m.Data) }), nil
}

// Acknowledge removes the referenced deliveries from the subscription's
// backlog. Expired or already-acknowledged handles are a no-op.
func (c *Client) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	if subscription == "" {
		return gcperr.InvalidArgument("pubsub: subscription required")
	}
	if len(ackIDs) == 0 {
		return nil
	}
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.broker.Acknowledge(ctx, subscription, ackIDs); err != nil {
		return err
	}
	if c.opts.hooks.OnAcknowledge != nil {
		c.opts.hooks.OnAcknowledge(ctx, subscription, len(ackIDs))
	}
	return nil
}

// AcknowledgeMatching pulls from every named subscription and acknowledges
// the messages whose payload equals the expected one. Each subscription is
// handled independently and concurrently: acknowledging on one never
// touches another's backlog. Returns the number of messages acknowledged
// per subscription.
func (c *Client) AcknowledgeMatching(ctx context.Context, payload []byte, subscriptions ...string) (map[string]int, error) {
	if len(subscriptions) == 0 {
		return nil, gcperr.InvalidArgument("pubsub: at least one subscription required")
	}
	if err := c.guard(); err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acked    = make(map[string]int, len(subscriptions))
		firstErr error
	)
	for _, name := range subscriptions {
		wg.Add(1)
		go func(subscription string) {
			defer wg.Done()
			count, err := c.ackMatchingOne(ctx, subscription, payload)
			mu.Lock()
			defer mu.Unlock()
			acked[subscription] = count
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(name)
	}
	wg.Wait()
	return acked, firstErr
}

func (c *Client) ackMatchingOne(ctx context.Context, subscription string, payload []byte) (int, error) {
	msgs, err := c.Pull(ctx, subscription, 0)
	if err != nil {
		return 0, err
	}
	matching := lo.Filter(msgs, func(m *ReceivedMessage, _ int) bool {
		return bytes.Equal(m.Data, payload)
	})
	ackIDs := lo.Map(matching, func(m *ReceivedMessage, _ int) string { return m.AckID })
	if err := c.Acknowledge(ctx, subscription, ackIDs); err != nil {
		return 0, err
	}
	return len(ackIDs), nil
}

// Subscribe starts a managed streaming consumer on a subscription.
func (c *Client) Subscribe(subscription string, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if subscription == "" {
		return nil, gcperr.InvalidArgument("pubsub: subscription required")
	}
	if handler == nil {
		return nil, gcperr.InvalidArgument("pubsub: handler required")
	}
	if err := c.guard(); err != nil {
		return nil, err
	}
	sopts := defaultSubscriptionOptions(c.opts)
	for _, opt := range opts {
		opt(&sopts)
	}
	sub := newSubscription(c.ctx, c, subscription, handler, sopts)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, gcperr.New(gcperr.KindUnknown, "pubsub: client closed")
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	sub.start()
	return sub, nil
}

// Shutdown stops all streaming subscriptions and closes the broker.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = map[*subscription]struct{}{}
	c.mu.Unlock()
	c.cancel()
	for _, sub := range subs {
		_ = sub.Stop(ctx)
	}
	return c.broker.Close(ctx)
}

func (c *Client) guard() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return gcperr.New(gcperr.KindUnknown, "pubsub: client closed")
	}
	return nil
}

func (c *Client) remove(sub *subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// isPermanent reports whether the error belongs to the broker contract
// taxonomy; those are never retried.
func isPermanent(err error) bool {
	return gcperr.KindOf(err) != gcperr.KindUnknown
}

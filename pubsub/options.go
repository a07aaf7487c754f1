package pubsub

import (
	"time"
)

type Option func(*options)

type PublishOption func(*publishOptions)

type SubscriptionOption func(*subscriptionOptions)

type options struct {
	logger          Logger
	hooks           Hooks
	ackDeadline     time.Duration
	pullBatch       int
	publishRetry    RetryPolicy
	subscribeWorker int
	subscribeBuffer int
}

type publishOptions struct {
	attributes  map[string]string
	orderingKey string
	retryPolicy RetryPolicy
}

type subscriptionOptions struct {
	ackDeadline time.Duration
	workers     int
	buffer      int
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

func defaultOptions() options {
	return options{
		ackDeadline:     10 * time.Second,
		pullBatch:       10,
		subscribeWorker: 4,
		subscribeBuffer: 64,
		publishRetry: RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
		},
	}
}

func defaultPublishOptions(parent options) publishOptions {
	return publishOptions{
		attributes:  map[string]string{},
		retryPolicy: parent.publishRetry,
	}
}

func defaultSubscriptionOptions(parent options) subscriptionOptions {
	return subscriptionOptions{
		ackDeadline: parent.ackDeadline,
		workers:     parent.subscribeWorker,
		buffer:      parent.subscribeBuffer,
	}
}

func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithDefaultAckDeadline changes the acknowledgement deadline used when
// creating subscriptions. The package default is 10 seconds.
func WithDefaultAckDeadline(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ackDeadline = d
		}
	}
}

// WithPullBatchSize bounds how many messages a single pull may return when
// the caller does not say otherwise.
func WithPullBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pullBatch = n
		}
	}
}

func WithPublishRetry(policy RetryPolicy) Option {
	return func(o *options) {
		o.publishRetry = policy.normalized()
	}
}

func WithSubscribeWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subscribeWorker = n
		}
	}
}

func WithSubscribeBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subscribeBuffer = n
		}
	}
}

func WithAttributes(attrs map[string]string) PublishOption {
	return func(o *publishOptions) {
		for k, v := range attrs {
			o.attributes[k] = v
		}
	}
}

func WithOrderingKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.orderingKey = key
	}
}

func WithAckDeadline(d time.Duration) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if d > 0 {
			o.ackDeadline = d
		}
	}
}

func WithWorkers(n int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.Multiplier <= 0 {
		r.Multiplier = 2
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 200 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	return r
}

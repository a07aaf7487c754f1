package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/polarisops/gcp-common/pubsub/internal/backoff"
	"github.com/polarisops/gcp-common/pubsub/internal/worker"
)

// Subscription is a managed streaming consumer started by Client.Subscribe.
type Subscription interface {
	Name() string
	Stop(ctx context.Context) error
	Health() SubscriptionHealth
}

type SubscriptionHealth struct {
	Name          string
	Workers       int
	Failures      int
	LastError     string
	LastMessageID string
	LastActivity  time.Time
}

type subscription struct {
	client  *Client
	name    string
	handler Handler
	opts    subscriptionOptions
	ctx     context.Context
	cancel  context.CancelFunc
	pool    *worker.Pool
	backoff *backoff.Exponential
	logger  Logger
	hooks   Hooks

	mu     sync.RWMutex
	health SubscriptionHealth
	closed bool
	wg     sync.WaitGroup
}

func newSubscription(parent context.Context, client *Client, name string, handler Handler, opts subscriptionOptions) *subscription {
	subCtx, cancel := context.WithCancel(parent)
	return &subscription{
		client:  client,
		name:    name,
		handler: handler,
		opts:    opts,
		ctx:     subCtx,
		cancel:  cancel,
		pool:    worker.New(opts.workers, opts.buffer),
		backoff: backoff.New(backoff.Config{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}),
		logger:  client.opts.logger,
		hooks:   client.opts.hooks,
		health:  SubscriptionHealth{Name: name, Workers: opts.workers},
	}
}

func (s *subscription) Name() string { return s.name }

func (s *subscription) start() {
	s.wg.Add(1)
	go s.receiver()
}

// receiver keeps a streaming subscribe open, reconnecting with backoff
// after transport failures until the subscription is stopped.
func (s *subscription) receiver() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		err := s.client.broker.Subscribe(s.ctx, s.name, SubscribeOptions{
			Parallelism:    s.opts.workers,
			MaxOutstanding: s.opts.buffer,
		}, s.dispatch)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.backoff.Reset()
			return
		}
		if s.hooks.OnConnectionErr != nil {
			s.hooks.OnConnectionErr(s.ctx, s.name, err)
		}
		delay := s.backoff.Next()
		s.logger.Warn(s.ctx, "subscription reconnect", "subscription", s.name, "delay", delay.String(), "err", err)
		tmr := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			tmr.Stop()
			return
		case <-tmr.C:
		}
	}
}

func (s *subscription) dispatch(ctx context.Context, raw *StreamMessage) error {
	if raw == nil {
		return nil
	}
	if s.hooks.OnReceive != nil {
		s.hooks.OnReceive(ctx, s.name, raw.ID)
	}
	msg := newMessage(raw)
	if err := s.pool.Submit(ctx, func(execCtx context.Context) {
		s.process(execCtx, msg)
	}); err != nil {
		s.logger.Error(ctx, "failed to submit message", "subscription", s.name, "message", raw.ID, "err", err)
		return msg.Nack()
	}
	return nil
}

func (s *subscription) process(ctx context.Context, msg *Message) {
	err := s.handler.Handle(ctx, msg)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			s.logger.Error(ctx, "ack failed", "subscription", s.name, "message", msg.ID(), "err", ackErr)
		}
		s.recordHealth(msg.ID(), nil)
		return
	}
	s.logger.Warn(ctx, "handler failed", "subscription", s.name, "message", msg.ID(), "err", err)
	if s.hooks.OnHandleFail != nil {
		s.hooks.OnHandleFail(ctx, s.name, msg.ID(), err)
	}
	if nackErr := msg.Nack(); nackErr != nil {
		s.logger.Error(ctx, "nack failed", "subscription", s.name, "message", msg.ID(), "err", nackErr)
	}
	s.recordHealth(msg.ID(), err)
}

func (s *subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.Close()
		s.pool.Wait()
		s.client.remove(s)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *subscription) Health() SubscriptionHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *subscription) recordHealth(messageID string, err error) {
	s.mu.Lock()
	if err != nil {
		s.health.Failures++
		s.health.LastError = err.Error()
	}
	s.health.LastMessageID = messageID
	s.health.LastActivity = time.Now()
	s.mu.Unlock()
}

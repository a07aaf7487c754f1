// Package inmem is a self-hosted pubsub.Broker for tests and local
// development. It reproduces the managed broker's contract: per-subscription
// backlogs with fan-out on publish, lease-based redelivery once the ack
// deadline lapses, idempotent acknowledge, and NotFound/AlreadyExists on
// administrative misuse.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	gcperr "github.com/polarisops/gcp-common/errors"
	"github.com/polarisops/gcp-common/pubsub"
)

const (
	defaultAckDeadline = 10 * time.Second
	pollInterval       = 20 * time.Millisecond
)

type Broker struct {
	projectID string

	mu     sync.Mutex
	topics map[string]struct{}
	subs   map[string]*subscription
	seq    int64
}

type subscription struct {
	topic       string
	ackDeadline time.Duration
	backlog     []*delivery
}

// delivery is one message instance in one subscription's backlog. The ack id
// is re-issued on every delivery attempt; stale ids silently miss.
type delivery struct {
	id         string
	data       []byte
	attributes map[string]string
	ackID      string
	leasedTill time.Time
}

func New(projectID string) *Broker {
	if projectID == "" {
		projectID = "local-project"
	}
	return &Broker{
		projectID: projectID,
		topics:    map[string]struct{}{},
		subs:      map[string]*subscription{},
	}
}

func (b *Broker) ProjectID() string { return b.projectID }

func (b *Broker) CreateTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; ok {
		return gcperr.New(gcperr.KindAlreadyExists, fmt.Sprintf("inmem: topic %q already exists", topic))
	}
	b.topics[topic] = struct{}{}
	return nil
}

func (b *Broker) DeleteTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		return gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: topic %q not found", topic))
	}
	delete(b.topics, topic)
	return nil
}

func (b *Broker) ListTopics(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		names = append(names, pubsub.TopicName(b.projectID, topic))
	}
	sort.Strings(names)
	return names, nil
}

func (b *Broker) CreateSubscription(_ context.Context, sub, topic string, ackDeadline time.Duration) error {
	if ackDeadline <= 0 {
		ackDeadline = defaultAckDeadline
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		return gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: topic %q not found", topic))
	}
	if _, ok := b.subs[sub]; ok {
		return gcperr.New(gcperr.KindAlreadyExists, fmt.Sprintf("inmem: subscription %q already exists", sub))
	}
	b.subs[sub] = &subscription{topic: topic, ackDeadline: ackDeadline}
	return nil
}

func (b *Broker) DeleteSubscription(_ context.Context, sub string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: subscription %q not found", sub))
	}
	delete(b.subs, sub)
	return nil
}

func (b *Broker) ListSubscriptions(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.subs))
	for sub := range b.subs {
		names = append(names, pubsub.SubscriptionName(b.projectID, sub))
	}
	sort.Strings(names)
	return names, nil
}

// Publish appends an independent copy of the message to the backlog of
// every subscription bound to the topic.
func (b *Broker) Publish(_ context.Context, topic string, env *pubsub.Envelope) (string, error) {
	if env == nil {
		env = &pubsub.Envelope{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		return "", gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: topic %q not found", topic))
	}
	b.seq++
	id := fmt.Sprintf("msg-%d", b.seq)
	for _, sub := range b.subs {
		if sub.topic != topic {
			continue
		}
		sub.backlog = append(sub.backlog, &delivery{
			id:         id,
			data:       append([]byte(nil), env.Data...),
			attributes: cloneMap(env.Attributes),
		})
	}
	return id, nil
}

// Pull leases up to maxMessages deliverable messages. Messages whose lease
// lapsed become deliverable again with a fresh ack id.
func (b *Broker) Pull(_ context.Context, sub string, maxMessages int) ([]*pubsub.ReceivedMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub]
	if !ok {
		return nil, gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: subscription %q not found", sub))
	}
	now := time.Now()
	msgs := make([]*pubsub.ReceivedMessage, 0, maxMessages)
	for _, d := range s.backlog {
		if len(msgs) == maxMessages {
			break
		}
		if d.leasedTill.After(now) {
			continue
		}
		d.ackID = uuid.New().String()
		d.leasedTill = now.Add(s.ackDeadline)
		msgs = append(msgs, &pubsub.ReceivedMessage{
			ID:         d.id,
			Data:       append([]byte(nil), d.data...),
			Attributes: cloneMap(d.attributes),
			AckID:      d.ackID,
		})
	}
	return msgs, nil
}

// Acknowledge removes the referenced deliveries from this subscription's
// backlog only. Unknown or expired ack ids are ignored.
func (b *Broker) Acknowledge(_ context.Context, sub string, ackIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub]
	if !ok {
		return gcperr.New(gcperr.KindNotFound, fmt.Sprintf("inmem: subscription %q not found", sub))
	}
	acked := make(map[string]struct{}, len(ackIDs))
	for _, id := range ackIDs {
		acked[id] = struct{}{}
	}
	now := time.Now()
	kept := s.backlog[:0]
	for _, d := range s.backlog {
		if _, ok := acked[d.ackID]; ok && d.ackID != "" && d.leasedTill.After(now) {
			continue
		}
		kept = append(kept, d)
	}
	s.backlog = kept
	return nil
}

// Subscribe polls the backlog and hands leased messages to the handler
// until the context is done.
func (b *Broker) Subscribe(ctx context.Context, sub string, opts pubsub.SubscribeOptions, handler pubsub.StreamHandler) error {
	if handler == nil {
		return gcperr.InvalidArgument("inmem: handler required")
	}
	batch := opts.MaxOutstanding
	if batch <= 0 {
		batch = 10
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgs, err := b.Pull(ctx, sub, batch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := handler(ctx, b.streamMessage(sub, m)); err != nil {
				return err
			}
		}
		if len(msgs) == 0 {
			tmr := time.NewTimer(pollInterval)
			select {
			case <-ctx.Done():
				tmr.Stop()
				return ctx.Err()
			case <-tmr.C:
			}
		}
	}
}

func (b *Broker) streamMessage(sub string, m *pubsub.ReceivedMessage) *pubsub.StreamMessage {
	var once sync.Once
	sm := &pubsub.StreamMessage{ReceivedMessage: *m}
	sm.Ack = func() error {
		var err error
		once.Do(func() {
			err = b.Acknowledge(context.Background(), sub, []string{m.AckID})
		})
		return err
	}
	sm.Nack = func() error {
		once.Do(func() {
			b.release(sub, m.AckID)
		})
		return nil
	}
	return sm
}

// release drops the lease so the delivery becomes pullable again at once.
func (b *Broker) release(sub, ackID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub]
	if !ok {
		return
	}
	for _, d := range s.backlog {
		if d.ackID == ackID {
			d.leasedTill = time.Time{}
			return
		}
	}
}

func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	b.topics = map[string]struct{}{}
	b.subs = map[string]*subscription{}
	b.mu.Unlock()
	return nil
}

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

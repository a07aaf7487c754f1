package pubsub

import (
	"context"
	"sync"
)

// Handler processes messages delivered by a managed streaming subscription.
type Handler interface {
	Handle(ctx context.Context, m *Message) error
}

type HandlerFunc func(ctx context.Context, m *Message) error

func (f HandlerFunc) Handle(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

// Message is a delivery handed to a streaming Handler. Ack and Nack are
// safe to call more than once; only the first call takes effect.
type Message struct {
	id         string
	data       []byte
	attributes map[string]string
	ackFn      func() error
	nackFn     func() error
	ackOnce    sync.Once
	nackOnce   sync.Once
}

func newMessage(src *StreamMessage) *Message {
	return &Message{
		id:         src.ID,
		data:       src.Data,
		attributes: cloneMap(src.Attributes),
		ackFn:      src.Ack,
		nackFn:     src.Nack,
	}
}

func (m *Message) ID() string { return m.id }

func (m *Message) Data() []byte { return append([]byte(nil), m.data...) }

func (m *Message) Attributes() map[string]string { return cloneMap(m.attributes) }

func (m *Message) Ack() error {
	var err error
	m.ackOnce.Do(func() {
		if m.ackFn != nil {
			err = m.ackFn()
		}
	})
	return err
}

func (m *Message) Nack() error {
	var err error
	m.nackOnce.Do(func() {
		if m.nackFn != nil {
			err = m.nackFn()
		}
	})
	return err
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(src))
	for k, v := range src {
		cloned[k] = v
	}
	return cloned
}

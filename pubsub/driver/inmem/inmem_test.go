package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gcperr "github.com/polarisops/gcp-common/errors"
	"github.com/polarisops/gcp-common/pubsub"
	"github.com/polarisops/gcp-common/pubsub/driver/inmem"
)

func TestAdminErrors(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	assert.True(t, gcperr.IsAlreadyExists(broker.CreateTopic(ctx, "orders")))

	assert.True(t, gcperr.IsNotFound(broker.CreateSubscription(ctx, "sub", "ghost", 0)))
	require.NoError(t, broker.CreateSubscription(ctx, "sub", "orders", 0))
	assert.True(t, gcperr.IsAlreadyExists(broker.CreateSubscription(ctx, "sub", "orders", 0)))

	assert.True(t, gcperr.IsNotFound(broker.DeleteTopic(ctx, "ghost")))
	assert.True(t, gcperr.IsNotFound(broker.DeleteSubscription(ctx, "ghost")))

	_, err := broker.Pull(ctx, "ghost", 1)
	assert.True(t, gcperr.IsNotFound(err))
	_, err = broker.Publish(ctx, "ghost", &pubsub.Envelope{Data: []byte("x")})
	assert.True(t, gcperr.IsNotFound(err))
}

func TestListingsUseFullResourceNames(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	require.NoError(t, broker.CreateSubscription(ctx, "orders-sub", "orders", 0))

	topics, err := broker.ListTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/test-project/topics/orders"}, topics)

	subs, err := broker.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/test-project/subscriptions/orders-sub"}, subs)
}

func TestPublishFansOutPerSubscription(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	require.NoError(t, broker.CreateSubscription(ctx, "sub1", "orders", 0))
	require.NoError(t, broker.CreateSubscription(ctx, "sub2", "orders", 0))

	id, err := broker.Publish(ctx, "orders", &pubsub.Envelope{Data: []byte("order 42")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	one, err := broker.Pull(ctx, "sub1", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "order 42", string(one[0].Data))

	// Acknowledging on sub1 leaves sub2's copy untouched.
	require.NoError(t, broker.Acknowledge(ctx, "sub1", []string{one[0].AckID}))

	two, err := broker.Pull(ctx, "sub2", 10)
	require.NoError(t, err)
	require.Len(t, two, 1)
	assert.Equal(t, id, two[0].ID)

	empty, err := broker.Pull(ctx, "sub1", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	require.NoError(t, broker.CreateSubscription(ctx, "sub", "orders", 50*time.Millisecond))
	_, err := broker.Publish(ctx, "orders", &pubsub.Envelope{Data: []byte("order 42")})
	require.NoError(t, err)

	first, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Leased: invisible until the deadline lapses.
	during, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	assert.Empty(t, during)

	time.Sleep(80 * time.Millisecond)

	again, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.NotEqual(t, first[0].AckID, again[0].AckID)

	// The stale handle no longer acknowledges anything.
	require.NoError(t, broker.Acknowledge(ctx, "sub", []string{first[0].AckID}))
	time.Sleep(80 * time.Millisecond)
	still, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	require.Len(t, still, 1)

	require.NoError(t, broker.Acknowledge(ctx, "sub", []string{still[0].AckID}))
	require.NoError(t, broker.Acknowledge(ctx, "sub", []string{still[0].AckID}))
	empty, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPullRespectsMaxMessages(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	require.NoError(t, broker.CreateSubscription(ctx, "sub", "orders", 0))
	for i := 0; i < 5; i++ {
		_, err := broker.Publish(ctx, "orders", &pubsub.Envelope{Data: []byte("payload")})
		require.NoError(t, err)
	}

	batch, err := broker.Pull(ctx, "sub", 3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	rest, err := broker.Pull(ctx, "sub", 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestSubscribeDeliversAndStops(t *testing.T) {
	ctx := context.Background()
	broker := inmem.New("test-project")

	require.NoError(t, broker.CreateTopic(ctx, "orders"))
	require.NoError(t, broker.CreateSubscription(ctx, "sub", "orders", 0))
	_, err := broker.Publish(ctx, "orders", &pubsub.Envelope{Data: []byte("order 42")})
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- broker.Subscribe(subCtx, "sub", pubsub.SubscribeOptions{}, func(ctx context.Context, msg *pubsub.StreamMessage) error {
			if err := msg.Ack(); err != nil {
				return err
			}
			received <- string(msg.Data)
			return nil
		})
	}()

	select {
	case data := <-received:
		assert.Equal(t, "order 42", data)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscribe to stop")
	}
}

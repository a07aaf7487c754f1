package pubsubhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/polarisops/gcp-common/await"
	"github.com/polarisops/gcp-common/pubsub"
	"github.com/polarisops/gcp-common/pubsub/driver/google"
	"github.com/polarisops/gcp-common/pubsubhttp"
	"github.com/polarisops/gcp-common/web"
)

type fixture struct {
	server   *httptest.Server
	client   *pubsub.Client
	handlers *pubsubhttp.Handlers
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	emulator := pstest.NewServer()
	t.Cleanup(func() { emulator.Close() })

	conn, err := grpc.DialContext(ctx, emulator.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	broker, err := google.New(ctx, google.Config{
		ProjectID: "test-project",
		Options:   []option.ClientOption{option.WithGRPCConn(conn)},
	})
	require.NoError(t, err)

	client, err := pubsub.New(ctx, broker)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	core, logs := observer.New(zap.InfoLevel)
	handlers := pubsubhttp.NewHandlers(client, zap.New(core))
	t.Cleanup(func() { handlers.Stop(context.Background()) })

	engine := web.NewEngine(
		web.WithMode(gin.TestMode),
		web.WithRoutes(handlers.Register),
	)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &fixture{server: server, client: client, handlers: handlers, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestTopicAndSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, _ := f.do(t, http.MethodPost, "/createTopic?topicName=exampleTopic")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/createTopic?topicName=exampleTopic")
	assert.Equal(t, http.StatusConflict, status)

	exists, err := f.client.TopicExists(ctx, "exampleTopic")
	require.NoError(t, err)
	assert.True(t, exists)

	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=exampleTopic&subscriptionName=exampleSubscription")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=exampleTopic&subscriptionName=exampleSubscription")
	assert.Equal(t, http.StatusConflict, status)
	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=ghostTopic&subscriptionName=otherSubscription")
	assert.Equal(t, http.StatusNotFound, status)

	exists, err = f.client.SubscriptionExists(ctx, "exampleSubscription")
	require.NoError(t, err)
	assert.True(t, exists)

	status, _ = f.do(t, http.MethodPost, "/deleteSubscription?subscription=exampleSubscription")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/deleteSubscription?subscription=exampleSubscription")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/deleteTopic?topic=exampleTopic")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/deleteTopic?topic=exampleTopic")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/createTopic?topicName=")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPostMessageAndMultipull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, _ := f.do(t, http.MethodPost, "/createTopic?topicName=exampleTopic")
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=exampleTopic&subscriptionName=exampleSubscription1")
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=exampleTopic&subscriptionName=exampleSubscription2")
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/postMessage?message=hello&topicName=exampleTopic&count=2")
	require.Equal(t, http.StatusOK, status)
	var published struct {
		MessageIds []string `json:"messageIds"`
	}
	require.NoError(t, json.Unmarshal(body, &published))
	assert.Len(t, published.MessageIds, 2)

	// Every subscription gets its own copy of every message.
	pulled := map[string]int{}
	err := await.Until(ctx, func(ctx context.Context) bool {
		status, body := f.do(t, http.MethodGet, "/multipull?subscription1=exampleSubscription1&subscription2=exampleSubscription2")
		if status != http.StatusOK {
			return false
		}
		var result map[string][]string
		if err := json.Unmarshal(body, &result); err != nil {
			return false
		}
		pulled["exampleSubscription1"] += len(result["exampleSubscription1"])
		pulled["exampleSubscription2"] += len(result["exampleSubscription2"])
		return pulled["exampleSubscription1"] == 2 && pulled["exampleSubscription2"] == 2
	}, await.WithTimeout(60*time.Second))
	require.NoError(t, err)

	// Acknowledged on both: a further pull finds nothing on either.
	status, body = f.do(t, http.MethodGet, "/multipull?subscription1=exampleSubscription1&subscription2=exampleSubscription2")
	require.Equal(t, http.StatusOK, status)
	var empty map[string][]string
	require.NoError(t, json.Unmarshal(body, &empty))
	assert.Empty(t, empty["exampleSubscription1"])
	assert.Empty(t, empty["exampleSubscription2"])
}

func TestMultipullAcknowledgesPerSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.CreateTopic(ctx, "exampleTopic"))
	require.NoError(t, f.client.CreateSubscription(ctx, "left", "exampleTopic"))
	require.NoError(t, f.client.CreateSubscription(ctx, "right", "exampleTopic"))

	_, err := f.client.Publish(ctx, "exampleTopic", []byte("payload"))
	require.NoError(t, err)

	// Drain only the left subscription directly; multipull must still find
	// the right subscription's copy.
	err = await.Until(ctx, func(ctx context.Context) bool {
		msgs, err := f.client.Pull(ctx, "left", 10)
		if err != nil || len(msgs) == 0 {
			return false
		}
		ackIDs := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ackIDs = append(ackIDs, m.AckID)
		}
		return f.client.Acknowledge(ctx, "left", ackIDs) == nil
	}, await.WithTimeout(60*time.Second))
	require.NoError(t, err)

	found := 0
	err = await.Until(ctx, func(ctx context.Context) bool {
		status, body := f.do(t, http.MethodGet, "/multipull?subscription1=left&subscription2=right")
		if status != http.StatusOK {
			return false
		}
		var result map[string][]string
		if err := json.Unmarshal(body, &result); err != nil {
			return false
		}
		if len(result["left"]) != 0 {
			t.Errorf("left subscription should be empty, got %v", result["left"])
			return true
		}
		found += len(result["right"])
		return found == 1
	}, await.WithTimeout(60*time.Second))
	require.NoError(t, err)
}

func TestSubscribeStreamsAndAcknowledges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, _ := f.do(t, http.MethodPost, "/createTopic?topicName=exampleTopic")
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/createSubscription?topicName=exampleTopic&subscriptionName=exampleSubscription")
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/subscribe?subscription=exampleSubscription")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "subscribed")

	status, body = f.do(t, http.MethodGet, "/subscribe?subscription=exampleSubscription")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "already subscribed")

	status, _ = f.do(t, http.MethodGet, "/postMessage?message=streamed&topicName=exampleTopic&count=1")
	require.Equal(t, http.StatusOK, status)

	err := await.Until(ctx, func(context.Context) bool {
		return f.logs.FilterMessage("message received").Len() >= 1
	}, await.WithTimeout(60*time.Second))
	require.NoError(t, err)

	status, _ = f.do(t, http.MethodGet, "/subscribe?subscription=")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCleanupDeletesOnlyWhenPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deleted, err := f.client.DeleteSubscriptionIfExists(ctx, "exampleSubscription")
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = f.client.DeleteTopicIfExists(ctx, "exampleTopic")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, f.client.CreateTopic(ctx, "exampleTopic"))
	require.NoError(t, f.client.CreateSubscription(ctx, "exampleSubscription", "exampleTopic"))

	deleted, err = f.client.DeleteSubscriptionIfExists(ctx, "exampleSubscription")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = f.client.DeleteTopicIfExists(ctx, "exampleTopic")
	require.NoError(t, err)
	assert.True(t, deleted)
}

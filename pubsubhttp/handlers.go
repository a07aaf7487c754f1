// Package pubsubhttp exposes the pubsub client over a small HTTP surface
// for manual exercise and integration tests: topic and subscription
// lifecycle, publishing, synchronous multipull and a streaming subscriber.
package pubsubhttp

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	gcperr "github.com/polarisops/gcp-common/errors"
	"github.com/polarisops/gcp-common/pubsub"
)

type Handlers struct {
	client *pubsub.Client
	lg     *zap.Logger

	mu   sync.Mutex
	subs map[string]pubsub.Subscription
}

func NewHandlers(client *pubsub.Client, lg *zap.Logger) *Handlers {
	if lg == nil {
		lg = zap.L()
	}
	return &Handlers{
		client: client,
		lg:     lg,
		subs:   map[string]pubsub.Subscription{},
	}
}

func (h *Handlers) Register(r *gin.Engine) {
	r.POST("/createTopic", h.createTopic)
	r.POST("/deleteTopic", h.deleteTopic)
	r.POST("/createSubscription", h.createSubscription)
	r.POST("/deleteSubscription", h.deleteSubscription)
	r.GET("/postMessage", h.postMessage)
	r.GET("/subscribe", h.subscribe)
	r.GET("/multipull", h.multipull)
}

// Stop shuts down every streaming consumer started via /subscribe.
func (h *Handlers) Stop(ctx context.Context) {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[string]pubsub.Subscription{}
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Stop(ctx)
	}
}

func (h *Handlers) createTopic(c *gin.Context) {
	topic := c.Query("topicName")
	if err := h.client.CreateTopic(c.Request.Context(), topic); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic})
}

func (h *Handlers) deleteTopic(c *gin.Context) {
	topic := c.Query("topic")
	if err := h.client.DeleteTopic(c.Request.Context(), topic); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic})
}

func (h *Handlers) createSubscription(c *gin.Context) {
	topic := c.Query("topicName")
	subscription := c.Query("subscriptionName")
	if err := h.client.CreateSubscription(c.Request.Context(), subscription, topic); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": subscription, "topic": topic})
}

func (h *Handlers) deleteSubscription(c *gin.Context) {
	subscription := c.Query("subscription")
	if err := h.client.DeleteSubscription(c.Request.Context(), subscription); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": subscription})
}

func (h *Handlers) postMessage(c *gin.Context) {
	topic := c.Query("topicName")
	message := c.Query("message")
	count := 1
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, gcperr.InvalidArgument("pubsubhttp: count must be an integer"))
			return
		}
		count = parsed
	}
	ids, err := h.client.PublishCount(c.Request.Context(), topic, []byte(message), count)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic, "messageIds": ids})
}

// subscribe starts a managed streaming consumer that logs and acknowledges
// every delivery. Subscribing twice to the same subscription is a no-op.
func (h *Handlers) subscribe(c *gin.Context) {
	subscription := c.Query("subscription")
	if subscription == "" {
		h.fail(c, gcperr.InvalidArgument("pubsub: subscription required"))
		return
	}

	h.mu.Lock()
	_, active := h.subs[subscription]
	h.mu.Unlock()
	if active {
		c.JSON(http.StatusOK, gin.H{"subscription": subscription, "status": "already subscribed"})
		return
	}

	sub, err := h.client.Subscribe(subscription, pubsub.HandlerFunc(func(ctx context.Context, msg *pubsub.Message) error {
		h.lg.Info("message received",
			zap.String("subscription", subscription),
			zap.String("messageId", msg.ID()),
			zap.ByteString("payload", msg.Data()),
		)
		return nil
	}))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.mu.Lock()
	h.subs[subscription] = sub
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"subscription": subscription, "status": "subscribed"})
}

// multipull pulls from two subscriptions synchronously and acknowledges
// everything pulled, returning the payloads per subscription. Each
// subscription's backlog is drained independently.
func (h *Handlers) multipull(c *gin.Context) {
	ctx := c.Request.Context()
	first := c.Query("subscription1")
	second := c.Query("subscription2")

	result := gin.H{}
	for _, subscription := range []string{first, second} {
		msgs, err := h.client.Pull(ctx, subscription, 0)
		if err != nil {
			h.fail(c, err)
			return
		}
		payloads := make([]string, 0, len(msgs))
		ackIDs := make([]string, 0, len(msgs))
		for _, m := range msgs {
			payloads = append(payloads, string(m.Data))
			ackIDs = append(ackIDs, m.AckID)
		}
		if err := h.client.Acknowledge(ctx, subscription, ackIDs); err != nil {
			h.fail(c, err)
			return
		}
		result[subscription] = payloads
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	h.lg.Warn("request failed",
		zap.String("url", c.Request.URL.String()),
		zap.Error(err),
	)
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch gcperr.KindOf(err) {
	case gcperr.KindNotFound:
		return http.StatusNotFound
	case gcperr.KindAlreadyExists:
		return http.StatusConflict
	case gcperr.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

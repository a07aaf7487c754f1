package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polarisops/gcp-common/pubsub"
)

// PubsubHooks builds pubsub.Hooks that count publishes, pulls,
// acknowledgements and failures against this exporter's meter.
func (mc *MetricExporter) PubsubHooks() (pubsub.Hooks, error) {
	published, err := mc.meter.Int64Counter("pubsub.publish.count",
		metric.WithDescription("Messages published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create publish counter: %w", err)
	}
	publishFailed, err := mc.meter.Int64Counter("pubsub.publish.failures",
		metric.WithDescription("Publish attempts that failed permanently"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create publish failure counter: %w", err)
	}
	pulled, err := mc.meter.Int64Counter("pubsub.pull.messages",
		metric.WithDescription("Messages returned by pulls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create pull counter: %w", err)
	}
	acked, err := mc.meter.Int64Counter("pubsub.acknowledge.count",
		metric.WithDescription("Acknowledged messages"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create acknowledge counter: %w", err)
	}
	handleFailed, err := mc.meter.Int64Counter("pubsub.handle.failures",
		metric.WithDescription("Streaming handler failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create handler failure counter: %w", err)
	}

	return pubsub.Hooks{
		OnPublish: func(ctx context.Context, topic string, _ string) {
			published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		},
		OnPublishFail: func(ctx context.Context, topic string, _ error) {
			publishFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		},
		OnPull: func(ctx context.Context, subscription string, received int) {
			pulled.Add(ctx, int64(received), metric.WithAttributes(attribute.String("subscription", subscription)))
		},
		OnAcknowledge: func(ctx context.Context, subscription string, count int) {
			acked.Add(ctx, int64(count), metric.WithAttributes(attribute.String("subscription", subscription)))
		},
		OnHandleFail: func(ctx context.Context, subscription string, _ string, _ error) {
			handleFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("subscription", subscription)))
		},
	}, nil
}

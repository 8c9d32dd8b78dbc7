package pubsub

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/donlair/pubsub/pkg/logger"
)

var tracer = otel.Tracer("github.com/donlair/pubsub/pkg/pubsub")

// InstrumentedClient wraps a Client with OpenTelemetry spans and
// pkg/logger logging around Publish and Receive, the same layering
// pkg/messaging's InstrumentedBroker applies around a driver Broker.
type InstrumentedClient struct {
	*Client
}

// NewInstrumentedClient wraps c.
func NewInstrumentedClient(c *Client) *InstrumentedClient {
	return &InstrumentedClient{Client: c}
}

// Topic returns an instrumented publish handle.
func (c *InstrumentedClient) Topic(id string) *InstrumentedTopic {
	return &InstrumentedTopic{Topic: c.Client.Topic(id)}
}

// Subscription returns an instrumented receive handle.
func (c *InstrumentedClient) Subscription(id string) *InstrumentedSubscription {
	return &InstrumentedSubscription{Subscription: c.Client.Subscription(id)}
}

// InstrumentedTopic wraps Topic, tracing and logging each Publish.
type InstrumentedTopic struct {
	*Topic
}

// Publish behaves like Topic.Publish but starts a span covering submission
// through batch flush, and logs the eventual outcome.
func (t *InstrumentedTopic) Publish(ctx context.Context, msg *Message) PublishResult {
	ctx, span := tracer.Start(ctx, "pubsub.Publish", trace.WithAttributes(
		attribute.String("topic", t.id),
		attribute.Int("data_bytes", len(msg.Data)),
		attribute.String("ordering_key", msg.OrderingKey),
	))

	start := time.Now()
	result := t.Topic.Publish(ctx, msg)

	go func() {
		defer span.End()
		id, err := result.Get(context.Background())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.L().ErrorContext(ctx, "publish failed",
				"topic", t.id, "error", err, "duration", time.Since(start))
			return
		}
		logger.L().InfoContext(ctx, "publish succeeded",
			"topic", t.id, "message_id", id, "duration", time.Since(start))
	}()

	return result
}

// InstrumentedSubscription wraps Subscription, tracing and logging each
// dispatched message.
type InstrumentedSubscription struct {
	*Subscription
}

// Receive behaves like Subscription.Receive but wraps handler with a span
// and a completion log per message.
func (s *InstrumentedSubscription) Receive(ctx context.Context, handler func(context.Context, *Message)) error {
	wrapped := func(ctx context.Context, m *Message) {
		ctx, span := tracer.Start(ctx, "pubsub.Receive", trace.WithAttributes(
			attribute.String("subscription", s.id),
			attribute.Int("delivery_attempt", m.DeliveryAttempt),
		))
		defer span.End()

		start := time.Now()
		handler(ctx, m)
		logger.L().InfoContext(ctx, "message handled",
			"subscription", s.id, "message_id", m.ID, "duration", time.Since(start))
	}
	return s.Subscription.Receive(ctx, wrapped)
}

// Package gcpadapter bridges pkg/pubsub's Publisher/Puller surface onto
// the real cloud.google.com/go/pubsub/v2 client, the way
// pkg/streaming/adapters/pubsub wraps the same client behind this
// library's Config+New adapter pattern. It exists to make the module's
// purpose-statement claim checkable: code written against
// pkg/pubsub.Publisher/Puller can run unmodified against either this
// adapter or a pkg/broker-backed Client.
package gcpadapter

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/donlair/pubsub/pkg/pubsub"
	"github.com/donlair/pubsub/pkg/resilience"
)

// Config configures the real backend, mirroring the Config+New shape used
// throughout this module's adapters.
type Config struct {
	ProjectID string
}

// Client wraps a real cloud.google.com/go/pubsub/v2 client.
type Client struct {
	cfg Config
	raw *gcppubsub.Client
}

// New dials the real service, retrying transient dial failures (the
// service briefly unreachable, a DNS blip) with backoff rather than
// failing on the first attempt.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var raw *gcppubsub.Client
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		c, err := gcppubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		raw = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, raw: raw}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.raw.Close()
}

// Topic returns a pubsub.Publisher backed by the real topic id.
func (c *Client) Topic(id string) *Topic {
	return &Topic{id: id, publisher: c.raw.Publisher(id)}
}

// Subscription returns a pubsub.Puller backed by the real subscription id.
func (c *Client) Subscription(id string) *Subscription {
	return &Subscription{id: id, subscriber: c.raw.Subscriber(id)}
}

// Topic satisfies pubsub.Publisher against the real service.
type Topic struct {
	id        string
	publisher *gcppubsub.Publisher
}

var _ pubsub.Publisher = (*Topic)(nil)

// Publish forwards to the real publisher. The real client's PublishResult
// already exposes Get(ctx context.Context) (string, error), the same
// shape as pubsub.PublishResult, so no translation is needed on the
// result side.
func (t *Topic) Publish(ctx context.Context, msg *pubsub.Message) pubsub.PublishResult {
	return t.publisher.Publish(ctx, &gcppubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
}

// Subscription satisfies pubsub.Puller against the real service.
type Subscription struct {
	id         string
	subscriber *gcppubsub.Subscriber
}

var _ pubsub.Puller = (*Subscription)(nil)

// Receive forwards to the real subscriber, translating each delivered
// gcppubsub.Message into a pubsub.Message whose Ack/Nack close over the
// real message's own Ack/Nack — the same Message contract a
// pkg/broker-backed Subscription produces, just wired to a different
// backend.
func (s *Subscription) Receive(ctx context.Context, handler func(context.Context, *pubsub.Message)) error {
	return s.subscriber.Receive(ctx, func(ctx context.Context, raw *gcppubsub.Message) {
		m := pubsub.NewMessage(pubsub.MessageInit{
			ID:              raw.ID,
			Data:            raw.Data,
			Attributes:      raw.Attributes,
			PublishTime:     raw.PublishTime,
			OrderingKey:     raw.OrderingKey,
			DeliveryAttempt: deliveryAttempt(raw),
			AckID:           raw.ID,
			AckFunc:         raw.Ack,
			NackFunc:        raw.Nack,
		})
		handler(ctx, m)
	})
}

func deliveryAttempt(raw *gcppubsub.Message) int {
	if raw.DeliveryAttempt != nil {
		return *raw.DeliveryAttempt
	}
	return 1
}

// Package pubsub is a thin client surface — Client, Topic, Subscription,
// Message — over pkg/broker, in the shape of a managed cloud pub/sub
// client: callers construct a Client from a *broker.Broker, address topics
// and subscriptions by short name, and publish/receive through types that
// look and behave like cloud.google.com/go/pubsub's. pkg/pubsub/gcpadapter
// offers the same surface backed by the real cloud client, so application
// code written once can run against either.
package pubsub

import (
	"context"
	"time"

	"github.com/donlair/pubsub/pkg/broker"
)

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// Publisher is the minimal publish-side contract both a broker-backed
// Topic and gcpadapter's Topic satisfy.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) PublishResult
}

// Puller is the minimal receive-side contract both a broker-backed
// Subscription and gcpadapter's Subscription satisfy.
type Puller interface {
	Receive(ctx context.Context, handler func(context.Context, *Message)) error
}

// Client wraps a *broker.Broker, constructed explicitly by the caller and
// passed in here — the wrapper never stores a back-reference into the
// broker, and the broker never references the client.
type Client struct {
	broker    *broker.Broker
	projectID string
}

// NewClient wraps b for project projectID. projectID is used only to
// build the projects/<project>/topics|subscriptions/<name> names the core
// treats as opaque strings, matching how a cloud client addresses its
// resources.
func NewClient(b *broker.Broker, projectID string) *Client {
	return &Client{broker: b, projectID: projectID}
}

func (c *Client) topicFullName(id string) string {
	return "projects/" + c.projectID + "/topics/" + id
}

func (c *Client) subscriptionFullName(id string) string {
	return "projects/" + c.projectID + "/subscriptions/" + id
}

// CreateTopic registers a new topic and returns its handle.
func (c *Client) CreateTopic(ctx context.Context, id string) (*Topic, error) {
	full := c.topicFullName(id)
	c.broker.RegisterTopic(full, broker.TopicMetadata{})
	return c.Topic(id), nil
}

// Topic returns a handle for id. It does not check the topic exists;
// Publish against a nonexistent topic fails with NotFound, matching the
// core's own deferred existence check.
func (c *Client) Topic(id string) *Topic {
	full := c.topicFullName(id)
	return &Topic{
		client:   c,
		id:       id,
		fullName: full,
		settings: DefaultPublishSettings(),
		sem:      newOutstandingSemaphore(DefaultPublishSettings().MaxOutstandingPublishes),
	}
}

// SubscriptionConfig mirrors broker.SubscriptionOptions at the wrapper
// boundary, plus the topic it binds to.
type SubscriptionConfig struct {
	Topic                    *Topic
	AckDeadlineSeconds       int
	EnableMessageOrdering    bool
	RetryPolicy              *broker.RetryPolicy
	DeadLetterPolicy         *broker.DeadLetterPolicy
	FlowControl              *broker.FlowControl
	MessageRetentionDuration int64 // seconds
}

// CreateSubscription registers a new subscription bound to cfg.Topic and
// returns its handle.
func (c *Client) CreateSubscription(ctx context.Context, id string, cfg SubscriptionConfig) (*Subscription, error) {
	full := c.subscriptionFullName(id)
	opts := broker.SubscriptionOptions{
		AckDeadlineSeconds:    cfg.AckDeadlineSeconds,
		EnableMessageOrdering: cfg.EnableMessageOrdering,
		RetryPolicy:           cfg.RetryPolicy,
		DeadLetterPolicy:      cfg.DeadLetterPolicy,
		FlowControl:           cfg.FlowControl,
	}
	if cfg.MessageRetentionDuration > 0 {
		opts.MessageRetentionDuration = secondsToDuration(cfg.MessageRetentionDuration)
	}
	if err := c.broker.RegisterSubscription(full, cfg.Topic.fullName, opts); err != nil {
		return nil, err
	}
	return c.Subscription(id), nil
}

// Subscription returns a handle for id with default ReceiveSettings.
func (c *Client) Subscription(id string) *Subscription {
	return &Subscription{
		client:   c,
		id:       id,
		fullName: c.subscriptionFullName(id),
		settings: DefaultReceiveSettings(),
	}
}

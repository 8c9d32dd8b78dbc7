package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/donlair/pubsub/pkg/broker"
)

func TestInstrumentedTopicPublishResolves(t *testing.T) {
	b := broker.New(broker.BrokerConfig{})
	t.Cleanup(b.Close)

	c := NewInstrumentedClient(NewClient(b, "proj"))
	ctx := context.Background()

	_, err := c.CreateTopic(ctx, "traced")
	require.NoError(t, err)
	_, err = c.CreateSubscription(ctx, "traced-sub", SubscriptionConfig{Topic: c.Client.Topic("traced")})
	require.NoError(t, err)

	topic := c.Topic("traced")
	topic.SetPublishSettings(PublishSettings{CountThreshold: 1, DelayThreshold: time.Millisecond, MaxOutstandingPublishes: 10})

	result := topic.Publish(ctx, &Message{Data: []byte("x")})
	_, err = result.Get(ctx)
	require.NoError(t, err)
}

package pubsub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/donlair/pubsub/pkg/broker"
	"github.com/donlair/pubsub/pkg/pubsub"
	"github.com/donlair/pubsub/pkg/test"
)

// ClientSuite exercises the wrapper layer end to end against a real
// *broker.Broker, the way an integration suite would against a real
// dependency rather than a fake.
type ClientSuite struct {
	test.Suite
	broker *broker.Broker
	client *pubsub.Client
}

func (s *ClientSuite) SetupTest() {
	s.Suite.SetupTest()
	s.broker = broker.New(broker.BrokerConfig{})
	s.client = pubsub.NewClient(s.broker, "suite-project")
}

func (s *ClientSuite) TearDownTest() {
	s.broker.Close()
}

func (s *ClientSuite) TestOrderingKeyPreservesDeliveryOrder() {
	topic, err := s.client.CreateTopic(s.Ctx, "orders")
	s.Require().NoError(err)

	sub, err := s.client.CreateSubscription(s.Ctx, "orders-sub", pubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	s.Require().NoError(err)

	topic.SetPublishSettings(pubsub.PublishSettings{CountThreshold: 1, DelayThreshold: time.Millisecond, MaxOutstandingPublishes: 10})
	for _, payload := range []string{"1", "2", "3"} {
		_, err := topic.Publish(s.Ctx, &pubsub.Message{Data: []byte(payload), OrderingKey: "k"}).Get(s.Ctx)
		s.Require().NoError(err)
	}

	sub.SetReceiveSettings(pubsub.ReceiveSettings{
		MaxOutstandingMessages: 1, // a single ordering key can only have one message in flight anyway
		NumGoroutines:          1,
		PollInterval:           5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(s.Ctx, 2*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	err = sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
		mu.Lock()
		seen = append(seen, string(m.Data))
		mu.Unlock()
		m.Ack()
	})
	s.ErrorIs(err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"1", "2", "3"}, seen)
}

func TestClientSuite(t *testing.T) {
	test.Run(t, new(ClientSuite))
}

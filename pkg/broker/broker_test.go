package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker() (*Broker, *fakeScheduler) {
	sched := newFakeScheduler()
	b := NewWithScheduler(BrokerConfig{}, sched)
	return b, sched
}

// S1 — basic publish/pull/ack.
func TestPublishPullAck(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{}))

	ids, err := b.Publish("T", []PublishInput{{Data: []byte("hello")}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", string(msgs[0].Data))
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEmpty(t, msgs[0].AckID)
	assert.Equal(t, 1, msgs[0].DeliveryAttempt)

	require.NoError(t, b.Ack(msgs[0].AckID))

	again, err := b.Pull("S", 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// S2 — fan-out: two subscriptions on the same topic each see every message,
// in publish order, independently of each other's acks.
func TestFanOut(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("A", "T", SubscriptionOptions{}))
	require.NoError(t, b.RegisterSubscription("B", "T", SubscriptionOptions{}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("m1")}, {Data: []byte("m2")}})
	require.NoError(t, err)

	a, err := b.Pull("A", 10)
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, "m1", string(a[0].Data))
	assert.Equal(t, "m2", string(a[1].Data))

	bMsgs, err := b.Pull("B", 10)
	require.NoError(t, err)
	require.Len(t, bMsgs, 2)
	assert.Equal(t, a[0].ID, bMsgs[0].ID)
	assert.Equal(t, a[1].ID, bMsgs[1].ID)

	require.NoError(t, b.Ack(a[0].AckID))
	require.NoError(t, b.Ack(a[1].AckID))

	// B's copies are untouched by A's acks.
	bAgain, err := b.Pull("B", 10)
	require.NoError(t, err)
	assert.Empty(t, bAgain)
	require.NoError(t, b.Ack(bMsgs[0].AckID))
	require.NoError(t, b.Ack(bMsgs[1].AckID))
}

// S3 — nack without a configured retry policy redelivers after the default
// backoff window, with deliveryAttempt incremented.
func TestNackRedeliversAfterDefaultBackoff(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	first, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].DeliveryAttempt)
	require.NoError(t, b.Nack(first[0].AckID))

	// Immediately after nack, the message is sitting in backoff, not ready.
	empty, err := b.Pull("S", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	sched.Advance(defaultMinimumBackoff)

	second, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].DeliveryAttempt)
}

// S4 — ordering key blocks redelivery of later messages until the head is
// acked.
func TestOrderingBlocksKeyUntilAck(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{
		EnableMessageOrdering: true,
		AckDeadlineSeconds:    10,
	}))

	_, err := b.Publish("T", []PublishInput{
		{Data: []byte("1"), OrderingKey: "k"},
		{Data: []byte("2"), OrderingKey: "k"},
		{Data: []byte("3"), OrderingKey: "k"},
	})
	require.NoError(t, err)

	first, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "1", string(first[0].Data))

	require.NoError(t, b.Ack(first[0].AckID))

	second, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "2", string(second[0].Data))

	require.NoError(t, b.Ack(second[0].AckID))

	third, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "3", string(third[0].Data))
}

// S5 — dead-letter routing after maxDeliveryAttempts is exceeded.
func TestDeadLetterRouting(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	b.RegisterTopic("DLQ", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &DeadLetterPolicy{
			DeadLetterTopic:     "DLQ",
			MaxDeliveryAttempts: 2,
		},
	}))
	require.NoError(t, b.RegisterSubscription("D", "DLQ", SubscriptionOptions{}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("boom")}})
	require.NoError(t, err)

	first, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, b.Nack(first[0].AckID))

	// No retry policy is configured, so the first nack holds the message in
	// the default backoff before it is redelivered.
	sched.Advance(defaultMinimumBackoff)

	second, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NoError(t, b.Nack(second[0].AckID))

	dlq, err := b.Pull("D", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "boom", string(dlq[0].Data))
	assert.Equal(t, 1, dlq[0].DeliveryAttempt)

	origin, err := b.Pull("S", 10)
	require.NoError(t, err)
	assert.Empty(t, origin)
}

// S6 — flow control gates how many messages a Pull may lease at once.
func TestFlowControlGatesPull(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{
		FlowControl: &FlowControl{MaxMessages: 2},
	}))

	inputs := make([]PublishInput, 5)
	for i := range inputs {
		inputs[i] = PublishInput{Data: []byte("m")}
	}
	_, err := b.Publish("T", inputs)
	require.NoError(t, err)

	first, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, first, 2)

	none, err := b.Pull("S", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, b.Ack(first[0].AckID))

	one, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
}

// Invariant 1: inFlightCount and inFlightBytes track the inFlight map
// exactly at every quiescent point.
func TestInFlightAccountingInvariant(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("abc")}, {Data: []byte("defgh")}})
	require.NoError(t, err)

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	b.mu.Lock()
	sub := b.subscriptions["S"]
	assert.EqualValues(t, len(sub.queue.inFlight), sub.queue.inFlightCount)
	var wantBytes int64
	for _, ls := range sub.queue.inFlight {
		wantBytes += int64(ls.message.Length)
	}
	assert.Equal(t, wantBytes, sub.queue.inFlightBytes)
	b.mu.Unlock()

	require.NoError(t, b.Ack(msgs[0].AckID))

	b.mu.Lock()
	assert.EqualValues(t, len(sub.queue.inFlight), sub.queue.inFlightCount)
	b.mu.Unlock()
}

// Invariant 6: after a successful ack, the ackId never reappears in the
// lease index or in any future pull.
func TestAckIsTerminal(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	ackID := msgs[0].AckID

	require.NoError(t, b.Ack(ackID))

	err = b.Ack(ackID)
	assert.Error(t, err)

	b.mu.Lock()
	_, exists := b.leaseIndex[ackID]
	b.mu.Unlock()
	assert.False(t, exists)
}

// Expired leases (no ack/nack before the deadline) are redelivered with an
// incremented delivery attempt once the scheduler fires the expiry timer.
func TestLeaseExpiryRedelivers(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	first, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	sched.Advance(10 * time.Second)
	sched.Advance(defaultMinimumBackoff)

	second, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].DeliveryAttempt)
}

// modifyAckDeadline(0) behaves like nack.
func TestModifyAckDeadlineZeroActsLikeNack(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, b.ModifyAckDeadline(msgs[0].AckID, 0))

	// Acking the now-nacked id should fail just like a normal post-nack ack.
	err = b.Ack(msgs[0].AckID)
	assert.Error(t, err)
}

func TestModifyAckDeadlineRejectsOutOfRange(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))
	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)
	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)

	assert.Error(t, b.ModifyAckDeadline(msgs[0].AckID, -1))
	assert.Error(t, b.ModifyAckDeadline(msgs[0].AckID, 601))
}

func TestPublishUnknownTopicFails(t *testing.T) {
	b, _ := newTestBroker()
	_, err := b.Publish("nope", []PublishInput{{Data: []byte("x")}})
	assert.Error(t, err)
}

func TestPullUnknownSubscriptionFails(t *testing.T) {
	b, _ := newTestBroker()
	_, err := b.Pull("nope", 10)
	assert.Error(t, err)
}

func TestAckDeadlineRegistrationBounds(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})

	assert.Error(t, b.RegisterSubscription("bad-low", "T", SubscriptionOptions{AckDeadlineSeconds: 9}))
	assert.Error(t, b.RegisterSubscription("bad-high", "T", SubscriptionOptions{AckDeadlineSeconds: 601}))
	assert.NoError(t, b.RegisterSubscription("good-low", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))
	assert.NoError(t, b.RegisterSubscription("good-high", "T", SubscriptionOptions{AckDeadlineSeconds: 600}))
}

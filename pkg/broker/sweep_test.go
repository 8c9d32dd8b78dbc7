package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepReclaimsExpiredLease(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	ackID := msgs[0].AckID

	// Backdate the lease directly rather than advancing the fake clock, so
	// the per-lease ack-deadline timer (armed for 10s out) never fires and
	// reclaimExpiredLeasesLocked is exercised on its own rather than via
	// the normal nack-on-expiry path.
	b.mu.Lock()
	b.leaseIndex[ackID].createdAt = sched.Now().Add(-leaseExpiryAge - time.Second)
	b.sweepLocked()
	_, stillLeased := b.leaseIndex[ackID]
	sub := b.subscriptions["S"]
	assert.False(t, stillLeased)
	assert.EqualValues(t, 0, sub.queue.inFlightCount)
	assert.EqualValues(t, 0, sub.queue.queueSize)
	b.mu.Unlock()
}

func TestSweepExpiresRetainedMessagesPastRetention(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{
		MessageRetentionDuration: 600 * time.Second,
	}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("old")}})
	require.NoError(t, err)

	sched.Advance(601 * time.Second)

	b.mu.Lock()
	b.sweepLocked()
	sub := b.subscriptions["S"]
	assert.EqualValues(t, 0, sub.queue.queueSize)
	assert.EqualValues(t, 0, sub.queue.messages.Len())
	b.mu.Unlock()

	remaining, err := b.Pull("S", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSweepKeepsMessagesWithinRetention(t *testing.T) {
	b, sched := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{
		MessageRetentionDuration: 600 * time.Second,
	}))

	_, err := b.Publish("T", []PublishInput{{Data: []byte("fresh")}})
	require.NoError(t, err)

	sched.Advance(100 * time.Second)

	b.mu.Lock()
	b.sweepLocked()
	b.mu.Unlock()

	remaining, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", string(remaining[0].Data))
}

func TestUnregisterSubscriptionCancelsLeaseTimers(t *testing.T) {
	b, _ := newTestBroker()
	b.RegisterTopic("T", TopicMetadata{})
	require.NoError(t, b.RegisterSubscription("S", "T", SubscriptionOptions{AckDeadlineSeconds: 10}))
	_, err := b.Publish("T", []PublishInput{{Data: []byte("x")}})
	require.NoError(t, err)

	msgs, err := b.Pull("S", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	b.mu.Lock()
	ls := b.leaseIndex[msgs[0].AckID]
	b.mu.Unlock()
	require.NotNil(t, ls)

	b.UnregisterSubscription("S")

	b.mu.Lock()
	_, exists := b.leaseIndex[msgs[0].AckID]
	b.mu.Unlock()
	assert.False(t, exists)
	// The timer was already cancelled by UnregisterSubscription, so a second
	// cancel reports false.
	assert.False(t, ls.cancelTimer())
}

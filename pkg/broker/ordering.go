package broker

import (
	"time"

	"github.com/donlair/pubsub/pkg/datastructures/deque"
	"github.com/donlair/pubsub/pkg/datastructures/set"
)

// backoffEntry is a message awaiting retry redelivery, indexed by message
// id in a subscription's backoffQueue.
type backoffEntry struct {
	message     *storedMessage
	availableAt time.Time
}

// subscriptionQueue holds everything a subscription needs to route,
// deliver, and account for its own copy of every message it receives. One
// instance exists per registered subscription for as long as it survives.
type subscriptionQueue struct {
	messages            *deque.Deque[*storedMessage]
	orderingQueues       map[string]*deque.Deque[*storedMessage]
	blockedOrderingKeys  *set.Set[string]
	inFlight            map[string]*lease
	backoffQueue        map[string]*backoffEntry

	inFlightCount int64
	inFlightBytes int64
	queueSize     int64
	queueBytes    int64

	maxMessages int64
	maxBytes    int64
}

func newSubscriptionQueue(opts SubscriptionOptions) *subscriptionQueue {
	q := &subscriptionQueue{
		messages:     deque.New[*storedMessage](16),
		inFlight:     make(map[string]*lease),
		backoffQueue: make(map[string]*backoffEntry),
		maxMessages:  opts.QueueMaxMessages,
		maxBytes:     opts.QueueMaxBytes,
	}
	if opts.EnableMessageOrdering {
		q.enableOrdering()
	}
	return q
}

func (q *subscriptionQueue) enableOrdering() {
	if q.orderingQueues == nil {
		q.orderingQueues = make(map[string]*deque.Deque[*storedMessage])
		q.blockedOrderingKeys = set.New[string]()
	}
}

func (q *subscriptionQueue) ordered() bool {
	return q.orderingQueues != nil
}

// enqueue appends msg to the appropriate sub-queue (ordering-key queue if
// ordering is enabled and msg carries a non-empty key, main queue
// otherwise) and updates queue accounting. The capacity check happens
// before this is called.
func (q *subscriptionQueue) enqueue(msg *storedMessage) {
	if q.ordered() && msg.OrderingKey != "" {
		dq, ok := q.orderingQueues[msg.OrderingKey]
		if !ok {
			dq = deque.New[*storedMessage](4)
			q.orderingQueues[msg.OrderingKey] = dq
		}
		dq.PushBack(msg)
	} else {
		q.messages.PushBack(msg)
	}
	q.queueSize++
	q.queueBytes += int64(msg.Length)
}

// wouldExceedCapacity reports whether adding one more message of the given
// length would push the queue past its configured ceiling.
func (q *subscriptionQueue) wouldExceedCapacity(length int) bool {
	if q.maxMessages > 0 && q.queueSize+1 > q.maxMessages {
		return true
	}
	if q.maxBytes > 0 && q.queueBytes+int64(length) > q.maxBytes {
		return true
	}
	return false
}

// reinsertFront puts msg back at the head of its appropriate sub-queue
// (ordering-key queue or main queue) without touching queueSize/queueBytes
// accounting — the message never left this subscription's queue from an
// accounting point of view, only its position changed. Used both for
// plain nack-without-backoff redelivery and for backoff-promoted messages
// becoming ready again, so original publish order is preserved either way.
func (q *subscriptionQueue) reinsertFront(msg *storedMessage) {
	if q.ordered() && msg.OrderingKey != "" {
		dq, ok := q.orderingQueues[msg.OrderingKey]
		if !ok {
			dq = deque.New[*storedMessage](4)
			q.orderingQueues[msg.OrderingKey] = dq
		}
		dq.PushFront(msg)
		return
	}
	q.messages.PushFront(msg)
}

// blockKey marks an ordering key as currently held by an in-flight lease.
func (q *subscriptionQueue) blockKey(key string) {
	if q.ordered() && key != "" {
		q.blockedOrderingKeys.Add(key)
	}
}

// releaseKey unblocks an ordering key so the next pull can deliver its next
// queued message.
func (q *subscriptionQueue) releaseKey(key string) {
	if q.ordered() && key != "" {
		q.blockedOrderingKeys.Remove(key)
	}
}

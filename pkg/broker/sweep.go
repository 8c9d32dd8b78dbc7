package broker

import (
	"time"

	"github.com/donlair/pubsub/pkg/datastructures/deque"
)

// sweepLocked runs the three cleanup phases against the current broker
// state. Called with the broker lock held, either from the scheduler's
// periodic callback or directly by tests. Each phase iterates its input
// once; none are quadratic in queue size.
func (b *Broker) sweepLocked() {
	b.reclaimExpiredLeasesLocked()
	b.reclaimOrphanedLeasesLocked()
	b.expireRetentionLocked()
}

// reclaimExpiredLeasesLocked forcibly removes any lease older than
// leaseExpiryAge, on the assumption the client that held it has gone away.
// This is a safety net; the normal path is the per-lease deadline timer.
func (b *Broker) reclaimExpiredLeasesLocked() {
	now := b.scheduler.Now()
	for ackID, ls := range b.leaseIndex {
		if now.Sub(ls.createdAt) <= leaseExpiryAge {
			continue
		}
		ls.cancelTimer()
		delete(b.leaseIndex, ackID)
		if sub, ok := b.subscriptions[ls.subscription]; ok {
			delete(sub.queue.inFlight, ackID)
			sub.queue.inFlightCount--
			sub.queue.inFlightBytes -= int64(ls.message.Length)
			sub.queue.queueSize--
			sub.queue.queueBytes -= int64(ls.message.Length)
			sub.queue.releaseKey(ls.message.OrderingKey)
		}
	}
}

// reclaimOrphanedLeasesLocked repairs the invariant that every ackId in
// the broker-wide index also lives in its subscription's inFlight map.
func (b *Broker) reclaimOrphanedLeasesLocked() {
	for ackID, ls := range b.leaseIndex {
		sub, ok := b.subscriptions[ls.subscription]
		if !ok {
			delete(b.leaseIndex, ackID)
			continue
		}
		if _, ok := sub.queue.inFlight[ackID]; !ok {
			delete(b.leaseIndex, ackID)
		}
	}
}

// expireRetentionLocked drops messages older than each subscription's
// message-retention duration from messages, orderingQueues, and
// backoffQueue, then recomputes queueSize/queueBytes from the survivors —
// an authoritative recount that avoids drift from the incremental
// accounting done elsewhere. In-flight leases are never touched here.
func (b *Broker) expireRetentionLocked() {
	now := b.scheduler.Now()
	for _, sub := range b.subscriptions {
		cutoff := now.Add(-sub.opts.MessageRetentionDuration)
		q := sub.queue

		var size, bytes int64

		newMessages, c, by := filterDeque(q.messages, cutoff)
		q.messages = newMessages
		size += c
		bytes += by

		for key, dq := range q.orderingQueues {
			newDq, c, by := filterDeque(dq, cutoff)
			q.orderingQueues[key] = newDq
			size += c
			bytes += by
		}

		for id, entry := range q.backoffQueue {
			if entry.message.PublishTime.Before(cutoff) {
				delete(q.backoffQueue, id)
				continue
			}
			size++
			bytes += int64(entry.message.Length)
		}

		size += q.inFlightCount
		bytes += q.inFlightBytes

		q.queueSize = size
		q.queueBytes = bytes
	}
}

// filterDeque rebuilds dq keeping only messages published at or after
// cutoff, returning the new deque along with the surviving count and total
// byte length so the caller can fold them into a recount without a second
// pass.
func filterDeque(dq *deque.Deque[*storedMessage], cutoff time.Time) (*deque.Deque[*storedMessage], int64, int64) {
	out := deque.New[*storedMessage](4)
	var count, bytes int64
	for {
		msg, ok := dq.PopFront()
		if !ok {
			break
		}
		if msg.PublishTime.Before(cutoff) {
			continue
		}
		out.PushBack(msg)
		count++
		bytes += int64(msg.Length)
	}
	return out, count, bytes
}

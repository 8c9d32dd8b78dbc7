package broker

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// leaseLocked mints a fresh ack id for msg, records the lease in both the
// subscription's inFlight map and the broker-wide lease index, arms its
// deadline timer, and returns the consumer-facing Message.
func (b *Broker) leaseLocked(subName string, sub *subscriptionState, msg *storedMessage) *Message {
	ackID := msg.ID + "-" + strconv.Itoa(msg.DeliveryAttempt) + "-" + uuid.New().String()
	deadlineSeconds := time.Duration(sub.opts.AckDeadlineSeconds) * time.Second
	now := b.scheduler.Now()

	ls := &lease{
		message:      msg,
		ackID:        ackID,
		subscription: subName,
		createdAt:    now,
		deadline:     now.Add(deadlineSeconds),
	}
	ls.cancelTimer = b.scheduler.AfterFunc(deadlineSeconds, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.nackLocked(ackID) //nolint:errcheck // expiry races a concurrent ack; losing is expected
	})

	sub.queue.inFlight[ackID] = ls
	b.leaseIndex[ackID] = ls
	sub.queue.inFlightCount++
	sub.queue.inFlightBytes += int64(msg.Length)
	sub.queue.blockKey(msg.OrderingKey)

	return &Message{
		ID:              msg.ID,
		AckID:           ackID,
		Data:            msg.Data,
		Attributes:      msg.Attributes,
		PublishTime:     msg.PublishTime,
		OrderingKey:     msg.OrderingKey,
		DeliveryAttempt: msg.DeliveryAttempt,
		Length:          msg.Length,
	}
}

// Ack removes the lease for ackID, releasing its ordering-key block (if
// any) and decrementing every counter the lease contributed to. The
// message is then gone from the subscription.
func (b *Broker) Ack(ackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ackLocked(ackID)
}

func (b *Broker) ackLocked(ackID string) error {
	ls, ok := b.leaseIndex[ackID]
	if !ok {
		return errInvalidArgument("unknown ack id")
	}
	sub, ok := b.subscriptions[ls.subscription]
	if !ok {
		delete(b.leaseIndex, ackID)
		return errFailedPrecondition("subscription no longer exists")
	}

	ls.cancelTimer()
	delete(sub.queue.inFlight, ackID)
	delete(b.leaseIndex, ackID)
	sub.queue.inFlightCount--
	sub.queue.inFlightBytes -= int64(ls.message.Length)
	sub.queue.queueSize--
	sub.queue.queueBytes -= int64(ls.message.Length)
	sub.queue.releaseKey(ls.message.OrderingKey)
	return nil
}

// Nack increments the message's delivery attempt and, depending on the
// subscription's dead-letter and retry policies, either routes it to the
// dead-letter topic, schedules it for backoff redelivery, or reinserts it
// at the head of its queue for immediate redelivery.
func (b *Broker) Nack(ackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nackLocked(ackID)
}

func (b *Broker) nackLocked(ackID string) error {
	ls, ok := b.leaseIndex[ackID]
	if !ok {
		return errInvalidArgument("unknown ack id")
	}
	sub, ok := b.subscriptions[ls.subscription]
	if !ok {
		delete(b.leaseIndex, ackID)
		return errFailedPrecondition("subscription no longer exists")
	}

	ls.cancelTimer()
	delete(sub.queue.inFlight, ackID)
	delete(b.leaseIndex, ackID)
	sub.queue.inFlightCount--
	sub.queue.inFlightBytes -= int64(ls.message.Length)

	failedAttempt := ls.message.DeliveryAttempt
	next := ls.message.copyWithAttempt(failedAttempt + 1)

	dlp := sub.opts.DeadLetterPolicy
	if dlp != nil && next.DeliveryAttempt > dlp.MaxDeliveryAttempts {
		sub.queue.releaseKey(ls.message.OrderingKey)
		sub.queue.queueSize--
		sub.queue.queueBytes -= int64(ls.message.Length)
		dead := next.copyWithAttempt(1)
		dead.ID = uuid.New().String()
		b.routeToDLQLocked(dlp.DeadLetterTopic, dead)
		return nil
	}

	backoff := backoffForAttempt(sub.opts.RetryPolicy, failedAttempt)
	if backoff > 0 {
		sub.queue.releaseKey(ls.message.OrderingKey)
		sub.queue.backoffQueue[next.ID] = &backoffEntry{
			message:     next,
			availableAt: b.scheduler.Now().Add(backoff),
		}
		return nil
	}

	sub.queue.releaseKey(ls.message.OrderingKey)
	sub.queue.reinsertFront(next)
	return nil
}

// ModifyAckDeadline re-arms ackID's deadline timer seconds from now.
// seconds must be in [0, 600]; 0 is equivalent to an immediate Nack.
func (b *Broker) ModifyAckDeadline(ackID string, seconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seconds < 0 || seconds > maxAckDeadlineSeconds {
		return errInvalidArgument("seconds must be in [0, 600]")
	}
	ls, ok := b.leaseIndex[ackID]
	if !ok {
		return errInvalidArgument("unknown ack id")
	}
	if _, ok := b.subscriptions[ls.subscription]; !ok {
		delete(b.leaseIndex, ackID)
		return errFailedPrecondition("subscription no longer exists")
	}

	if seconds == 0 {
		return b.nackLocked(ackID)
	}

	ls.cancelTimer()
	ls.deadline = b.scheduler.Now().Add(time.Duration(seconds) * time.Second)
	ls.extensionCount++
	ls.cancelTimer = b.scheduler.AfterFunc(time.Duration(seconds)*time.Second, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.nackLocked(ackID) //nolint:errcheck // expiry races a concurrent ack; losing is expected
	})
	return nil
}

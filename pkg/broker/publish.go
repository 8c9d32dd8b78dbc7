package broker

import (
	"github.com/google/uuid"

	"github.com/donlair/pubsub/pkg/logger"
)

// Publish validates every input message, assigns it an id, and fans it out
// to every subscription currently bound to topicName. Validation failures
// abort the whole call before any subscription sees any message from it.
// Publishing to a topic with no subscriptions still returns generated ids.
func (b *Broker) Publish(topicName string, inputs []PublishInput) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topicName]; !ok {
		return nil, errNotFound("topic", topicName)
	}

	for _, in := range inputs {
		if err := validatePublishInput(in); err != nil {
			return nil, err
		}
	}

	now := b.scheduler.Now()
	ids := make([]string, len(inputs))
	msgs := make([]*storedMessage, len(inputs))
	for i, in := range inputs {
		id := uuid.New().String()
		ids[i] = id
		msgs[i] = &storedMessage{
			ID:              id,
			Data:            in.Data,
			Attributes:      in.Attributes,
			PublishTime:     now,
			OrderingKey:     in.OrderingKey,
			DeliveryAttempt: 1,
			Length:          in.length(),
		}
	}

	b.fanOutLocked(topicName, msgs)
	return ids, nil
}

// fanOutLocked copies msgs into every subscription currently bound to
// topicName. Called with the broker lock already held, both from Publish
// and from the dead-letter redelivery path in retry.go. Capacity is checked
// per message: a copy that would push a subscription's queue past its
// ceiling is skipped for that subscription only, so a subscription near its
// ceiling can receive part of a batch; other subscriptions are unaffected.
func (b *Broker) fanOutLocked(topicName string, msgs []*storedMessage) {
	t, ok := b.topics[topicName]
	if !ok {
		return
	}
	for _, subName := range t.subscriptions.List() {
		sub, ok := b.subscriptions[subName]
		if !ok {
			continue
		}
		for _, msg := range msgs {
			if sub.queue.wouldExceedCapacity(msg.Length) {
				logger.L().Warn("dropping message copy: destination queue at capacity",
					"subscription", subName, "message_id", msg.ID)
				continue
			}
			sub.queue.enqueue(msg)
		}
	}
}

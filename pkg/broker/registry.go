package broker

import "github.com/donlair/pubsub/pkg/datastructures/set"

// RegisterTopic creates a topic or, if it already exists, updates its
// metadata in place. Subscriptions bound to the topic are unaffected.
func (b *Broker) RegisterTopic(name string, meta TopicMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		t.meta = meta
		return
	}
	b.topics[name] = &topicState{
		name:          name,
		meta:          meta,
		subscriptions: set.New[string](),
	}
}

// UnregisterTopic removes a topic. Subscriptions keep their topic-name
// binding as a plain string but receive no further messages; their queued
// messages and timers are untouched by this call.
func (b *Broker) UnregisterTopic(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, name)
}

// TopicExists reports whether name is currently registered.
func (b *Broker) TopicExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[name]
	return ok
}

// GetTopic returns the metadata for a registered topic.
func (b *Broker) GetTopic(name string) (TopicMetadata, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return TopicMetadata{}, false
	}
	return t.meta, true
}

// ListTopics returns every registered topic name, in no particular order.
func (b *Broker) ListTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.topics))
	for name := range b.topics {
		out = append(out, name)
	}
	return out
}

// RegisterSubscription binds subName to topicName, creating its queue and
// (when opts.EnableMessageOrdering is set) its ordering structures.
// Re-registering an existing subscription name updates its options but
// preserves the queue and everything in it.
func (b *Broker) RegisterSubscription(subName, topicName string, opts SubscriptionOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts.applyDefaults()
	if opts.AckDeadlineSeconds < minAckDeadlineSeconds || opts.AckDeadlineSeconds > maxAckDeadlineSeconds {
		return errInvalidArgument("ackDeadlineSeconds must be in [10, 600]")
	}
	if opts.MessageRetentionDuration < minMessageRetention || opts.MessageRetentionDuration > maxMessageRetention {
		return errInvalidArgument("messageRetentionDuration must be in [600s, 604800s]")
	}

	if existing, ok := b.subscriptions[subName]; ok {
		existing.topic = topicName
		existing.opts = opts
		if opts.EnableMessageOrdering && existing.queue.orderingQueues == nil {
			existing.queue.enableOrdering()
		}
		if t, ok := b.topics[topicName]; ok {
			t.subscriptions.Add(subName)
		}
		return nil
	}

	q := newSubscriptionQueue(opts)
	b.subscriptions[subName] = &subscriptionState{
		name:  subName,
		topic: topicName,
		opts:  opts,
		queue: q,
	}
	if t, ok := b.topics[topicName]; ok {
		t.subscriptions.Add(subName)
	}
	return nil
}

// UnregisterSubscription cancels every timer owned by the subscription's
// leases and drops its queue entirely.
func (b *Broker) UnregisterSubscription(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[name]
	if !ok {
		return
	}
	for ackID, ls := range sub.queue.inFlight {
		ls.cancelTimer()
		delete(b.leaseIndex, ackID)
	}
	if t, ok := b.topics[sub.topic]; ok {
		t.subscriptions.Remove(name)
	}
	delete(b.subscriptions, name)
}

// SubscriptionExists reports whether name is currently registered.
func (b *Broker) SubscriptionExists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subscriptions[name]
	return ok
}

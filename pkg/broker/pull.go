package broker

// Pull leases up to maxMessages from subName: ready backoff entries are
// promoted first, then the main FIFO queue is drained, then — if ordering
// is enabled and the result is still short — one head-of-queue message per
// unblocked ordering key.
func (b *Broker) Pull(subName string, maxMessages int) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[subName]
	if !ok {
		return nil, errNotFound("subscription", subName)
	}
	if maxMessages <= 0 {
		return nil, nil
	}

	fc := sub.opts.FlowControl
	if !admitCoarse(fc, sub.queue) {
		return nil, nil
	}

	b.promoteBackoffLocked(sub)

	result := make([]*Message, 0, maxMessages)

	for len(result) < maxMessages {
		msg, ok := sub.queue.messages.PopFront()
		if !ok {
			break
		}
		if !admitIncremental(fc, sub.queue, msg.Length) {
			sub.queue.messages.PushFront(msg)
			break
		}
		result = append(result, b.leaseLocked(subName, sub, msg))
	}

	if len(result) < maxMessages && sub.queue.ordered() {
		for key, dq := range sub.queue.orderingQueues {
			if len(result) >= maxMessages {
				break
			}
			if dq.Len() == 0 || sub.queue.blockedOrderingKeys.Contains(key) {
				continue
			}
			msg, ok := dq.PopFront()
			if !ok {
				continue
			}
			if !admitIncremental(fc, sub.queue, msg.Length) {
				dq.PushFront(msg)
				continue
			}
			result = append(result, b.leaseLocked(subName, sub, msg))
		}
	}

	return result, nil
}

// promoteBackoffLocked moves every backoff entry whose available-at has
// passed back to the front of its appropriate queue, preserving
// oldest-first delivery order.
func (b *Broker) promoteBackoffLocked(sub *subscriptionState) {
	now := b.scheduler.Now()
	for id, entry := range sub.queue.backoffQueue {
		if !entry.availableAt.After(now) {
			delete(sub.queue.backoffQueue, id)
			sub.queue.reinsertFront(entry.message)
		}
	}
}

package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/donlair/pubsub/pkg/broker"
	"github.com/donlair/pubsub/pkg/concurrency"
)

// PublishSettings controls how Topic.Publish coalesces individual publish
// calls into batches before handing them to the core's Publish entry
// point, and how many publish requests may be outstanding (submitted but
// not yet flushed and resolved) at once.
type PublishSettings struct {
	DelayThreshold          time.Duration
	CountThreshold          int
	MaxOutstandingPublishes int64
}

// DefaultPublishSettings mirrors the defaults a cloud pub/sub client ships
// with: small batches, flushed quickly.
func DefaultPublishSettings() PublishSettings {
	return PublishSettings{
		DelayThreshold:          10 * time.Millisecond,
		CountThreshold:          100,
		MaxOutstandingPublishes: 1000,
	}
}

func newOutstandingSemaphore(limit int64) *concurrency.Semaphore {
	if limit <= 0 {
		limit = 1
	}
	return concurrency.NewSemaphore(limit)
}

// PublishResult resolves to the broker-assigned message id once a batch
// containing this publish has been flushed, or to the error the flush
// produced.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

type publishResult struct {
	done chan struct{}
	id   string
	err  error
}

func (r *publishResult) Get(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return r.id, r.err
	}
}

type pendingPublish struct {
	input  broker.PublishInput
	result *publishResult
}

// Topic is a publish handle bound to one topic name. Publish calls
// coalesce into batches flushed either when CountThreshold is reached or
// DelayThreshold elapses since the first unflushed call, the way a
// batching publisher sits in front of a driver's publish entry point.
type Topic struct {
	client   *Client
	id       string
	fullName string
	settings PublishSettings

	sem *concurrency.Semaphore

	mu      sync.Mutex
	pending []*pendingPublish
	timer   *time.Timer
}

// PublishSettings returns the current batching configuration.
func (t *Topic) PublishSettings() PublishSettings { return t.settings }

// SetPublishSettings replaces the batching configuration for future
// publishes. Not safe to call concurrently with Publish.
func (t *Topic) SetPublishSettings(s PublishSettings) {
	t.settings = s
	t.sem = newOutstandingSemaphore(s.MaxOutstandingPublishes)
}

// Publish enqueues msg into the current batch, flow-controlled by a
// semaphore of outstanding (submitted but not yet flushed) publish calls,
// and returns a PublishResult that resolves once the batch is flushed.
func (t *Topic) Publish(ctx context.Context, msg *Message) PublishResult {
	return t.publish(ctx, msg)
}

func (t *Topic) publish(ctx context.Context, msg *Message) *publishResult {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		r := &publishResult{done: make(chan struct{}), err: err}
		close(r.done)
		return r
	}

	r := &publishResult{done: make(chan struct{})}
	pp := &pendingPublish{
		input: broker.PublishInput{
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			OrderingKey: msg.OrderingKey,
		},
		result: r,
	}

	t.mu.Lock()
	t.pending = append(t.pending, pp)
	count := len(t.pending)
	if t.timer == nil {
		t.timer = time.AfterFunc(t.settings.DelayThreshold, t.flush)
	}
	flushNow := t.settings.CountThreshold > 0 && count >= t.settings.CountThreshold
	t.mu.Unlock()

	if flushNow {
		t.flush()
	}
	return r
}

// Flush immediately sends every currently-pending publish in this Topic's
// batch, without waiting for DelayThreshold or CountThreshold.
func (t *Topic) Flush() { t.flush() }

func (t *Topic) flush() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	inputs := make([]broker.PublishInput, len(batch))
	for i, p := range batch {
		inputs[i] = p.input
	}

	ids, err := t.client.broker.Publish(t.fullName, inputs)
	for i, p := range batch {
		if err != nil {
			p.result.err = err
		} else {
			p.result.id = ids[i]
		}
		close(p.result.done)
		t.sem.Release(1)
	}
}

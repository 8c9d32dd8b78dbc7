package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/donlair/pubsub/pkg/concurrency"
)

// ReceiveSettings bounds Subscription.Receive's poll loop and dispatch
// pool. OnError, when set, receives both poll errors and recovered
// handler panics instead of tearing down the subscription.
type ReceiveSettings struct {
	MaxOutstandingMessages int
	NumGoroutines          int
	PollInterval           time.Duration
	OnError                func(error)
}

// DefaultReceiveSettings mirrors typical cloud client defaults: a modest
// number of dispatch goroutines and a short poll interval.
func DefaultReceiveSettings() ReceiveSettings {
	return ReceiveSettings{
		MaxOutstandingMessages: 1000,
		NumGoroutines:          8,
		PollInterval:           50 * time.Millisecond,
	}
}

// Subscription is a receive handle bound to one subscription name.
type Subscription struct {
	client   *Client
	id       string
	fullName string
	settings ReceiveSettings
}

// ReceiveSettings returns the current poll/dispatch configuration.
func (s *Subscription) ReceiveSettings() ReceiveSettings { return s.settings }

// SetReceiveSettings replaces the poll/dispatch configuration for future
// Receive calls. Not safe to call concurrently with Receive.
func (s *Subscription) SetReceiveSettings(settings ReceiveSettings) { s.settings = settings }

// Receive polls the core for messages and dispatches each to handler on a
// WorkerPool-managed goroutine, until ctx is cancelled. The core only
// offers Pull; turning that into a continuous stream is this method's job.
// Handler panics and pull errors are reported through ReceiveSettings.OnError
// rather than stopping the loop.
func (s *Subscription) Receive(ctx context.Context, handler func(context.Context, *Message)) error {
	settings := s.settings
	if settings.NumGoroutines <= 0 {
		settings.NumGoroutines = 1
	}
	if settings.MaxOutstandingMessages <= 0 {
		settings.MaxOutstandingMessages = 1
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 50 * time.Millisecond
	}

	pool := concurrency.NewWorkerPool(settings.NumGoroutines, settings.MaxOutstandingMessages)
	pool.Start(ctx)
	defer pool.Stop()

	ticker := time.NewTicker(settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx, settings, pool, handler)
		}
	}
}

func (s *Subscription) pollOnce(ctx context.Context, settings ReceiveSettings, pool *concurrency.WorkerPool, handler func(context.Context, *Message)) {
	msgs, err := s.client.broker.Pull(s.fullName, settings.MaxOutstandingMessages)
	if err != nil {
		if settings.OnError != nil {
			settings.OnError(err)
		}
		return
	}

	for _, bm := range msgs {
		bm := bm
		ackID := bm.AckID
		m := NewMessage(MessageInit{
			ID:              bm.ID,
			Data:            bm.Data,
			Attributes:      bm.Attributes,
			PublishTime:     bm.PublishTime,
			OrderingKey:     bm.OrderingKey,
			DeliveryAttempt: bm.DeliveryAttempt,
			AckID:           ackID,
			AckFunc:         func() { _ = s.client.broker.Ack(ackID) },
			NackFunc:        func() { _ = s.client.broker.Nack(ackID) },
			ModifyFunc:      func(seconds int) error { return s.client.broker.ModifyAckDeadline(ackID, seconds) },
		})

		pool.Submit(func(taskCtx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					if settings.OnError != nil {
						settings.OnError(fmt.Errorf("pubsub: handler panic: %v", r))
					}
				}
			}()
			handler(taskCtx, m)
		})
	}
}

package pubsub

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Message is the consumer-facing handle delivered to a Receive callback.
// The idempotent ack/nack contract (§9 "once-only ack") is modelled as a
// single atomic.Bool CAS flag: the first of Ack/Nack/ModifyAckDeadline(0)
// wins, every later call on the same Message is a silent no-op, swallowing
// whatever stale-ackID error the backend would otherwise return.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	OrderingKey     string
	DeliveryAttempt int
	AckID           string

	decided  atomic.Bool
	ackFn    func()
	nackFn   func()
	modifyFn func(seconds int) error
}

// MessageInit carries the fields and backend callbacks NewMessage wires
// into a Message. Alternative backends (pkg/pubsub/gcpadapter) use this to
// produce Messages with the same Ack/Nack/ModifyAckDeadline contract a
// broker-backed Subscription produces.
type MessageInit struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	OrderingKey     string
	DeliveryAttempt int
	AckID           string
	AckFunc         func()
	NackFunc        func()
	ModifyFunc      func(seconds int) error
}

// NewMessage constructs a Message from init. Most callers never need this
// directly — Subscription.Receive builds Messages internally — but it is
// exported so other Publisher/Puller implementations can produce Messages
// with identical semantics.
func NewMessage(init MessageInit) *Message {
	return &Message{
		ID:              init.ID,
		Data:            init.Data,
		Attributes:      init.Attributes,
		PublishTime:     init.PublishTime,
		OrderingKey:     init.OrderingKey,
		DeliveryAttempt: init.DeliveryAttempt,
		AckID:           init.AckID,
		ackFn:           init.AckFunc,
		nackFn:          init.NackFunc,
		modifyFn:        init.ModifyFunc,
	}
}

// Ack acknowledges the message. Only the first call across
// Ack/Nack/ModifyAckDeadline(0) has any effect.
func (m *Message) Ack() {
	if m.decided.CompareAndSwap(false, true) && m.ackFn != nil {
		m.ackFn()
	}
}

// Nack signals delivery failure. Only the first call across
// Ack/Nack/ModifyAckDeadline(0) has any effect.
func (m *Message) Nack() {
	if m.decided.CompareAndSwap(false, true) && m.nackFn != nil {
		m.nackFn()
	}
}

// ModifyAckDeadline extends or shortens the lease deadline. seconds must be
// in [0, 600]; 0 is equivalent to Nack and, like Nack, only has effect on
// the first decisive call for this Message.
func (m *Message) ModifyAckDeadline(seconds int) error {
	if seconds < 0 || seconds > 600 {
		return fmt.Errorf("pubsub: seconds must be in [0, 600], got %d", seconds)
	}
	if seconds == 0 {
		m.Nack()
		return nil
	}
	if m.decided.Load() {
		// Already ack'd or nack'd; extending a deadline that no longer
		// applies is a silent no-op, matching the idempotent contract.
		return nil
	}
	if m.modifyFn == nil {
		return fmt.Errorf("pubsub: ModifyAckDeadline not supported by this backend")
	}
	return m.modifyFn(seconds)
}

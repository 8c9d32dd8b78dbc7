package broker

import "time"

// storedMessage is the broker's internal representation of one message
// copy sitting in a subscription's queue, in-flight set, or backoff queue.
type storedMessage struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	OrderingKey     string
	DeliveryAttempt int
	Length          int
}

func (m *storedMessage) copyWithAttempt(attempt int) *storedMessage {
	return &storedMessage{
		ID:              m.ID,
		Data:            m.Data,
		Attributes:      m.Attributes,
		PublishTime:     m.PublishTime,
		OrderingKey:     m.OrderingKey,
		DeliveryAttempt: attempt,
		Length:          m.Length,
	}
}

// Message is the leased, consumer-facing view of one delivery attempt,
// returned by Pull. It carries a fresh AckID that becomes invalid on Ack,
// Nack, or deadline expiry.
type Message struct {
	ID              string
	AckID           string
	Data            []byte
	Attributes      map[string]string
	PublishTime     time.Time
	OrderingKey     string
	DeliveryAttempt int
	Length          int
}

// Lease is the broker-side record of one outstanding delivery: a message
// reference plus the bookkeeping needed to ack, nack, or expire it.
type lease struct {
	message        *storedMessage
	ackID          string
	subscription   string
	createdAt      time.Time
	deadline       time.Time
	extensionCount int
	cancelTimer    CancelFunc
}

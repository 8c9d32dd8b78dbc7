package broker

import (
	"time"

	"github.com/donlair/pubsub/pkg/logger"
)

const (
	defaultMinimumBackoff = 10 * time.Second
	defaultMaximumBackoff = 600 * time.Second
	maxBackoffShift        = 40 // guards against overflow for pathologically high attempt counts
)

// backoffForAttempt computes how long to hold a message in the backoff
// queue after the given (pre-increment) delivery attempt failed. Absent a
// configured retry policy, the broker applies the default 10s-600s range
// rather than redelivering immediately — the chosen resolution of the
// "no retry policy configured" open question.
func backoffForAttempt(rp *RetryPolicy, attempt int) time.Duration {
	minBackoff, maxBackoff := defaultMinimumBackoff, defaultMaximumBackoff
	if rp != nil {
		if rp.MinimumBackoff > 0 {
			minBackoff = rp.MinimumBackoff
		}
		if rp.MaximumBackoff > 0 {
			maxBackoff = rp.MaximumBackoff
		}
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		return maxBackoff
	}
	backoff := minBackoff * time.Duration(int64(1)<<uint(shift))
	if backoff > maxBackoff || backoff < 0 {
		return maxBackoff
	}
	return backoff
}

// routeToDLQLocked publishes msg (already stripped to a fresh id and
// deliveryAttempt=1 by the caller) to every subscription of dlqTopic using
// the standard fan-out rules. If dlqTopic no longer exists the message is
// dropped with a warning rather than returned to the origin subscription.
func (b *Broker) routeToDLQLocked(dlqTopic string, msg *storedMessage) {
	if _, ok := b.topics[dlqTopic]; !ok {
		logger.L().Warn("dead-letter topic missing at publish time, dropping message",
			"dead_letter_topic", dlqTopic, "message_id", msg.ID)
		return
	}
	b.fanOutLocked(dlqTopic, []*storedMessage{msg})
}

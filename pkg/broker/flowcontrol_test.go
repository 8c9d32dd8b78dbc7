package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmitIncrementalAllowsOneOversizedMessageWhenIdle(t *testing.T) {
	fc := &FlowControl{MaxBytes: 10, AllowExcessMessages: true}
	q := &subscriptionQueue{}

	// Nothing in flight: a single message larger than MaxBytes is let through.
	assert.True(t, admitIncremental(fc, q, 100))

	q.inFlightCount = 1
	q.inFlightBytes = 5
	// Something already in flight: the exception no longer applies.
	assert.False(t, admitIncremental(fc, q, 100))
}

func TestAdmitIncrementalWithoutExceptionRejectsOversized(t *testing.T) {
	fc := &FlowControl{MaxBytes: 10}
	q := &subscriptionQueue{}
	assert.False(t, admitIncremental(fc, q, 100))
}

func TestAdmitCoarseNilFlowControlAlwaysAdmits(t *testing.T) {
	q := &subscriptionQueue{inFlightCount: 1000, inFlightBytes: 1 << 30}
	assert.True(t, admitCoarse(nil, q))
	assert.True(t, admitIncremental(nil, q, 1<<20))
}

func TestAdmitCoarseRespectsMaxMessages(t *testing.T) {
	fc := &FlowControl{MaxMessages: 2}
	q := &subscriptionQueue{inFlightCount: 2}
	assert.False(t, admitCoarse(fc, q))

	q.inFlightCount = 1
	assert.True(t, admitCoarse(fc, q))
}

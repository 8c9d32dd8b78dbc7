package broker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeSchedulerFiresDueTasksInDeadlineOrder(t *testing.T) {
	s := newFakeScheduler()
	var order []int
	s.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	s.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	s.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	s.Advance(3 * time.Second)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFakeSchedulerCancelPreventsFiring(t *testing.T) {
	s := newFakeScheduler()
	fired := false
	cancel := s.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, cancel())
	s.Advance(time.Second)

	assert.False(t, fired)
}

func TestFakeSchedulerLeavesNotYetDueTasksPending(t *testing.T) {
	s := newFakeScheduler()
	var fired int32
	s.AfterFunc(10*time.Second, func() { atomic.AddInt32(&fired, 1) })

	s.Advance(5 * time.Second)
	assert.EqualValues(t, 0, fired)

	s.Advance(5 * time.Second)
	assert.EqualValues(t, 1, fired)
}

func TestHeapSchedulerFiresAfterDelay(t *testing.T) {
	s := NewHeapScheduler()
	defer s.Stop()

	done := make(chan struct{})
	s.AfterFunc(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heapScheduler did not fire within timeout")
	}
}

func TestHeapSchedulerCancelStopsFiring(t *testing.T) {
	s := NewHeapScheduler()
	defer s.Stop()

	var fired atomic.Bool
	cancel := s.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, cancel())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestWheelSchedulerFiresAfterDelay(t *testing.T) {
	s := NewWheelScheduler(10*time.Millisecond, 64)
	defer s.Stop()

	done := make(chan struct{})
	s.AfterFunc(30*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wheelScheduler did not fire within timeout")
	}
}

func TestWheelSchedulerCancelStopsFiring(t *testing.T) {
	s := NewWheelScheduler(10*time.Millisecond, 64)
	defer s.Stop()

	var fired atomic.Bool
	cancel := s.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, cancel())

	time.Sleep(150 * time.Millisecond)
	assert.False(t, fired.Load())
}

package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/donlair/pubsub/pkg/concurrency"
	heapds "github.com/donlair/pubsub/pkg/datastructures/heap"
)

// Scheduler abstracts "run this callback after a delay" so the lease manager
// and cleanup sweep never touch time.Timer directly. Production code uses
// heapScheduler or wheelScheduler; tests drive a fakeScheduler instead of
// sleeping.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) CancelFunc
	Now() time.Time
}

// CancelFunc stops a scheduled callback from firing. It returns true if the
// callback was successfully cancelled before it ran, false if it had already
// fired (or been cancelled) by the time this was called.
type CancelFunc func() bool

type schedTask struct {
	fn   func()
	done atomic.Bool
}

func (t *schedTask) cancel() bool {
	return t.done.CompareAndSwap(false, true)
}

// fire runs fn exactly once, racing against a concurrent cancel. Losers of
// the CAS (a Cancel that arrived too late) get false and must not re-invoke.
func (t *schedTask) fire() {
	if t.done.CompareAndSwap(false, true) {
		concurrency.SafeGo(context.Background(), t.fn)
	}
}

// heapScheduler is the default Scheduler: a single background goroutine
// driven by a min-heap keyed on absolute deadline, giving exact (not
// bucketed) firing times. Needed because ack deadlines and
// ModifyAckDeadline accept arbitrary second counts in [0, 600].
type heapScheduler struct {
	heap   *heapds.MinHeap[*schedTask]
	wake   chan struct{}
	stop   chan struct{}
	closed atomic.Bool
}

// NewHeapScheduler starts the background loop and returns the scheduler.
// Callers should call Stop when the broker is disposed.
func NewHeapScheduler() *heapScheduler {
	s := &heapScheduler{
		heap: heapds.NewMinHeap[*schedTask](),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	concurrency.SafeGo(context.Background(), s.loop)
	return s
}

func (s *heapScheduler) Now() time.Time { return time.Now() }

func (s *heapScheduler) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := &schedTask{fn: f}
	deadline := time.Now().Add(d)
	s.heap.PushItem(t, float64(deadline.UnixNano()))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t.cancel
}

// Stop halts the background loop. Already-armed tasks that have not yet
// fired are abandoned, not invoked.
func (s *heapScheduler) Stop() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stop)
	}
}

func (s *heapScheduler) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		task, score, ok := s.heap.PopItem()
		if !ok {
			stopDrain(timer)
			select {
			case <-s.stop:
				return
			case <-s.wake:
				continue
			}
		}

		deadline := time.Unix(0, int64(score))
		wait := time.Until(deadline)
		if wait <= 0 {
			task.fire()
			continue
		}

		// Not due yet; put it back and wait for either the deadline or a
		// newer, earlier task to be scheduled.
		s.heap.PushItem(task, score)
		stopDrain(timer)
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// stopDrain stops a timer and drains a pending tick, the standard idiom for
// safely reusing a time.Timer with Reset.
func stopDrain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

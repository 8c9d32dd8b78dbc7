package broker

import (
	"time"

	"github.com/donlair/pubsub/pkg/datastructures/timer/wheel"
)

// wheelScheduler is a hashed-wheel alternative to heapScheduler, backed by
// wheel.Timer. It amortizes better than a heap when many leases share
// similar deadlines, at the cost of bucketed (not exact) firing: a task's
// actual delay is rounded up to the nearest tick.
type wheelScheduler struct {
	timer *wheel.Timer
}

// NewWheelScheduler starts the tick loop. tickDuration should be small
// relative to the shortest deadline this scheduler will be asked to arm;
// wheelSize bounds how many distinct future ticks can be tracked without
// wrapping.
func NewWheelScheduler(tickDuration time.Duration, wheelSize int) *wheelScheduler {
	t := wheel.New(tickDuration, wheelSize)
	t.Start()
	return &wheelScheduler{timer: t}
}

func (s *wheelScheduler) Now() time.Time { return time.Now() }

func (s *wheelScheduler) AfterFunc(d time.Duration, f func()) CancelFunc {
	cancel := s.timer.Schedule(d, f)
	return func() bool { return cancel() }
}

// Stop halts the tick loop; armed-but-unfired tasks are abandoned.
func (s *wheelScheduler) Stop() {
	s.timer.Stop()
}

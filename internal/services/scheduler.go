package services

import (
	"time"
)

// Clock abstracts time.Now so token expiry checks are deterministic in tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns the wall-clock implementation
func SystemClock() Clock {
	return systemClock{}
}

// Scheduler runs a task after a delay. The request path never waits on a
// scheduled task and a task cannot be cancelled once handed over; chained
// Schedule calls from inside a task preserve relative ordering.
type Scheduler interface {
	Schedule(delay time.Duration, task func())
}

type timerScheduler struct{}

func (timerScheduler) Schedule(delay time.Duration, task func()) {
	time.AfterFunc(delay, task)
}

// NewTimerScheduler returns the time.AfterFunc-backed scheduler used in
// production. Tests substitute a synchronous fake.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

package util

import "time"

// Clock stamps swap records and events.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// StepClock starts at a fixed instant and advances by Step on every call.
type StepClock struct {
	T    time.Time
	Step time.Duration
}

func (c *StepClock) Now() time.Time {
	now := c.T
	c.T = c.T.Add(c.Step)
	return now
}

// Package timing provides the clock sources that timestamp entry points.
package timing

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a high-resolution reading measured from the time origin of the
// clock that produced it.
type Timestamp time.Duration

// Sub returns the duration elapsed between u and t.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// Add returns the timestamp d after t.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

// Milliseconds returns the timestamp as fractional milliseconds, which is the
// unit performance timelines use.
func (t Timestamp) Milliseconds() float64 {
	return float64(t) / float64(time.Millisecond)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%.3fms", t.Milliseconds())
}

// Clock exposes the current time. Readings never decrease.
type Clock interface {
	Now() Timestamp
}

// MonotonicClock reads the monotonic component of the system clock.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock creates a MonotonicClock whose time origin is the moment
// of creation.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Now returns the time elapsed since the clock's time origin.
func (c *MonotonicClock) Now() Timestamp {
	return Timestamp(time.Since(c.origin))
}

// Origin returns the wall-clock instant that corresponds to Timestamp(0).
func (c *MonotonicClock) Origin() time.Time {
	return c.origin
}

// ManualClock is a clock that only moves when told to. Simulated hosts use it
// to model the time spent in script.
type ManualClock struct {
	lock sync.RWMutex
	now  Timestamp
}

// NewManualClock creates a ManualClock that reads zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now returns the current reading.
func (c *ManualClock) Now() Timestamp {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("timing: cannot advance clock by %s", d))
	}

	c.lock.Lock()
	c.now += Timestamp(d)
	c.lock.Unlock()
}

// Set moves the clock to t. Moving backwards is not allowed.
func (c *ManualClock) Set(t Timestamp) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if t < c.now {
		panic(fmt.Sprintf("timing: cannot move clock back from %s to %s",
			c.now, t))
	}

	c.now = t
}

var (
	_ Clock = (*MonotonicClock)(nil)
	_ Clock = (*ManualClock)(nil)
)

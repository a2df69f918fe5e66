package clock

import (
	"sort"
	"sync"
	"time"
)

// VirtualClock only moves when told to. Channels handed out by After are
// released from Advance and Set once their deadline has been reached, in
// deadline order.
//
// Safe for concurrent use.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []sleeper
}

type sleeper struct {
	wake time.Time
	ch   chan time.Time
}

// NewVirtualClock creates a VirtualClock frozen at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the virtual time reaches
// Now()+d. Non-positive durations fire immediately.
func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, sleeper{wake: c.now.Add(d), ch: ch})
	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].wake.Before(c.pending[j].wake)
	})
	return ch
}

// Pending reports how many After channels are still waiting.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Advance moves the clock forward by d. Panics if d is negative.
func (c *VirtualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.wake()
}

// Set jumps the clock to t. Panics if t is before the current time.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		panic("clock: cannot set time to the past")
	}
	c.now = t
	c.wake()
}

// wake releases every sleeper whose deadline has passed. c.mu must be held.
func (c *VirtualClock) wake() {
	n := 0
	for n < len(c.pending) && !c.pending[n].wake.After(c.now) {
		c.pending[n].ch <- c.now
		n++
	}
	c.pending = append(c.pending[:0], c.pending[n:]...)
}

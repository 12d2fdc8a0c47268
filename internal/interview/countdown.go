package interview

import (
	"sync"
	"time"
)

// DefaultAnswerDuration is the time a candidate gets per answer
const DefaultAnswerDuration = 300 * time.Second

// Countdown is the per-answer timer. It ticks at a fixed interval for
// display and fires a single expiry when the duration runs out.
//
// Callbacks run on the countdown's goroutine while its lock is held, so
// they must not call back into the Countdown. Once Cancel returns, no
// callback is running and none will run for that arm.
type Countdown struct {
	duration time.Duration
	interval time.Duration

	mu       sync.Mutex
	gen      uint64
	armed    bool
	deadline time.Time
	stop     chan struct{}
}

// NewCountdown creates a countdown. Non-positive values take the defaults
// of 300s and 1s.
func NewCountdown(duration, interval time.Duration) *Countdown {
	if duration <= 0 {
		duration = DefaultAnswerDuration
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{duration: duration, interval: interval}
}

// Duration returns the configured answer time
func (c *Countdown) Duration() time.Duration {
	return c.duration
}

// Start arms the countdown. Starting an armed countdown re-arms it from
// the full duration.
func (c *Countdown) Start(onTick func(remaining time.Duration), onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disarmLocked()

	c.gen++
	c.armed = true
	c.deadline = time.Now().Add(c.duration)
	c.stop = make(chan struct{})

	go c.run(c.gen, c.stop, onTick, onExpire)
}

func (c *Countdown) run(gen uint64, stop <-chan struct{}, onTick func(time.Duration), onExpire func()) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	expiry := time.NewTimer(c.duration)
	defer expiry.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			if onTick != nil {
				onTick(c.remainingLocked())
			}
			c.mu.Unlock()

		case <-expiry.C:
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.disarmLocked()
			if onExpire != nil {
				onExpire()
			}
			c.mu.Unlock()
			return
		}
	}
}

// Cancel disarms the countdown. Safe to call when not armed.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

func (c *Countdown) disarmLocked() {
	if !c.armed {
		return
	}
	c.armed = false
	c.gen++
	close(c.stop)
	c.stop = nil
}

// Armed reports whether the countdown is running
func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Remaining returns the time left, or zero when not armed
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Countdown) remainingLocked() time.Duration {
	if !c.armed {
		return 0
	}
	if d := time.Until(c.deadline); d > 0 {
		return d
	}
	return 0
}

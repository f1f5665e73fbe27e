package mouse

import "sync/atomic"

// Buttons as reported in the first packet byte.
const (
	ButtonLeft   uint8 = 1 << 0
	ButtonRight  uint8 = 1 << 1
	ButtonMiddle uint8 = 1 << 2

	buttonCount = 3
)

// Default debounce parameters, in packets.
const (
	DefaultClickThreshold = 50
	DefaultHoldCeiling    = 100
)

// ClickTracker derives press, release and click events from successive
// button masks. Update runs in interrupt context once per packet; the
// Consume methods run in the poll loop and each clears exactly one event.
//
// Durations are counted in packets, so a click's time window depends on the
// device sample rate rather than on wall-clock time.
type ClickTracker struct {
	threshold uint32
	ceiling   uint32

	current uint8
	held    [buttonCount]uint32

	pressed      [buttonCount]atomic.Bool
	released     [buttonCount]atomic.Bool
	clicks       [buttonCount]atomic.Int32
	lastDuration [buttonCount]atomic.Uint32
}

// NewClickTracker returns a tracker. A press released after fewer than
// threshold packets counts as a click; held durations stop growing at
// ceiling.
func NewClickTracker(threshold, ceiling uint32) *ClickTracker {
	if threshold == 0 {
		threshold = DefaultClickThreshold
	}
	if ceiling == 0 {
		ceiling = DefaultHoldCeiling
	}
	return &ClickTracker{threshold: threshold, ceiling: ceiling}
}

// Update records the button mask of a completed packet.
func (c *ClickTracker) Update(buttons uint8) {
	old := c.current
	c.current = buttons
	for i := 0; i < buttonCount; i++ {
		mask := uint8(1) << i
		switch {
		case buttons&mask != 0 && old&mask == 0:
			c.pressed[i].Store(true)
			c.held[i] = 0
		case buttons&mask == 0 && old&mask != 0:
			c.released[i].Store(true)
			if c.held[i] < c.threshold {
				c.lastDuration[i].Store(c.held[i])
				c.clicks[i].Add(1)
			}
		}
	}
	for i := 0; i < buttonCount; i++ {
		if buttons&(1<<i) != 0 && c.held[i] < c.ceiling {
			c.held[i]++
		}
	}
}

// Held returns how many packets button i has been held for.
func (c *ClickTracker) Held(i int) uint32 { return c.held[i] }

// ConsumePress clears one pending press of any button in mask, lowest
// button first.
func (c *ClickTracker) ConsumePress(mask uint8) bool {
	return consumeFlag(&c.pressed, mask)
}

// ConsumeRelease clears one pending release of any button in mask.
func (c *ClickTracker) ConsumeRelease(mask uint8) bool {
	return consumeFlag(&c.released, mask)
}

// ConsumeClick takes one click of any button in mask.
func (c *ClickTracker) ConsumeClick(mask uint8) bool {
	for i := 0; i < buttonCount; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		for {
			n := c.clicks[i].Load()
			if n <= 0 {
				break
			}
			if c.clicks[i].CompareAndSwap(n, n-1) {
				return true
			}
		}
	}
	return false
}

// Clicks returns the pending click count of button i.
func (c *ClickTracker) Clicks(i int) int { return int(c.clicks[i].Load()) }

// LastClickDuration returns how long the last click of button i was held.
func (c *ClickTracker) LastClickDuration(i int) uint32 { return c.lastDuration[i].Load() }

func consumeFlag(flags *[buttonCount]atomic.Bool, mask uint8) bool {
	for i := 0; i < buttonCount; i++ {
		if mask&(1<<i) != 0 && flags[i].CompareAndSwap(true, false) {
			return true
		}
	}
	return false
}

// Package quality maps bandwidth samples to a quality tier.
package quality

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrOutOfRange is returned by SetTier for an index outside the ladder.
var ErrOutOfRange = errors.New("tier index out of range")

// Tier is one quality variant of the stream.
type Tier struct {
	Name    string
	Bitrate int // nominal, informational
	URI     string
}

// Config holds the switching thresholds, all in the unit of the bandwidth
// samples (kbps by default).
type Config struct {
	LowThreshold    float64
	HighThreshold   float64
	SwitchThreshold float64
	Initial         int
}

// DefaultConfig returns thresholds 500/1500 with a 500 switch threshold.
func DefaultConfig() Config {
	return Config{
		LowThreshold:    500,
		HighThreshold:   1500,
		SwitchThreshold: 500,
	}
}

// Controller owns the current tier index. Bandwidth-driven switches are
// damped by hysteresis: a switch commits only when the sample differs from
// the sample behind the previous committed switch by at least
// SwitchThreshold. Manual and low-resource changes bypass hysteresis.
type Controller struct {
	cfg   Config
	tiers []Tier

	mu       sync.Mutex
	current  int
	anchor   float64
	anchored bool
}

// New returns a Controller over tiers, ordered lowest quality first.
func New(tiers []Tier, cfg Config) (*Controller, error) {
	if len(tiers) == 0 {
		return nil, errors.New("quality: no tiers")
	}
	if cfg.Initial < 0 || cfg.Initial >= len(tiers) {
		return nil, fmt.Errorf("quality: initial tier %d: %w", cfg.Initial, ErrOutOfRange)
	}
	if cfg.HighThreshold < cfg.LowThreshold {
		return nil, fmt.Errorf("quality: high threshold %v below low threshold %v", cfg.HighThreshold, cfg.LowThreshold)
	}
	return &Controller{
		cfg:     cfg,
		tiers:   append([]Tier(nil), tiers...),
		current: cfg.Initial,
	}, nil
}

// Target returns the tier a sample asks for, before hysteresis: 0 below the
// low threshold, 1 below the high threshold, 2 otherwise, capped to the
// highest tier.
func (c *Controller) Target(bandwidth float64) int {
	target := 2
	switch {
	case bandwidth < c.cfg.LowThreshold:
		target = 0
	case bandwidth < c.cfg.HighThreshold:
		target = 1
	}
	return min(target, len(c.tiers)-1)
}

// Observe routes one bandwidth sample through the controller and reports the
// resulting tier and whether it changed.
func (c *Controller) Observe(bandwidth float64) (int, bool) {
	target := c.Target(bandwidth)

	c.mu.Lock()
	defer c.mu.Unlock()

	if target == c.current {
		return c.current, false
	}
	if c.anchored && math.Abs(bandwidth-c.anchor) < c.cfg.SwitchThreshold {
		return c.current, false
	}
	c.current = target
	c.anchor = bandwidth
	c.anchored = true
	return c.current, true
}

// SetTier selects index unconditionally.
func (c *Controller) SetTier(index int) error {
	if index < 0 || index >= len(c.tiers) {
		return fmt.Errorf("set tier %d of %d: %w", index, len(c.tiers), ErrOutOfRange)
	}
	c.mu.Lock()
	c.current = index
	c.mu.Unlock()
	return nil
}

// LowerOneTier steps down one tier, stopping at 0.
func (c *Controller) LowerOneTier() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == 0 {
		return 0, false
	}
	c.current--
	return c.current, true
}

// Index returns the current tier index.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Current returns the current tier.
func (c *Controller) Current() Tier {
	return c.tiers[c.Index()]
}

// Tier returns tier i.
func (c *Controller) Tier(i int) (Tier, error) {
	if i < 0 || i >= len(c.tiers) {
		return Tier{}, ErrOutOfRange
	}
	return c.tiers[i], nil
}

// Len returns the number of tiers.
func (c *Controller) Len() int {
	return len(c.tiers)
}

// Tiers returns a copy of the ladder.
func (c *Controller) Tiers() []Tier {
	return append([]Tier(nil), c.tiers...)
}

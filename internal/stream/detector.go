package stream

import (
	"time"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/content"
)

// DetectorConfig holds the tuning constants of a Detector.
type DetectorConfig struct {
	// IdleTimeout is the base time without changes after which the reply may be considered finished.
	IdleTimeout time.Duration
	// MathExtension is added to IdleTimeout when the buffer looks like it contains math.
	MathExtension time.Duration
	// LengthThresholds are buffer lengths in bytes; each one crossed adds LengthExtension.
	LengthThresholds []int
	LengthExtension  time.Duration
	// MinStable is the number of consecutive unchanged observations required besides the timeout.
	MinStable int
	// MaxTimeout declares the reply finished after this much idle time regardless of stability.
	MaxTimeout time.Duration
	// EvaluateInterval is how often an active stream re-evaluates the detector.
	EvaluateInterval time.Duration
}

// DefaultDetectorConfig returns the constants used when none are configured.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		IdleTimeout:      3 * time.Second,
		MathExtension:    2 * time.Second,
		LengthThresholds: []int{1000, 3000},
		LengthExtension:  time.Second,
		MinStable:        3,
		MaxTimeout:       15 * time.Second,
		EvaluateInterval: 500 * time.Millisecond,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	def := DefaultDetectorConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MathExtension <= 0 {
		c.MathExtension = def.MathExtension
	}
	if c.LengthThresholds == nil {
		c.LengthThresholds = def.LengthThresholds
	}
	if c.LengthExtension <= 0 {
		c.LengthExtension = def.LengthExtension
	}
	if c.MinStable <= 0 {
		c.MinStable = def.MinStable
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = def.MaxTimeout
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = def.EvaluateInterval
	}
	return c
}

// Detector infers whether a streaming reply is still being typed from the timing and shape of the
// buffer alone. It is advisory: its verdict drives cosmetic state only and never decides when a reply
// is committed.
//
// A Detector is not safe for concurrent use.
type Detector struct {
	cfg DetectorConfig

	last       string
	lastChange time.Time
	stable     int
	typing     bool
}

// NewDetector creates a Detector, filling zero constants with defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Reset starts a new observation at now with an empty buffer, in the typing state.
func (d *Detector) Reset(now time.Time) {
	d.last = ""
	d.lastChange = now
	d.stable = 0
	d.typing = true
}

// Typing returns the current verdict.
func (d *Detector) Typing() bool {
	return d.typing
}

// Stable returns the number of consecutive observations without a change.
func (d *Detector) Stable() int {
	return d.stable
}

// Observe records the buffer value seen at now and returns the updated verdict. A changed buffer re-arms
// the typing state. An unchanged one counts towards stability, and the reply is declared finished once
// it has been idle longer than Timeout(text) with at least MinStable unchanged observations, or idle
// longer than MaxTimeout.
func (d *Detector) Observe(text string, now time.Time) bool {
	if text != d.last {
		d.last = text
		d.lastChange = now
		d.stable = 0
		d.typing = true
		return d.typing
	}

	d.stable++
	idle := now.Sub(d.lastChange)
	switch {
	case idle >= d.cfg.MaxTimeout:
		d.typing = false
	case idle >= d.Timeout(text) && d.stable >= d.cfg.MinStable:
		d.typing = false
	}
	return d.typing
}

// Timeout returns the idle time required before text may be declared finished. Buffers with math and
// long buffers get more time to settle, capped at MaxTimeout.
func (d *Detector) Timeout(text string) time.Duration {
	timeout := d.cfg.IdleTimeout
	if content.HasMath(text) {
		timeout += d.cfg.MathExtension
	}
	for _, threshold := range d.cfg.LengthThresholds {
		if len(text) > threshold {
			timeout += d.cfg.LengthExtension
		}
	}
	return min(timeout, d.cfg.MaxTimeout)
}

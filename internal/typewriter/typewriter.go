// Package typewriter reveals a growing piece of text at a bounded rate.
package typewriter

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultTick        = 30 * time.Millisecond
	DefaultMaxDuration = 1500 * time.Millisecond
)

// Option configures a Presenter.
type Option func(*Presenter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Presenter) {
		p.now = now
	}
}

// WithEnabled sets the initial enabled state. Presenters start enabled.
func WithEnabled(enabled bool) Option {
	return func(p *Presenter) {
		p.enabled = enabled
	}
}

// Presenter reveals a prefix of its target text one tick at a time. The step
// per tick is recomputed from the current target length so that text which
// keeps growing is still fully shown about maxDuration after the animation
// began.
type Presenter struct {
	mu          sync.Mutex
	target      []rune
	shown       int
	enabled     bool
	tick        time.Duration
	maxDuration time.Duration
	startedAt   time.Time
	now         func() time.Time
}

// New creates a presenter. Non-positive durations fall back to the defaults.
func New(tick, maxDuration time.Duration, opts ...Option) *Presenter {
	if tick <= 0 {
		tick = DefaultTick
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	p := &Presenter{
		enabled:     true,
		tick:        tick,
		maxDuration: maxDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTarget updates the full text to reveal.
func (p *Presenter) SetTarget(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runes := []rune(text)
	if len(runes) == 0 {
		p.target = nil
		p.shown = 0
		p.startedAt = time.Time{}
		return
	}

	p.target = runes
	switch {
	case !p.enabled:
		p.shown = len(runes)
	case p.shown > len(runes):
		p.shown = len(runes)
	}
	if p.enabled && p.startedAt.IsZero() {
		p.startedAt = p.now()
	}
}

// SetEnabled toggles the animation. Disabling shows the full target at once;
// enabling restarts the timing reference.
func (p *Presenter) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled == enabled {
		return
	}
	p.enabled = enabled
	if !enabled {
		p.shown = len(p.target)
		return
	}
	p.startedAt = p.now()
}

// Enabled reports whether the animation is on.
func (p *Presenter) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Tick advances the revealed prefix by one step and reports whether it changed.
func (p *Presenter) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.target)
	if !p.enabled || p.shown >= total {
		return false
	}

	if p.startedAt.IsZero() {
		p.startedAt = p.now()
	}
	if p.now().Sub(p.startedAt) >= p.maxDuration {
		p.shown = total
		return true
	}

	maxTicks := int(p.maxDuration / p.tick)
	if maxTicks < 1 {
		maxTicks = 1
	}
	step := (total + maxTicks - 1) / maxTicks

	p.shown += step
	if p.shown > total {
		p.shown = total
	}
	return true
}

// Text returns the currently revealed text.
func (p *Presenter) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.target[:p.shown])
}

// Done reports whether the whole target is visible.
func (p *Presenter) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown >= len(p.target)
}

// Run ticks until ctx is done, calling onChange with the revealed text after
// every tick that changed it.
func (p *Presenter) Run(ctx context.Context, onChange func(string)) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Tick() && onChange != nil {
				onChange(p.Text())
			}
		}
	}
}

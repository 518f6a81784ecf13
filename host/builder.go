package host

import (
	"github.com/go-kit/log"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/hooking"
	"github.com/sarchlab/scriptentry/timing"
)

// Builder can build Loops.
type Builder struct {
	clock    *timing.ManualClock
	timeline attribution.Timeline
	engine   attribution.Builder
	logger   log.Logger
}

// MakeBuilder creates a Builder with a fresh manual clock and the default
// engine configuration.
func MakeBuilder() Builder {
	return Builder{
		engine: attribution.MakeBuilder(),
	}
}

// WithClock sets the clock shared by the loop and its engine.
func (b Builder) WithClock(c *timing.ManualClock) Builder {
	b.clock = c
	return b
}

// WithEngineBuilder sets how the attribution engine is built. The clock,
// timeline and logger of the loop override the ones of the engine builder.
func (b Builder) WithEngineBuilder(eb attribution.Builder) Builder {
	b.engine = eb
	return b
}

// WithTimeline sets where the engine reports long entries.
func (b Builder) WithTimeline(t attribution.Timeline) Builder {
	b.timeline = t
	return b
}

// WithLogger sets the logger of the loop and its engine.
func (b Builder) WithLogger(l log.Logger) Builder {
	b.logger = l
	return b
}

// Build creates the loop together with its engine.
func (b Builder) Build(name string) *Loop {
	if name == "" {
		panic("loop name must not be empty")
	}

	clock := b.clock
	if clock == nil {
		clock = timing.NewManualClock()
	}

	logger := b.logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	eb := b.engine.WithClock(clock).WithLogger(logger)
	if b.timeline != nil {
		eb = eb.WithTimeline(b.timeline)
	}

	return &Loop{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		clock:        clock,
		engine:       eb.Build(name + ".Engine"),
		logger:       logger,
	}
}

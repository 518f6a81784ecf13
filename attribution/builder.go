package attribution

import (
	"fmt"
	"time"

	"github.com/go-kit/log"

	"github.com/sarchlab/scriptentry/hooking"
	"github.com/sarchlab/scriptentry/idgen"
	"github.com/sarchlab/scriptentry/timing"
)

// Builder can build Engines.
type Builder struct {
	clock     timing.Clock
	timeline  Timeline
	threshold time.Duration
	logger    log.Logger
	entryIDs  idgen.Generator
	taskIDs   idgen.Generator
}

// MakeBuilder creates a Builder with the default configuration: a monotonic
// clock, the 5ms long-script threshold and no timeline.
func MakeBuilder() Builder {
	return Builder{
		threshold: DefaultThreshold,
	}
}

// WithClock sets the clock that timestamps entries.
func (b Builder) WithClock(c timing.Clock) Builder {
	b.clock = c
	return b
}

// WithTimeline sets where the qualifying entries of each task are reported.
func (b Builder) WithTimeline(t Timeline) Builder {
	b.timeline = t
	return b
}

// WithThreshold sets the minimum self duration of reported entries.
func (b Builder) WithThreshold(d time.Duration) Builder {
	b.threshold = d
	return b
}

// WithLogger sets the logger that receives engine warnings.
func (b Builder) WithLogger(l log.Logger) Builder {
	b.logger = l
	return b
}

// WithEntryIDGenerator sets the generator of entry ids.
func (b Builder) WithEntryIDGenerator(g idgen.Generator) Builder {
	b.entryIDs = g
	return b
}

// WithTaskIDGenerator sets the generator of task ids.
func (b Builder) WithTaskIDGenerator(g idgen.Generator) Builder {
	b.taskIDs = g
	return b
}

// Build creates the Engine.
func (b Builder) Build(name string) *Engine {
	if name == "" {
		panic("engine name must not be empty")
	}

	if b.threshold < 0 {
		panic(fmt.Sprintf("threshold must not be negative, got %s", b.threshold))
	}

	e := &Engine{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		clock:        b.clock,
		timeline:     b.timeline,
		threshold:    b.threshold,
		logger:       b.logger,
		entryIDs:     b.entryIDs,
		taskIDs:      b.taskIDs,
	}

	if e.clock == nil {
		e.clock = timing.NewMonotonicClock()
	}

	if e.timeline == nil {
		e.timeline = discardTimeline{}
	}

	if e.logger == nil {
		e.logger = log.NewNopLogger()
	}

	if e.entryIDs == nil {
		e.entryIDs = idgen.New()
	}

	if e.taskIDs == nil {
		e.taskIDs = idgen.New()
	}

	return e
}

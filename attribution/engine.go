// Package attribution attributes main-thread time to script entry points.
//
// Application code marks functions as entry points with Engine.Bind. Every
// call of a bound function becomes an EntryPoint that is pushed on the entry
// stack of the running task. Microtasks queued while entries are active are
// tagged with a snapshot of the stack and, when the host runs them during the
// microtask checkpoint, the snapshot is restored so that their time is
// charged to the entries that queued them.
//
// Each entry ends up with two durations. Duration is the length of the
// synchronous call. SelfDuration is the time the entry was the innermost
// attribution context, including attributed microtasks and excluding nested
// entries. When the task ends, entries whose SelfDuration reaches the
// threshold are sent to the Timeline.
//
// The Engine is driven by the host scheduler through the On* methods. It is
// not safe for concurrent use; all calls must come from the goroutine that
// runs the host's tasks.
package attribution

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/scriptentry/hooking"
	"github.com/sarchlab/scriptentry/idgen"
	"github.com/sarchlab/scriptentry/timing"
)

// Engine tracks entry points across the tasks delivered by the host.
type Engine struct {
	*hooking.HookableBase

	name      string
	clock     timing.Clock
	timeline  Timeline
	threshold time.Duration
	logger    log.Logger

	entryIDs idgen.Generator
	taskIDs  idgen.Generator

	current *TaskContext

	// discarding is set from OnTaskAbandoned until the host ends or starts a
	// task. Script that keeps running in the abandoned task is not tracked.
	discarding bool
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Threshold returns the minimum self duration of reported entries.
func (e *Engine) Threshold() time.Duration {
	return e.threshold
}

// Clock returns the clock that timestamps entries.
func (e *Engine) Clock() timing.Clock {
	return e.clock
}

// Context returns the current task context, or nil between tasks.
func (e *Engine) Context() *TaskContext {
	return e.current
}

func (e *Engine) hook(pos *hooking.HookPos, item any) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    pos,
		Item:   item,
	})
}

func (e *Engine) hookEntries(pos *hooking.HookPos, ctx *TaskContext, ids []EntryID) {
	if e.NumHooks() == 0 {
		return
	}

	for _, id := range ids {
		e.hook(pos, ctx.entries[id].clone())
	}
}

func (e *Engine) newContext(adHoc bool) *TaskContext {
	ctx := newTaskContext(TaskID(e.taskIDs.Generate()), e.clock.Now(), adHoc)
	e.current = ctx
	e.hook(HookPosTaskStart, ctx.id)

	return ctx
}

// contextForScript returns the context script runs in, creating an ad hoc one
// when script runs outside of any task.
func (e *Engine) contextForScript() *TaskContext {
	if e.current != nil {
		return e.current
	}

	if e.discarding {
		return newTaskContext(0, e.clock.Now(), true)
	}

	return e.newContext(true)
}

// OnTaskStart creates the context of a new task and returns its id.
func (e *Engine) OnTaskStart() TaskID {
	e.discarding = false

	if prev := e.current; prev != nil {
		if !prev.adHoc {
			level.Warn(e.logger).Log(
				"msg", "task started before the previous one ended",
				"engine", e.name,
				"task", prev.id,
			)
		}

		e.finalize(prev)
	}

	return e.newContext(false).id
}

// OnMicrotaskEnqueued tags the microtask with the current entry stack. It
// does nothing when no entry is active.
func (e *Engine) OnMicrotaskEnqueued(h MicrotaskHandle) {
	ctx := e.current
	if ctx == nil {
		return
	}

	ctx.tagMicrotask(h)
}

// OnMicrotaskBegin restores the attribution context of the microtask.
func (e *Engine) OnMicrotaskBegin(h MicrotaskHandle) {
	ctx := e.contextForScript()

	outcome, stack := ctx.beginMicrotask(h, e.clock.Now())
	switch outcome {
	case attributionUntracked:
	case attributionMiss:
		level.Warn(e.logger).Log(
			"msg", "attribution lost, all tagged entries are gone",
			"engine", e.name,
			"task", ctx.id,
			"microtask", h,
		)
		e.hook(HookPosAttributionMiss, MicrotaskAttribution{
			TaskID:   ctx.id,
			Handle:   h,
			Snapshot: stack,
		})
	default:
		snapshot, _ := ctx.microtasks.lookup(h)
		e.hook(HookPosMicrotaskAttributed, MicrotaskAttribution{
			TaskID:   ctx.id,
			Handle:   h,
			Snapshot: append([]EntryID(nil), snapshot...),
			Stack:    stack,
			Fallback: outcome == attributionFallback,
		})
	}
}

// OnMicrotaskEnd puts back the stack that was active before the microtask.
func (e *Engine) OnMicrotaskEnd(h MicrotaskHandle) {
	ctx := e.current
	if ctx == nil {
		level.Warn(e.logger).Log(
			"msg", "microtask ended outside of any task",
			"engine", e.name,
			"microtask", h,
		)

		return
	}

	if !ctx.endMicrotask(h, e.clock.Now()) {
		level.Warn(e.logger).Log(
			"msg", "microtask end does not match the running microtask",
			"engine", e.name,
			"task", ctx.id,
			"microtask", h,
		)
	}
}

// OnCheckpointComplete finishes every entry whose attributed microtasks have
// all run. An ad hoc context is reported and dropped at this point.
func (e *Engine) OnCheckpointComplete() {
	ctx := e.current
	if ctx == nil {
		return
	}

	finished := ctx.finishDrained(e.clock.Now())
	e.hookEntries(HookPosEntryFinish, ctx, finished)

	if ctx.adHoc {
		e.finalize(ctx)
	}
}

// OnTaskEnd reports the entries of the current task and destroys its context.
func (e *Engine) OnTaskEnd() {
	if e.discarding {
		e.discarding = false
		return
	}

	ctx := e.current
	if ctx == nil {
		level.Warn(e.logger).Log(
			"msg", "task ended without a task context",
			"engine", e.name,
		)

		return
	}

	e.finalize(ctx)
}

// OnTaskAbandoned tears down the current task. Its entries are finished and
// discarded without being reported. Script that still runs before the host
// calls OnTaskEnd or OnTaskStart is discarded as well.
func (e *Engine) OnTaskAbandoned() {
	ctx := e.current
	if ctx == nil {
		return
	}

	e.discarding = true

	forced := ctx.forceFinishAll(e.clock.Now())
	e.hookEntries(HookPosEntryFinish, ctx, forced)
	e.hook(HookPosTaskAbandon, Report{
		TaskID:    ctx.id,
		Discarded: len(ctx.order) + len(ctx.hostEntries),
	})

	e.current = nil
}

// AddHostEntry contributes a default script entry measured by the host to the
// current task. It is reported under the same threshold as bound entries.
func (e *Engine) AddHostEntry(h HostEntry) {
	ctx := e.contextForScript()

	r := FinishedEntryRecord{
		ID:           EntryID(e.entryIDs.Generate()),
		Name:         h.Name,
		InvokerType:  h.InvokerType,
		StartTime:    h.StartTime,
		Duration:     h.Duration,
		SelfDuration: h.SelfDuration,
		FromHost:     true,
	}

	if !h.Source.IsZero() {
		src := h.Source
		r.Source = &src
	}

	ctx.hostEntries = append(ctx.hostEntries, r)
}

func (e *Engine) finalize(ctx *TaskContext) {
	forced := ctx.forceFinishAll(e.clock.Now())
	if len(forced) > 0 {
		level.Warn(e.logger).Log(
			"msg", "entries still open at the end of the task",
			"engine", e.name,
			"task", ctx.id,
			"count", len(forced),
		)
		e.hookEntries(HookPosEntryFinish, ctx, forced)
	}

	records, discarded := ctx.selectRecords(e.threshold)
	if len(records) > 0 {
		e.timeline.ReportEntries(ctx.id, records)
	}

	e.hook(HookPosTaskReport, Report{
		TaskID:    ctx.id,
		Records:   records,
		Discarded: discarded,
	})

	if e.current == ctx {
		e.current = nil
	}
}

func (e *Engine) enter(
	name string,
	invoker InvokerType,
	source SourceInfo,
) *Scope {
	ctx := e.contextForScript()

	entry := &EntryPoint{
		ID:          EntryID(e.entryIDs.Generate()),
		Name:        name,
		InvokerType: invoker,
		Source:      source,
	}
	ctx.push(entry, e.clock.Now())
	e.hook(HookPosEntryStart, entry.clone())

	return &Scope{engine: e, ctx: ctx, id: entry.ID}
}

func (e *Engine) exit(ctx *TaskContext, id EntryID) {
	if ctx != e.current {
		// The task was torn down while the call was running.
		return
	}

	top := ctx.stack.top()
	outcome, forced := ctx.pop(id, e.clock.Now())

	switch outcome {
	case popped:
		e.hook(HookPosEntryReturn, ctx.entries[id].clone())
	case popCorrupted:
		level.Warn(e.logger).Log(
			"msg", "entry popped out of order, stack dropped",
			"engine", e.name,
			"task", ctx.id,
			"entry", id,
			"top", top,
			"force_finished", len(forced),
		)
		e.hook(HookPosStackCorruption, StackCorruption{
			TaskID:        ctx.id,
			Popped:        id,
			Top:           top,
			ForceFinished: forced,
		})
		e.hookEntries(HookPosEntryFinish, ctx, forced)
	}
}

package attribution

import (
	"github.com/sarchlab/scriptentry/timing"
)

// TaskContext is the attribution state of one task. It is created when the
// host starts a task and destroyed when the task ends, after its microtask
// checkpoint has drained.
type TaskContext struct {
	id    TaskID
	adHoc bool

	entries map[EntryID]*EntryPoint
	order   []EntryID
	stack   entryStack

	microtasks attributionMap
	running    []runningMicrotask

	hostEntries []FinishedEntryRecord

	// mark is the last time self time was charged.
	mark timing.Timestamp
}

func newTaskContext(id TaskID, now timing.Timestamp, adHoc bool) *TaskContext {
	return &TaskContext{
		id:         id,
		adHoc:      adHoc,
		entries:    make(map[EntryID]*EntryPoint),
		microtasks: newAttributionMap(),
		mark:       now,
	}
}

// ID returns the id of the task.
func (c *TaskContext) ID() TaskID {
	return c.id
}

// IsAdHoc tells if the context was created for a bound call made outside of
// any task.
func (c *TaskContext) IsAdHoc() bool {
	return c.adHoc
}

// Entry returns a copy of the entry with the given id.
func (c *TaskContext) Entry(id EntryID) (EntryPoint, bool) {
	e, ok := c.entries[id]
	if !ok {
		return EntryPoint{}, false
	}

	return e.clone(), true
}

// Entries returns copies of all entries created in this task, in creation
// order.
func (c *TaskContext) Entries() []EntryPoint {
	list := make([]EntryPoint, 0, len(c.order))
	for _, id := range c.order {
		list = append(list, c.entries[id].clone())
	}

	return list
}

// Stack returns the ids of the current attribution stack, outermost first.
func (c *TaskContext) Stack() []EntryID {
	return c.stack.snapshot()
}

// Current returns the id of the innermost active entry, or zero.
func (c *TaskContext) Current() EntryID {
	return c.stack.top()
}

// PendingMicrotasks returns the number of tagged microtasks that have not
// finished running.
func (c *TaskContext) PendingMicrotasks() int {
	return c.microtasks.len()
}

// charge adds the time since the last mark to the innermost entry.
func (c *TaskContext) charge(now timing.Timestamp) {
	if id := c.stack.top(); id != 0 {
		e := c.entries[id]
		if e != nil && e.State != StateFinished {
			e.SelfDuration += now.Sub(c.mark)
		}
	}

	c.mark = now
}

func (c *TaskContext) push(e *EntryPoint, now timing.Timestamp) {
	c.charge(now)

	e.StartTime = now
	e.State = StateActive
	e.Parent = c.stack.top()
	e.Depth = len(c.stack)

	if parent := c.entries[e.Parent]; parent != nil {
		parent.Children = append(parent.Children, e.ID)
	}

	c.entries[e.ID] = e
	c.order = append(c.order, e.ID)
	c.stack.push(e.ID)
}

type popOutcome int

const (
	popped popOutcome = iota
	popIgnored
	popCorrupted
)

// pop ends the synchronous part of the entry. When the entry is not the top
// of the stack the stack is treated as corrupted: every entry on it is
// force-finished and the stack is cleared.
func (c *TaskContext) pop(id EntryID, now timing.Timestamp) (
	outcome popOutcome,
	forced []EntryID,
) {
	e := c.entries[id]
	if e == nil || e.State != StateActive {
		return popIgnored, nil
	}

	c.charge(now)

	if c.stack.popIfTop(id) {
		e.returnAt(now)
		return popped, nil
	}

	forced = append(forced, id)
	e.forceFinish(now)

	for _, open := range c.stack {
		if open == id {
			continue
		}

		if other := c.entries[open]; other != nil && other.State != StateFinished {
			other.forceFinish(now)
			forced = append(forced, open)
		}
	}

	c.stack.clear()

	return popCorrupted, forced
}

// tagMicrotask snapshots the stack for a newly queued microtask. It returns
// false if no entry is active, in which case the microtask is not tracked.
func (c *TaskContext) tagMicrotask(h MicrotaskHandle) ([]EntryID, bool) {
	if len(c.stack) == 0 {
		return nil, false
	}

	snapshot := c.stack.snapshot()
	if old, had := c.microtasks.tag(h, snapshot); had {
		c.adjustPending(old, -1)
	}

	c.adjustPending(snapshot, 1)

	return snapshot, true
}

func (c *TaskContext) adjustPending(ids []EntryID, delta int) {
	for _, id := range ids {
		if e := c.entries[id]; e != nil {
			e.pendingMicrotasks += delta
		}
	}
}

type attributionOutcome int

const (
	attributionUntracked attributionOutcome = iota
	attributionRestored
	attributionFallback
	attributionMiss
)

// beginMicrotask installs the snapshot tagged to h as the attribution stack.
// Entries that have been force-finished since are skipped, so the microtask
// lands on the nearest surviving ancestor.
func (c *TaskContext) beginMicrotask(h MicrotaskHandle, now timing.Timestamp) (
	attributionOutcome, []EntryID,
) {
	c.charge(now)

	c.running = append(c.running, runningMicrotask{
		handle: h,
		saved:  c.stack.snapshot(),
	})

	snapshot, ok := c.microtasks.lookup(h)
	if !ok {
		c.stack = nil
		return attributionUntracked, nil
	}

	restored := make(entryStack, 0, len(snapshot))
	for _, id := range snapshot {
		if e := c.entries[id]; e != nil && e.State != StateFinished {
			restored = append(restored, id)
		}
	}

	c.stack = restored

	switch {
	case len(restored) == 0:
		return attributionMiss, snapshot
	case len(restored) < len(snapshot):
		c.entries[restored.top()].Degraded = true
		return attributionFallback, restored.snapshot()
	default:
		return attributionRestored, restored.snapshot()
	}
}

// endMicrotask restores the stack saved by the matching beginMicrotask. It
// returns false if no microtask is running.
func (c *TaskContext) endMicrotask(h MicrotaskHandle, now timing.Timestamp) bool {
	c.charge(now)

	n := len(c.running)
	if n == 0 {
		return false
	}

	r := c.running[n-1]
	c.running = c.running[:n-1]
	c.stack = r.saved

	if snapshot, ok := c.microtasks.release(h); ok {
		c.adjustPending(snapshot, -1)
	}

	return r.handle == h
}

// finishDrained moves every returned entry without pending microtasks to
// Finished.
func (c *TaskContext) finishDrained(now timing.Timestamp) []EntryID {
	c.charge(now)

	var finished []EntryID

	for _, id := range c.order {
		e := c.entries[id]
		if e.State == StateAwaitingMicrotasks && e.pendingMicrotasks <= 0 {
			e.State = StateFinished
			finished = append(finished, id)
		}
	}

	return finished
}

// forceFinishAll finishes every entry that is not finished yet.
func (c *TaskContext) forceFinishAll(now timing.Timestamp) []EntryID {
	c.charge(now)

	var forced []EntryID

	for _, id := range c.order {
		e := c.entries[id]
		if e.State != StateFinished {
			e.forceFinish(now)
			forced = append(forced, id)
		}
	}

	c.stack = nil
	c.running = nil

	return forced
}

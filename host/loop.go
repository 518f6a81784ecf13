// Package host simulates the single-threaded event loop of a script host.
//
// The Loop runs tasks one at a time. After each task it performs a microtask
// checkpoint that drains the microtask queue, including the microtasks queued
// while draining. Every step is reported to an attribution Engine, and time
// only moves when tasks call Busy, which makes runs reproducible.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/hooking"
	"github.com/sarchlab/scriptentry/timing"
)

// HookPosBeforeTask fires before a task starts. Item: TaskInfo.
var HookPosBeforeTask = &hooking.HookPos{Name: "BeforeTask"}

// HookPosAfterTask fires after a task and its checkpoint finish. Item:
// TaskInfo.
var HookPosAfterTask = &hooking.HookPos{Name: "AfterTask"}

// TaskInfo describes a task that ran on the loop.
type TaskInfo struct {
	Name      string
	TaskID    attribution.TaskID
	Start     timing.Timestamp
	End       timing.Timestamp
	Abandoned bool
	Panicked  bool
}

// Stats counts what the loop has done so far.
type Stats struct {
	Now        timing.Timestamp `json:"now"`
	Tasks      int              `json:"tasks"`
	Microtasks int              `json:"microtasks"`
	Abandoned  int              `json:"abandoned"`
	Panics     int              `json:"panics"`
	Pending    int              `json:"pending"`
}

// Loop is a simulated host event loop.
type Loop struct {
	*hooking.HookableBase

	name   string
	clock  *timing.ManualClock
	engine *attribution.Engine
	logger log.Logger

	queueLock  sync.Mutex
	tasks      taskQueue
	microtasks []microtask
	nextHandle attribution.MicrotaskHandle

	inTask    bool
	abandoned bool
	panicked  bool

	statsLock sync.Mutex
	stats     Stats

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// Name returns the name of the loop.
func (l *Loop) Name() string {
	return l.name
}

// Engine returns the attribution engine the loop reports to.
func (l *Loop) Engine() *attribution.Engine {
	return l.engine
}

// Now returns the current time of the loop.
func (l *Loop) Now() timing.Timestamp {
	return l.clock.Now()
}

// PostTask queues a task that may start immediately.
func (l *Loop) PostTask(name string, run TaskFunc) {
	l.Post(Task{Name: name, At: l.clock.Now(), Run: run})
}

// PostDelayedTask queues a timer task that starts after delay.
func (l *Loop) PostDelayedTask(name string, delay time.Duration, run TaskFunc) {
	l.Post(Task{
		Name:    name,
		At:      l.clock.Now().Add(delay),
		Invoker: attribution.InvokerTimerCallback,
		Run:     run,
	})
}

// Post queues a task. Tasks never start before their At time and tasks with
// the same time run in posting order.
func (l *Loop) Post(t Task) {
	if t.Run == nil {
		panic("task must have a body")
	}

	if t.At < l.clock.Now() {
		t.At = l.clock.Now()
	}

	l.queueLock.Lock()
	defer l.queueLock.Unlock()

	task := t
	l.tasks.push(&task)
}

// QueueMicrotask queues run to be executed at the next microtask
// checkpoint. The microtask is attributed to the entries that are active at
// the time of queueing. Microtasks queued by an abandoned task never run.
func (l *Loop) QueueMicrotask(run TaskFunc) attribution.MicrotaskHandle {
	l.queueLock.Lock()
	l.nextHandle++
	h := l.nextHandle

	if l.abandoned {
		l.queueLock.Unlock()
		return h
	}

	l.microtasks = append(l.microtasks, microtask{handle: h, run: run})
	l.queueLock.Unlock()

	l.engine.OnMicrotaskEnqueued(h)

	return h
}

// Busy simulates script work by advancing the clock.
func (l *Loop) Busy(d time.Duration) {
	l.clock.Advance(d)
}

// Abandon tears down the running task, as a navigation would. Its pending
// microtasks are dropped and its entries are not reported, including the
// entries of script the task still runs after abandoning.
func (l *Loop) Abandon() {
	if !l.inTask || l.abandoned {
		return
	}

	l.abandoned = true

	l.queueLock.Lock()
	l.microtasks = nil
	l.queueLock.Unlock()

	l.engine.OnTaskAbandoned()
}

// RunOutsideTask runs script that does not belong to any task and then
// performs a microtask checkpoint.
func (l *Loop) RunOutsideTask(name string, run TaskFunc) {
	l.runGuarded(name, run)
	l.checkpoint()
}

// Run executes the queued tasks until the queue is empty or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.singleRunLock.Lock()
	defer l.singleRunLock.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.pauseLock.Lock()

		t := l.nextTask()
		if t == nil {
			l.pauseLock.Unlock()
			return nil
		}

		l.runTask(t)

		l.pauseLock.Unlock()
	}
}

// Pause prevents the loop from starting more tasks until Continue is
// called.
func (l *Loop) Pause() {
	l.isPausedLock.Lock()
	defer l.isPausedLock.Unlock()

	if l.isPaused {
		return
	}

	l.pauseLock.Lock()
	l.isPaused = true
}

// Continue resumes a paused loop.
func (l *Loop) Continue() {
	l.isPausedLock.Lock()
	defer l.isPausedLock.Unlock()

	if !l.isPaused {
		return
	}

	l.pauseLock.Unlock()
	l.isPaused = false
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.statsLock.Lock()
	s := l.stats
	l.statsLock.Unlock()

	l.queueLock.Lock()
	s.Pending = l.tasks.len()
	l.queueLock.Unlock()

	s.Now = l.clock.Now()

	return s
}

func (l *Loop) nextTask() *Task {
	l.queueLock.Lock()
	defer l.queueLock.Unlock()

	return l.tasks.pop()
}

func (l *Loop) runTask(t *Task) {
	if t.At > l.clock.Now() {
		l.clock.Set(t.At)
	}

	l.inTask = true
	l.abandoned = false
	l.panicked = false

	info := TaskInfo{Name: t.Name, Start: l.clock.Now()}
	info.TaskID = l.engine.OnTaskStart()
	l.hook(HookPosBeforeTask, info)

	l.runGuarded(t.Name, t.Run)

	if !l.abandoned {
		l.checkpoint()
	}

	if !l.abandoned {
		l.addHostEntry(t, info.Start)
	}

	l.engine.OnTaskEnd()

	info.End = l.clock.Now()
	info.Abandoned = l.abandoned
	info.Panicked = l.panicked

	l.inTask = false
	l.abandoned = false

	l.statsLock.Lock()
	l.stats.Tasks++
	if info.Abandoned {
		l.stats.Abandoned++
	}
	l.statsLock.Unlock()

	l.hook(HookPosAfterTask, info)
}

// addHostEntry reports the task as a default script entry. Its self time is
// the time of the task not spent in bound entries.
func (l *Loop) addHostEntry(t *Task, start timing.Timestamp) {
	if t.Invoker == attribution.InvokerUnknown {
		return
	}

	ctx := l.engine.Context()
	if ctx == nil {
		return
	}

	duration := l.clock.Now().Sub(start)
	self := duration

	for _, e := range ctx.Entries() {
		self -= e.SelfDuration
	}

	if self < 0 {
		self = 0
	}

	l.engine.AddHostEntry(attribution.HostEntry{
		Name:         t.Name,
		InvokerType:  t.Invoker,
		StartTime:    start,
		Duration:     duration,
		SelfDuration: self,
	})
}

func (l *Loop) checkpoint() {
	for !l.abandoned {
		m, ok := l.nextMicrotask()
		if !ok {
			break
		}

		l.engine.OnMicrotaskBegin(m.handle)
		l.runGuarded(fmt.Sprintf("microtask %d", m.handle), m.run)

		if l.abandoned {
			return
		}

		l.engine.OnMicrotaskEnd(m.handle)

		l.statsLock.Lock()
		l.stats.Microtasks++
		l.statsLock.Unlock()
	}

	if !l.abandoned {
		l.engine.OnCheckpointComplete()
	}
}

func (l *Loop) nextMicrotask() (microtask, bool) {
	l.queueLock.Lock()
	defer l.queueLock.Unlock()

	if len(l.microtasks) == 0 {
		return microtask{}, false
	}

	m := l.microtasks[0]
	l.microtasks = l.microtasks[1:]

	return m, true
}

// runGuarded runs script and reports, rather than propagates, a panic that
// escapes it. The loop keeps going as a host does after an uncaught
// exception.
func (l *Loop) runGuarded(name string, run TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked = true

			l.statsLock.Lock()
			l.stats.Panics++
			l.statsLock.Unlock()

			level.Warn(l.logger).Log(
				"msg", "uncaught panic in script",
				"loop", l.name,
				"script", name,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	run(l)
}

func (l *Loop) hook(pos *hooking.HookPos, info TaskInfo) {
	if l.NumHooks() == 0 {
		return
	}

	l.InvokeHook(hooking.HookCtx{
		Domain: l,
		Pos:    pos,
		Item:   info,
	})
}

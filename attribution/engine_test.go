package attribution

import (
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/scriptentry/hooking"
	"github.com/sarchlab/scriptentry/timing"
)

const ms = time.Millisecond

type taskReport struct {
	taskID  TaskID
	records []FinishedEntryRecord
}

type pendingMicrotask struct {
	handle MicrotaskHandle
	run    func()
}

// microtaskQueue plays the part of the host's microtask queue.
type microtaskQueue struct {
	engine  *Engine
	next    MicrotaskHandle
	pending []pendingMicrotask
}

func (q *microtaskQueue) queue(run func()) {
	q.next++
	q.engine.OnMicrotaskEnqueued(q.next)
	q.pending = append(q.pending, pendingMicrotask{handle: q.next, run: run})
}

func (q *microtaskQueue) checkpoint() {
	for len(q.pending) > 0 {
		m := q.pending[0]
		q.pending = q.pending[1:]

		q.engine.OnMicrotaskBegin(m.handle)
		m.run()
		q.engine.OnMicrotaskEnd(m.handle)
	}

	q.engine.OnCheckpointComplete()
}

var _ = ginkgo.Describe("Engine", func() {
	var (
		clock    *timing.ManualClock
		engine   *Engine
		reports  []taskReport
		finished []EntryPoint
		mq       *microtaskQueue
	)

	work := func(d time.Duration) Callback {
		return func(...any) (any, error) {
			clock.Advance(d)
			return nil, nil
		}
	}

	bind := func(name string, cb Callback) Callback {
		return engine.BindWithOptions(BindOptions{Name: name, Callback: cb})
	}

	build := func(threshold time.Duration) {
		engine = MakeBuilder().
			WithClock(clock).
			WithThreshold(threshold).
			WithTimeline(TimelineFunc(
				func(id TaskID, records []FinishedEntryRecord) {
					reports = append(reports, taskReport{id, records})
				})).
			Build("Engine")

		engine.AcceptHook(hooking.OnlyAt(
			hooking.HookFunc(func(ctx hooking.HookCtx) {
				finished = append(finished, ctx.Item.(EntryPoint))
			}),
			HookPosEntryFinish,
		))

		mq = &microtaskQueue{engine: engine}
	}

	runTask := func(body func()) {
		engine.OnTaskStart()
		body()
		mq.checkpoint()
		engine.OnTaskEnd()
	}

	finishedEntry := func(name string) EntryPoint {
		for _, e := range finished {
			if e.Name == name {
				return e
			}
		}

		ginkgo.Fail("no finished entry named " + name)

		return EntryPoint{}
	}

	ginkgo.BeforeEach(func() {
		clock = timing.NewManualClock()
		reports = nil
		finished = nil
		build(DefaultThreshold)
	})

	ginkgo.It("should report a single long bound call", func() {
		f := bind("f", work(6*ms))

		runTask(func() { _, _ = f() })

		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records).To(HaveLen(1))

		r := reports[0].records[0]
		Expect(r.Name).To(Equal("f"))
		Expect(r.InvokerType).To(Equal(InvokerUserBound))
		Expect(r.Duration).To(Equal(6 * ms))
		Expect(r.SelfDuration).To(Equal(6 * ms))
		Expect(r.Degraded).To(BeFalse())
	})

	ginkgo.It("should subtract nested entries from the self duration", func() {
		inner := bind("inner", work(4*ms))
		outer := bind("outer", func(...any) (any, error) {
			clock.Advance(3 * ms)
			_, _ = inner()
			clock.Advance(3 * ms)
			return nil, nil
		})

		runTask(func() { _, _ = outer() })

		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records).To(HaveLen(1))

		r := reports[0].records[0]
		Expect(r.Name).To(Equal("outer"))
		Expect(r.Duration).To(Equal(10 * ms))
		Expect(r.SelfDuration).To(Equal(6 * ms))

		in := finishedEntry("inner")
		Expect(in.SelfDuration).To(Equal(4 * ms))
		Expect(in.Parent).To(Equal(r.ID))
		Expect(in.Depth).To(Equal(1))
	})

	ginkgo.It("should keep nested self durations within the outer duration", func() {
		build(0)

		inner := bind("B", work(2*ms))
		outer := bind("A", func(...any) (any, error) {
			clock.Advance(1 * ms)
			_, _ = inner()
			_, _ = inner()
			clock.Advance(1 * ms)
			return nil, nil
		})

		runTask(func() { _, _ = outer() })

		a := finishedEntry("A")

		var nestedSelf time.Duration
		for _, e := range finished {
			if e.Name == "B" {
				nestedSelf += e.SelfDuration
			}
		}

		Expect(a.SelfDuration + nestedSelf).To(BeNumerically("<=", a.Duration))
		Expect(a.SelfDuration).To(BeNumerically("<=", a.Duration))
		Expect(a.SelfDuration).To(Equal(2 * ms))
	})

	ginkgo.It("should create two nested entries for a double binding", func() {
		build(0)

		once := bind("once", work(6*ms))
		twice := bind("twice", once)

		runTask(func() { _, _ = twice() })

		Expect(reports[0].records).To(HaveLen(2))
		outer, inner := reports[0].records[0], reports[0].records[1]

		Expect(outer.Name).To(Equal("twice"))
		Expect(outer.Depth).To(Equal(0))
		Expect(outer.SelfDuration).To(BeZero())
		Expect(inner.Name).To(Equal("once"))
		Expect(inner.ParentID).To(Equal(outer.ID))
		Expect(inner.Depth).To(Equal(1))
		Expect(inner.SelfDuration).To(Equal(6 * ms))
	})

	ginkgo.It("should include exactly 5ms and exclude 4.999ms", func() {
		atThreshold := bind("at", work(5*ms))
		below := bind("below", work(4999*time.Microsecond))

		runTask(func() {
			_, _ = below()
			_, _ = atThreshold()
		})

		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records).To(HaveLen(1))
		Expect(reports[0].records[0].Name).To(Equal("at"))
	})

	ginkgo.It("should not report tasks without qualifying entries", func() {
		mockCtrl := gomock.NewController(ginkgo.GinkgoT())
		timeline := NewMockTimeline(mockCtrl)
		engine = MakeBuilder().
			WithClock(clock).
			WithTimeline(timeline).
			Build("Engine")
		mq = &microtaskQueue{engine: engine}

		f := bind("short", work(1*ms))
		runTask(func() { _, _ = f() })

		mockCtrl.Finish()
	})

	ginkgo.It("should attribute microtasks without double counting", func() {
		build(0)

		bound := bind("bound", work(3*ms))
		wrapper := bind("wrapper", func(...any) (any, error) {
			mq.queue(func() {
				clock.Advance(3 * ms)
				_, _ = bound()
			})
			return nil, nil
		})

		runTask(func() { _, _ = wrapper() })

		w := finishedEntry("wrapper")
		b := finishedEntry("bound")

		Expect(w.Duration).To(BeZero())
		Expect(w.SelfDuration).To(Equal(3 * ms))
		Expect(b.SelfDuration).To(Equal(3 * ms))
		Expect(b.Parent).To(Equal(w.ID))
		Expect(w.SelfDuration + b.SelfDuration).
			To(Equal(time.Duration(clock.Now())))
	})

	ginkgo.It("should let microtask time exceed the synchronous duration", func() {
		f := bind("f", func(...any) (any, error) {
			clock.Advance(1 * ms)
			mq.queue(func() { clock.Advance(5 * ms) })
			return nil, nil
		})

		runTask(func() { _, _ = f() })

		Expect(reports).To(HaveLen(1))
		r := reports[0].records[0]
		Expect(r.Duration).To(Equal(1 * ms))
		Expect(r.SelfDuration).To(Equal(6 * ms))
	})

	ginkgo.It("should not attribute microtasks queued with no active entry", func() {
		build(0)

		f := bind("f", work(1*ms))

		runTask(func() {
			_, _ = f()
			mq.queue(func() { clock.Advance(7 * ms) })
		})

		Expect(finishedEntry("f").SelfDuration).To(Equal(1 * ms))
	})

	ginkgo.It("should only finish entries after the checkpoint drains", func() {
		var id EntryID
		f := bind("f", func(...any) (any, error) {
			id = engine.Context().Current()
			mq.queue(func() { clock.Advance(1 * ms) })
			return nil, nil
		})

		engine.OnTaskStart()
		_, _ = f()

		e, ok := engine.Context().Entry(id)
		Expect(ok).To(BeTrue())
		Expect(e.State).To(Equal(StateAwaitingMicrotasks))
		Expect(engine.Context().PendingMicrotasks()).To(Equal(1))
		Expect(finished).To(BeEmpty())

		mq.checkpoint()

		e, _ = engine.Context().Entry(id)
		Expect(e.State).To(Equal(StateFinished))
		Expect(finished).To(HaveLen(1))

		engine.OnTaskEnd()
		Expect(engine.Context()).To(BeNil())
	})

	ginkgo.It("should pop the entry and rethrow when the callback panics", func() {
		build(0)

		boom := errors.New("boom")
		failing := bind("failing", func(...any) (any, error) {
			clock.Advance(2 * ms)
			panic(boom)
		})

		engine.OnTaskStart()
		Expect(func() { _, _ = failing() }).To(PanicWith(boom))
		Expect(engine.Context().Stack()).To(BeEmpty())

		mq.checkpoint()
		engine.OnTaskEnd()

		Expect(reports[0].records).To(HaveLen(1))
		r := reports[0].records[0]
		Expect(r.Duration).To(Equal(2 * ms))
		Expect(r.SelfDuration).To(Equal(2 * ms))
		Expect(r.Degraded).To(BeFalse())
	})

	ginkgo.It("should pass results and errors through unchanged", func() {
		sentinel := errors.New("sentinel")
		f := engine.Bind(func(args ...any) (any, error) {
			return args, sentinel
		}, "a", "b")

		engine.OnTaskStart()
		result, err := f("c")
		engine.OnTaskEnd()

		Expect(err).To(BeIdenticalTo(sentinel))
		Expect(result).To(Equal([]any{"a", "b", "c"}))
	})

	ginkgo.It("should infer the name from the callback", func() {
		build(0)

		f := engine.Bind(namedLongScript)
		runTask(func() { _, _ = f() })

		r := reports[0].records[0]
		Expect(r.Name).To(ContainSubstring("namedLongScript"))
		Expect(r.Source).NotTo(BeNil())
		Expect(r.Source.File).To(HaveSuffix("engine_test.go"))
	})

	ginkgo.It("should treat re-entrant invocations as independent entries", func() {
		build(0)

		calls := 0
		var f Callback
		f = bind("recursive", func(...any) (any, error) {
			calls++
			clock.Advance(1 * ms)
			if calls < 3 {
				mq.queue(func() { _, _ = f() })
			}
			return nil, nil
		})

		runTask(func() { _, _ = f() })

		Expect(reports[0].records).To(HaveLen(3))
		ids := map[EntryID]bool{}
		for _, r := range reports[0].records {
			Expect(r.Name).To(Equal("recursive"))
			Expect(r.SelfDuration).To(Equal(1 * ms))
			ids[r.ID] = true
		}
		Expect(ids).To(HaveLen(3))
	})

	ginkgo.It("should report ad hoc contexts after the next checkpoint", func() {
		f := bind("adhoc", work(6*ms))

		_, _ = f()
		Expect(engine.Context()).NotTo(BeNil())
		Expect(engine.Context().IsAdHoc()).To(BeTrue())
		Expect(reports).To(BeEmpty())

		mq.checkpoint()

		Expect(engine.Context()).To(BeNil())
		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records[0].Name).To(Equal("adhoc"))
	})

	ginkgo.It("should discard the entries of an abandoned task", func() {
		mockCtrl := gomock.NewController(ginkgo.GinkgoT())
		hook := NewMockHook(mockCtrl)
		var abandoned []Report
		hook.EXPECT().
			Func(gomock.Any()).
			Do(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosTaskAbandon {
					abandoned = append(abandoned, ctx.Item.(Report))
				}
			}).
			AnyTimes()
		engine.AcceptHook(hook)

		f := bind("f", func(...any) (any, error) {
			clock.Advance(8 * ms)
			engine.OnTaskAbandoned()
			return nil, nil
		})

		engine.OnTaskStart()
		_, _ = f()

		Expect(engine.Context()).To(BeNil())
		Expect(reports).To(BeEmpty())
		Expect(finishedEntry("f").Degraded).To(BeTrue())
		Expect(abandoned).To(HaveLen(1))
		Expect(abandoned[0].Discarded).To(Equal(1))
		Expect(abandoned[0].Records).To(BeEmpty())

		mockCtrl.Finish()
	})

	ginkgo.It("should discard script run by an abandoned task until it ends", func() {
		f := bind("f", work(2*ms))
		late := bind("late", work(6*ms))
		g := bind("g", work(6*ms))

		engine.OnTaskStart()
		_, _ = f()
		engine.OnTaskAbandoned()
		_, _ = late()
		engine.AddHostEntry(HostEntry{Name: "doomed", SelfDuration: 9 * ms})
		Expect(engine.Context()).To(BeNil())
		engine.OnTaskEnd()

		_, _ = g()
		mq.checkpoint()

		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records).To(HaveLen(1))
		Expect(reports[0].records[0].Name).To(Equal("g"))
	})

	ginkgo.It("should report host entries under the same threshold", func() {
		f := bind("bound", work(6*ms))

		runTask(func() {
			engine.AddHostEntry(HostEntry{
				Name:         "script.js",
				InvokerType:  InvokerClassicScript,
				StartTime:    0,
				Duration:     20 * ms,
				SelfDuration: 7 * ms,
			})
			engine.AddHostEntry(HostEntry{
				Name:         "listener",
				InvokerType:  InvokerEventListener,
				SelfDuration: 3 * ms,
			})
			clock.Advance(1 * ms)
			_, _ = f()
		})

		Expect(reports[0].records).To(HaveLen(2))
		Expect(reports[0].records[0].Name).To(Equal("script.js"))
		Expect(reports[0].records[0].FromHost).To(BeTrue())
		Expect(reports[0].records[1].Name).To(Equal("bound"))
	})

	ginkgo.It("should order ties outer to inner", func() {
		build(0)

		inner := bind("inner", work(1*ms))
		outer := bind("outer", inner)
		other := bind("other", work(1*ms))

		runTask(func() {
			_, _ = outer()
			_, _ = other()
		})

		names := []string{}
		for _, r := range reports[0].records {
			names = append(names, r.Name)
		}
		Expect(names).To(Equal([]string{"outer", "inner", "other"}))
	})

	ginkgo.It("should end a task that was never ended when the next one starts", func() {
		f := bind("f", work(6*ms))

		engine.OnTaskStart()
		_, _ = f()
		engine.OnTaskStart()

		Expect(reports).To(HaveLen(1))
		Expect(reports[0].records[0].Degraded).To(BeTrue())

		engine.OnTaskEnd()
		Expect(reports).To(HaveLen(1))
	})

	ginkgo.Context("when scopes exit out of order", func() {
		ginkgo.It("should force-finish the open entries without panicking", func() {
			build(0)

			var corruption StackCorruption
			engine.AcceptHook(hooking.OnlyAt(
				hooking.HookFunc(func(ctx hooking.HookCtx) {
					corruption = ctx.Item.(StackCorruption)
				}),
				HookPosStackCorruption,
			))

			engine.OnTaskStart()
			a := engine.Enter("a", InvokerUnknown)
			clock.Advance(2 * ms)
			b := engine.Enter("b", InvokerUnknown)
			clock.Advance(3 * ms)

			Expect(a.Exit).NotTo(Panic())
			Expect(b.Exit).NotTo(Panic())
			Expect(engine.Context().Stack()).To(BeEmpty())

			Expect(corruption.Popped).To(Equal(a.ID()))
			Expect(corruption.Top).To(Equal(b.ID()))
			Expect(corruption.ForceFinished).
				To(ConsistOf(a.ID(), b.ID()))

			mq.checkpoint()
			engine.OnTaskEnd()

			records := reports[0].records
			Expect(records).To(HaveLen(2))
			Expect(records[0].Degraded).To(BeTrue())
			Expect(records[0].Duration).To(Equal(5 * ms))
			Expect(records[0].SelfDuration).To(Equal(2 * ms))
			Expect(records[1].Degraded).To(BeTrue())
			Expect(records[1].Duration).To(Equal(3 * ms))
			Expect(records[1].SelfDuration).To(Equal(3 * ms))
		})

		ginkgo.It("should fall back to surviving entries of a snapshot", func() {
			build(0)

			engine.OnTaskStart()
			a := engine.Enter("a", InvokerUnknown)
			b := engine.Enter("b", InvokerUnknown)
			mq.queue(func() { clock.Advance(3 * ms) })
			b.Exit()
			d := engine.Enter("d", InvokerUnknown)
			a.Exit()
			d.Exit()

			mq.checkpoint()
			engine.OnTaskEnd()

			got := finishedEntry("b")
			Expect(got.SelfDuration).To(Equal(3 * ms))
			Expect(got.Degraded).To(BeTrue())
		})

		ginkgo.It("should drop the attribution when no entry survives", func() {
			build(0)

			misses := 0
			engine.AcceptHook(hooking.OnlyAt(
				hooking.HookFunc(func(hooking.HookCtx) { misses++ }),
				HookPosAttributionMiss,
			))

			engine.OnTaskStart()
			a := engine.Enter("a", InvokerUnknown)
			mq.queue(func() { clock.Advance(3 * ms) })
			x := engine.Enter("x", InvokerUnknown)
			a.Exit()
			x.Exit()

			mq.checkpoint()
			engine.OnTaskEnd()

			Expect(misses).To(Equal(1))
			for _, e := range finished {
				Expect(e.SelfDuration).To(BeZero())
			}
		})
	})
})

func namedLongScript(...any) (any, error) {
	return nil, nil
}

package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/host"
	"github.com/sarchlab/scriptentry/timeline"
	"github.com/sarchlab/scriptentry/timing"
)

const ms = time.Millisecond

func mustLoad(text string) *Scenario {
	s, err := Load(strings.NewReader(text))
	Expect(err).NotTo(HaveOccurred())

	return s
}

var _ = Describe("Load", func() {
	It("should decode nested steps", func() {
		s := mustLoad(`
name: click
tasks:
  - name: click
    invoker: event-listener
    steps:
      - call:
          name: onClick
          invoker: user-callback
          steps:
            - work: 4ms
            - microtask:
                - work: 1.5ms
`)

		Expect(s.Name).To(Equal("click"))
		Expect(s.Tasks).To(HaveLen(1))
		Expect(s.Tasks[0].Invoker).To(Equal(attribution.InvokerEventListener))

		call := s.Tasks[0].Steps[0].Call
		Expect(call).NotTo(BeNil())
		Expect(call.Invoker).To(Equal(attribution.InvokerUserCallback))
		Expect(call.Steps[0].Work).To(Equal(Duration(4 * ms)))
		Expect(call.Steps[1].Microtask[0].Work).To(Equal(Duration(1500 * time.Microsecond)))
	})

	It("should count repeated tasks", func() {
		s := mustLoad(`
tasks:
  - steps: [{work: 1ms}]
    repeat: 3
  - steps: [{work: 1ms}]
`)
		Expect(s.NumTasks()).To(Equal(4))
	})

	DescribeTable("should refuse malformed scenarios",
		func(text string) {
			_, err := Load(strings.NewReader(text))
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ``),
		Entry("no tasks", `name: nothing`),
		Entry("unknown field", `
tasks:
  - steps: [{sleep: 1ms}]
`),
		Entry("two actions in a step", `
tasks:
  - steps: [{work: 1ms, panic: boom}]
`),
		Entry("bad duration", `
tasks:
  - steps: [{work: soon}]
`),
		Entry("negative duration", `
tasks:
  - steps: [{work: -1ms}]
`),
		Entry("bad invoker", `
tasks:
  - invoker: mouse
    steps: [{work: 1ms}]
`),
		Entry("bad nested step", `
tasks:
  - steps:
      - call:
          steps: [{}]
`),
	)

	It("should load files and name the scenario after them", func() {
		path := filepath.Join(GinkgoT().TempDir(), "idle.yaml")
		Expect(os.WriteFile(path, []byte("tasks: [{steps: [{work: 1ms}]}]\n"), 0o600)).
			To(Succeed())

		s, err := LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Name).To(Equal(path))

		out, err := s.Marshal()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("work: 1ms"))
	})
})

var _ = Describe("Runner", func() {
	var (
		buffer *timeline.Buffer
		loop   *host.Loop
		runner *Runner
	)

	run := func(text string) []timeline.Entry {
		Expect(runner.Run(context.Background(), mustLoad(text))).To(Succeed())
		return buffer.Entries()
	}

	BeforeEach(func() {
		buffer = timeline.NewBuffer(0)
		loop = host.MakeBuilder().
			WithClock(timing.NewManualClock()).
			WithTimeline(buffer).
			Build("Loop")
		runner = NewRunner(loop)
	})

	It("should charge microtasks to the call that queued them", func() {
		entries := run(`
tasks:
  - name: click
    invoker: event-listener
    steps:
      - call:
          name: onClick
          steps:
            - work: 4ms
            - microtask:
                - work: 3ms
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("onClick"))
		Expect(entries[0].Duration).To(Equal(4 * ms))
		Expect(entries[0].SelfDuration).To(Equal(7 * ms))
	})

	It("should nest double bound calls", func() {
		entries := run(`
tasks:
  - steps:
      - call:
          name: twice
          bindTwice: true
          steps: [{work: 6ms}]
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("twice"))
		Expect(entries[0].Depth).To(Equal(1))
	})

	It("should end a call at its error and continue the caller", func() {
		entries := run(`
tasks:
  - steps:
      - call:
          name: fails
          steps:
            - work: 6ms
            - error: rejected
            - work: 10ms
      - work: 1ms
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].SelfDuration).To(Equal(6 * ms))
		Expect(loop.Now()).To(Equal(timing.Timestamp(7 * ms)))
	})

	It("should catch panics when asked to", func() {
		entries := run(`
tasks:
  - steps:
      - call:
          name: throws
          catch: true
          steps:
            - work: 6ms
            - panic: boom
      - work: 1ms
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("throws"))
		Expect(loop.Stats().Panics).To(BeZero())
		Expect(loop.Now()).To(Equal(timing.Timestamp(7 * ms)))
	})

	It("should let uncaught panics reach the host", func() {
		entries := run(`
tasks:
  - steps:
      - call:
          name: throws
          steps:
            - work: 6ms
            - panic: boom
      - work: 1ms
`)

		Expect(entries).To(HaveLen(1))
		Expect(loop.Stats().Panics).To(Equal(1))
		Expect(loop.Now()).To(Equal(timing.Timestamp(6 * ms)))
	})

	It("should degrade scopes exited out of order", func() {
		entries := run(`
tasks:
  - steps:
      - enter: {name: a}
      - enter: {name: b}
      - work: 6ms
      - exit: a
      - exit: b
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("b"))
		Expect(entries[0].Degraded).To(BeTrue())
	})

	It("should stop an abandoned task", func() {
		entries := run(`
tasks:
  - steps:
      - call:
          name: navigates
          steps:
            - work: 6ms
            - abandon: true
            - work: 10ms
      - work: 10ms
  - steps:
      - call:
          name: after
          steps: [{work: 5ms}]
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("after"))
		Expect(loop.Stats().Abandoned).To(Equal(1))
		Expect(loop.Now()).To(Equal(timing.Timestamp(11 * ms)))
	})

	It("should report delayed tasks as timer callbacks", func() {
		entries := run(`
tasks:
  - name: tick
    delay: 10ms
    steps: [{work: 6ms}]
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("tick"))
		Expect(entries[0].InvokerType).To(Equal(attribution.InvokerTimerCallback))
		Expect(entries[0].FromHost).To(BeTrue())
		Expect(entries[0].StartTime).To(Equal(timing.Timestamp(10 * ms)))
	})

	It("should report script run outside of tasks", func() {
		entries := run(`
outside:
  - call:
      name: inline
      invoker: classic-script
      steps: [{work: 5ms}]
`)

		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("inline"))
		Expect(entries[0].InvokerType).To(Equal(attribution.InvokerClassicScript))
	})

	It("should refuse to exit unknown scopes", func() {
		entries := run(`
tasks:
  - steps:
      - exit: nowhere
      - work: 6ms
`)

		Expect(entries).To(BeEmpty())
		Expect(loop.Now()).To(BeZero())
	})
})

package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/host"
)

// Runner replays scenarios on a loop.
type Runner struct {
	loop   *host.Loop
	logger log.Logger
	scopes map[string]*attribution.Scope

	// halted stops the rest of a task once it is abandoned.
	halted bool
}

var errHalted = errors.New("task abandoned")

// NewRunner creates a runner that posts to loop.
func NewRunner(loop *host.Loop) *Runner {
	return &Runner{
		loop:   loop,
		logger: log.NewNopLogger(),
		scopes: make(map[string]*attribution.Scope),
	}
}

// WithLogger sets the logger for errors returned by calls.
func (r *Runner) WithLogger(logger log.Logger) *Runner {
	r.logger = logger
	return r
}

// Schedule runs the outside steps right away and posts the tasks.
func (r *Runner) Schedule(s *Scenario) {
	if len(s.Outside) > 0 {
		r.loop.RunOutsideTask("outside", r.script("outside", s.Outside))
	}

	for i := range s.Tasks {
		t := s.Tasks[i]

		name := t.Name
		if name == "" {
			name = fmt.Sprintf("task %d", i)
		}

		invoker := t.Invoker
		if invoker == attribution.InvokerUnknown && t.Delay > 0 {
			invoker = attribution.InvokerTimerCallback
		}

		for n := 0; n < t.times(); n++ {
			r.loop.Post(host.Task{
				Name:    name,
				At:      r.loop.Now().Add(time.Duration(t.Delay)),
				Invoker: invoker,
				Run:     r.script(name, t.Steps),
			})
		}
	}
}

// Run schedules the scenario and runs the loop until it is idle.
func (r *Runner) Run(ctx context.Context, s *Scenario) error {
	r.Schedule(s)

	if err := r.loop.Run(ctx); err != nil {
		return errors.Wrapf(err, "running scenario %s", s.Name)
	}

	if len(r.scopes) > 0 {
		level.Warn(r.logger).Log(
			"msg", "scenario left scopes open",
			"scenario", s.Name,
			"scopes", len(r.scopes),
		)
	}

	return nil
}

// script turns steps into the body of a task.
func (r *Runner) script(name string, steps []Step) host.TaskFunc {
	return func(l *host.Loop) {
		r.halted = false

		err := r.runSteps(l, steps)
		if err != nil && !errors.Is(err, errHalted) {
			level.Warn(r.logger).Log("msg", "script failed", "script", name, "err", err)
		}
	}
}

// runSteps executes steps until one of them returns an error.
func (r *Runner) runSteps(l *host.Loop, steps []Step) error {
	for i := range steps {
		if r.halted {
			return errHalted
		}

		if err := r.runStep(l, &steps[i]); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) runStep(l *host.Loop, st *Step) error {
	switch {
	case st.Work > 0:
		l.Busy(time.Duration(st.Work))
	case st.Call != nil:
		r.call(l, st.Call)
	case st.Microtask != nil:
		l.QueueMicrotask(r.script("microtask", st.Microtask))
	case st.Enter != nil:
		r.scopes[st.Enter.label()] = l.Engine().Enter(st.Enter.Name, st.Enter.Invoker)
	case st.Exit != "":
		scope, ok := r.scopes[st.Exit]
		if !ok {
			return errors.Errorf("exit of unknown scope %q", st.Exit)
		}

		delete(r.scopes, st.Exit)
		scope.Exit()
	case st.Panic != "":
		panic(st.Panic)
	case st.Error != "":
		return errors.New(st.Error)
	case st.Abandon:
		l.Abandon()
		r.halted = true

		return errHalted
	}

	return nil
}

func (r *Runner) call(l *host.Loop, c *Call) {
	engine := l.Engine()

	body := func(...any) (any, error) {
		return nil, r.runSteps(l, c.Steps)
	}

	opts := attribution.BindOptions{
		Callback:    body,
		Name:        c.Name,
		InvokerType: c.Invoker,
	}

	bound := engine.BindWithOptions(opts)
	if c.BindTwice {
		opts.Callback = bound
		bound = engine.BindWithOptions(opts)
	}

	if c.Catch {
		defer func() {
			if p := recover(); p != nil {
				level.Debug(r.logger).Log("msg", "caught panic", "call", c.Name, "panic", fmt.Sprint(p))
			}
		}()
	}

	if _, err := bound(); err != nil && !errors.Is(err, errHalted) {
		level.Debug(r.logger).Log("msg", "call returned error", "call", c.Name, "err", err)
	}
}

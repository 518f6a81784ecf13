// Package scenario describes script workloads in YAML and replays them on a
// simulated host.
//
// A scenario is a list of tasks. Each task runs a list of steps: busy work,
// calls to bound functions, microtasks, manually entered scopes, panics and
// errors. Steps nest, so a call can do work and queue microtasks that call
// more bound functions.
//
//	name: click
//	tasks:
//	  - name: click
//	    invoker: event-listener
//	    steps:
//	      - call:
//	          name: onClick
//	          steps:
//	            - work: 4ms
//	            - microtask:
//	                - work: 3ms
package scenario

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/scriptentry/attribution"
)

// Duration is a time.Duration written as "4ms" or "1.5s" in scenario files.
type Duration time.Duration

// UnmarshalYAML parses the duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrapf(err, "line %d: malformed duration", value.Line)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}

	if parsed < 0 {
		return errors.Errorf("line %d: negative duration %s", value.Line, s)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML writes the duration back in its text form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Scenario is a workload.
type Scenario struct {
	Name string `yaml:"name"`

	// Outside is script run before the first task, outside of any task, as
	// inline scripts run during parsing.
	Outside []Step `yaml:"outside,omitempty"`

	Tasks []Task `yaml:"tasks"`
}

// Task is posted to the host task queue.
type Task struct {
	Name string `yaml:"name"`

	// Delay postpones the task, as a timer does. Delayed tasks default to
	// the timer-callback invoker.
	Delay Duration `yaml:"delay,omitempty"`

	// Invoker makes the host report the task's own time as a host entry.
	Invoker attribution.InvokerType `yaml:"invoker,omitempty"`

	// Repeat posts the task this many times. Zero means once.
	Repeat int `yaml:"repeat,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one action. Exactly one field must be set.
type Step struct {
	// Work keeps the script busy.
	Work Duration `yaml:"work,omitempty"`

	// Call invokes a bound function.
	Call *Call `yaml:"call,omitempty"`

	// Microtask queues the steps as a microtask.
	Microtask []Step `yaml:"microtask,omitempty"`

	// Enter opens a scope that a later Exit closes.
	Enter *Scope `yaml:"enter,omitempty"`

	// Exit closes the scope with the given label.
	Exit string `yaml:"exit,omitempty"`

	// Panic panics with the message.
	Panic string `yaml:"panic,omitempty"`

	// Error makes the enclosing call return an error.
	Error string `yaml:"error,omitempty"`

	// Abandon tears down the current task.
	Abandon bool `yaml:"abandon,omitempty"`
}

// Call is the invocation of a function bound to the engine.
type Call struct {
	// Name labels the entry. Empty uses the name of the interpreter
	// function.
	Name    string                  `yaml:"name,omitempty"`
	Invoker attribution.InvokerType `yaml:"invoker,omitempty"`

	// BindTwice binds the function again, which produces two nested
	// entries per call.
	BindTwice bool `yaml:"bindTwice,omitempty"`

	// Catch recovers a panic that escapes the call and lets the caller
	// continue.
	Catch bool `yaml:"catch,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Scope is a manually entered entry.
type Scope struct {
	// Label is what Exit refers to. It defaults to Name.
	Label   string                  `yaml:"label,omitempty"`
	Name    string                  `yaml:"name"`
	Invoker attribution.InvokerType `yaml:"invoker,omitempty"`
}

func (s *Scope) label() string {
	if s.Label != "" {
		return s.Label
	}

	return s.Name
}

// Load decodes and validates a scenario. Unknown fields are errors.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	s := &Scenario{}
	if err := dec.Decode(s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}

		return nil, errors.Wrap(err, "decoding scenario")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// LoadFile loads the scenario stored in path.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading scenario")
	}

	s, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	if s.Name == "" {
		s.Name = path
	}

	return s, nil
}

// Marshal encodes the scenario as YAML.
func (s *Scenario) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(s)
	return out, errors.Wrap(err, "encoding scenario")
}

// NumTasks returns the number of tasks the scenario posts.
func (s *Scenario) NumTasks() int {
	n := 0
	for _, t := range s.Tasks {
		n += t.times()
	}

	return n
}

func (t *Task) times() int {
	if t.Repeat <= 0 {
		return 1
	}

	return t.Repeat
}

// Validate checks that every step sets exactly one action.
func (s *Scenario) Validate() error {
	if len(s.Tasks) == 0 && len(s.Outside) == 0 {
		return errors.New("scenario has no tasks")
	}

	if err := validateSteps(s.Outside, "outside"); err != nil {
		return err
	}

	for i, t := range s.Tasks {
		if t.Repeat < 0 {
			return errors.Errorf("task %d (%s): negative repeat", i, t.Name)
		}

		if err := validateSteps(t.Steps, "task "+t.Name); err != nil {
			return err
		}
	}

	return nil
}

func validateSteps(steps []Step, where string) error {
	for i, st := range steps {
		if n := st.numActions(); n != 1 {
			return errors.Errorf("%s, step %d: expected one action, got %d", where, i, n)
		}

		switch {
		case st.Call != nil:
			if err := validateSteps(st.Call.Steps, where+" > "+st.Call.Name); err != nil {
				return err
			}
		case st.Microtask != nil:
			if err := validateSteps(st.Microtask, where+" > microtask"); err != nil {
				return err
			}
		case st.Enter != nil && st.Enter.label() == "":
			return errors.Errorf("%s, step %d: scope needs a name", where, i)
		}
	}

	return nil
}

func (s *Step) numActions() int {
	n := 0

	set := []bool{
		s.Work > 0,
		s.Call != nil,
		s.Microtask != nil,
		s.Enter != nil,
		s.Exit != "",
		s.Panic != "",
		s.Error != "",
		s.Abandon,
	}
	for _, b := range set {
		if b {
			n++
		}
	}

	return n
}

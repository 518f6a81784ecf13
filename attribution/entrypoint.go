package attribution

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/scriptentry/timing"
)

// EntryID identifies one activation of a bound function. Zero means none.
type EntryID uint64

// TaskID identifies one task execution context.
type TaskID uint64

// InvokerType classifies how an entry point was invoked.
type InvokerType int

// The invoker types known to the engine.
const (
	InvokerUnknown InvokerType = iota
	InvokerUserBound
	InvokerEventListener
	InvokerTimerCallback
	InvokerUserCallback
	InvokerResolvePromise
	InvokerRejectPromise
	InvokerClassicScript
	InvokerModuleScript
	numInvokerTypes
)

var invokerTypeNames = [numInvokerTypes]string{
	InvokerUnknown:        "unknown",
	InvokerUserBound:      "user-bound",
	InvokerEventListener:  "event-listener",
	InvokerTimerCallback:  "timer-callback",
	InvokerUserCallback:   "user-callback",
	InvokerResolvePromise: "resolve-promise",
	InvokerRejectPromise:  "reject-promise",
	InvokerClassicScript:  "classic-script",
	InvokerModuleScript:   "module-script",
}

func (t InvokerType) String() string {
	if t < 0 || t >= numInvokerTypes {
		return fmt.Sprintf("InvokerType(%d)", int(t))
	}

	return invokerTypeNames[t]
}

// ParseInvokerType converts the timeline name of an invoker type, such as
// "event-listener", back to an InvokerType.
func ParseInvokerType(s string) (InvokerType, error) {
	for i, name := range invokerTypeNames {
		if name == s {
			return InvokerType(i), nil
		}
	}

	return InvokerUnknown, errors.Errorf("unknown invoker type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t InvokerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *InvokerType) UnmarshalText(text []byte) error {
	parsed, err := ParseInvokerType(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// State is the lifecycle state of an entry point.
type State int

// An entry is Active while its synchronous call runs, AwaitingMicrotasks after
// the call returns and until the checkpoint drains, and Finished afterwards.
const (
	StateActive State = iota
	StateAwaitingMicrotasks
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAwaitingMicrotasks:
		return "awaiting-microtasks"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SourceInfo locates the function behind an entry point.
type SourceInfo struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// IsZero reports whether no source location is known.
func (s SourceInfo) IsZero() bool {
	return s.Function == "" && s.File == ""
}

// ShortName returns the function name without its package path.
func (s SourceInfo) ShortName() string {
	return path.Base(s.Function)
}

func (s SourceInfo) String() string {
	if s.IsZero() {
		return ""
	}

	return fmt.Sprintf("%s (%s:%d)", s.Function, s.File, s.Line)
}

func sourceOf(fn any) SourceInfo {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return SourceInfo{}
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return SourceInfo{}
	}

	file, line := f.FileLine(f.Entry())

	return SourceInfo{
		Function: strings.TrimSuffix(f.Name(), "-fm"),
		File:     file,
		Line:     line,
	}
}

// EntryPoint is one activation of a bound function.
type EntryPoint struct {
	ID          EntryID
	Name        string
	InvokerType InvokerType
	Source      SourceInfo

	// StartTime is taken when the wrapped function is invoked. EndTime and
	// Duration are set when the synchronous call returns.
	StartTime timing.Timestamp
	EndTime   timing.Timestamp
	Duration  time.Duration

	// SelfDuration is the time during which this entry was the innermost
	// attribution context, including attributed microtasks.
	SelfDuration time.Duration

	Parent   EntryID
	Children []EntryID
	Depth    int
	State    State

	// Degraded marks entries whose durations are best-effort because the
	// stack was corrupted, the task ended early or an attribution was lost.
	Degraded bool

	pendingMicrotasks int
}

func (e *EntryPoint) returnAt(now timing.Timestamp) {
	e.EndTime = now
	e.Duration = now.Sub(e.StartTime)
	e.State = StateAwaitingMicrotasks
}

func (e *EntryPoint) forceFinish(now timing.Timestamp) {
	if e.State == StateActive {
		e.EndTime = now
		e.Duration = now.Sub(e.StartTime)
	}

	e.State = StateFinished
	e.Degraded = true
}

func (e *EntryPoint) clone() EntryPoint {
	c := *e
	c.Children = append([]EntryID(nil), e.Children...)

	return c
}

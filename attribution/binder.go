package attribution

// Callback is a function that can be bound as a script entry point. Results
// and errors pass through the binding unchanged.
type Callback func(args ...any) (any, error)

// BindOptions configures a binding.
type BindOptions struct {
	// Callback is the wrapped function. It must not be nil.
	Callback Callback

	// Name labels the entries. When empty, the name of the callback's
	// function symbol is used.
	Name string

	// PrependArguments are passed to the callback before the call-time
	// arguments.
	PrependArguments []any

	// InvokerType classifies the entries. Defaults to InvokerUserBound.
	InvokerType InvokerType
}

// Bind returns a callable that records an entry point every time it is
// invoked and then calls cb with prependArgs followed by the call-time
// arguments.
func (e *Engine) Bind(cb Callback, prependArgs ...any) Callback {
	return e.BindWithOptions(BindOptions{
		Callback:         cb,
		PrependArguments: prependArgs,
	})
}

// BindWithOptions is Bind with a name and invoker type.
//
// The entry is popped on every exit path of the callback. Returned values and
// errors are passed through as they are and panics keep propagating after the
// entry is popped.
func (e *Engine) BindWithOptions(opts BindOptions) Callback {
	if opts.Callback == nil {
		panic("callback must not be nil")
	}

	cb := opts.Callback
	source := sourceOf(cb)

	name := opts.Name
	if name == "" {
		name = source.ShortName()
	}

	invoker := opts.InvokerType
	if invoker == InvokerUnknown {
		invoker = InvokerUserBound
	}

	prepend := append([]any(nil), opts.PrependArguments...)

	return func(args ...any) (any, error) {
		scope := e.enter(name, invoker, source)
		defer scope.Exit()

		if len(prepend) == 0 {
			return cb(args...)
		}

		all := make([]any, 0, len(prepend)+len(args))
		all = append(all, prepend...)
		all = append(all, args...)

		return cb(all...)
	}
}

// Scope is an entry opened with Enter. It must be closed with Exit, usually
// deferred right after Enter:
//
//	defer engine.Enter("layout", attribution.InvokerUserBound).Exit()
type Scope struct {
	engine *Engine
	ctx    *TaskContext
	id     EntryID
	exited bool
}

// Enter pushes a new entry point. Scopes must be exited in reverse order of
// entering; exiting out of order drops the whole stack of the task.
func (e *Engine) Enter(name string, invoker InvokerType) *Scope {
	if invoker == InvokerUnknown {
		invoker = InvokerUserBound
	}

	return e.enter(name, invoker, SourceInfo{})
}

// ID returns the id of the entry the scope opened.
func (s *Scope) ID() EntryID {
	return s.id
}

// Exit ends the synchronous part of the entry. Calling it more than once has
// no effect.
func (s *Scope) Exit() {
	if s.exited {
		return
	}

	s.exited = true
	s.engine.exit(s.ctx, s.id)
}

// Package hooking lets observers attach to the points where the attribution
// engine changes state.
package hooking

// HookPos names a point where hooks may fire.
type HookPos struct {
	Name string
}

// HookCtx carries everything a hook needs to know about the site that
// triggered it.
type HookCtx struct {
	// Domain is the hookable object that raised the hook.
	Domain Hookable

	// Pos identifies where the hook fired.
	Pos *HookPos

	// Item is the subject of the hook, such as an entry or a report.
	Item any

	// Detail holds optional auxiliary data and may be nil.
	Detail any
}

// Hookable is an object that accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook. Hooks are registered while the domain is
	// being set up and stay attached for its lifetime.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook

	// InvokeHook triggers the registered hooks.
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// OnlyAt returns a hook that forwards to h only when fired at one of the
// given positions.
func OnlyAt(h Hook, positions ...*HookPos) Hook {
	return &positionFilter{hook: h, positions: positions}
}

type positionFilter struct {
	hook      Hook
	positions []*HookPos
}

func (f *positionFilter) Func(ctx HookCtx) {
	for _, p := range f.positions {
		if p == ctx.Pos {
			f.hook.Func(ctx)
			return
		}
	}
}

// HookableBase implements Hookable and is meant to be embedded.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{hookList: make([]Hook, 0)}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, existing := range h.hookList {
		if existing == hook {
			panic("duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)

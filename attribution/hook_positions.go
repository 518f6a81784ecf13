package attribution

import "github.com/sarchlab/scriptentry/hooking"

// Hook positions raised by the Engine. The Item of each HookCtx is noted next
// to the position.
var (
	// HookPosTaskStart fires when a task context is created. Item: TaskID.
	HookPosTaskStart = &hooking.HookPos{Name: "TaskStart"}

	// HookPosEntryStart fires after an entry is pushed. Item: EntryPoint.
	HookPosEntryStart = &hooking.HookPos{Name: "EntryStart"}

	// HookPosEntryReturn fires when the synchronous call of an entry
	// returns. Item: EntryPoint.
	HookPosEntryReturn = &hooking.HookPos{Name: "EntryReturn"}

	// HookPosEntryFinish fires when an entry reaches the Finished state.
	// Item: EntryPoint.
	HookPosEntryFinish = &hooking.HookPos{Name: "EntryFinish"}

	// HookPosMicrotaskAttributed fires when a microtask starts running with
	// a restored attribution stack. Item: MicrotaskAttribution.
	HookPosMicrotaskAttributed = &hooking.HookPos{Name: "MicrotaskAttributed"}

	// HookPosAttributionMiss fires when none of the entries a microtask was
	// tagged with survive. Item: MicrotaskAttribution.
	HookPosAttributionMiss = &hooking.HookPos{Name: "AttributionMiss"}

	// HookPosStackCorruption fires when an entry is popped out of order.
	// Item: StackCorruption.
	HookPosStackCorruption = &hooking.HookPos{Name: "StackCorruption"}

	// HookPosTaskReport fires when a task ends. Item: Report.
	HookPosTaskReport = &hooking.HookPos{Name: "TaskReport"}

	// HookPosTaskAbandon fires when a task is torn down without reporting.
	// Item: Report, with the dropped entries counted in Discarded.
	HookPosTaskAbandon = &hooking.HookPos{Name: "TaskAbandon"}
)

// MicrotaskAttribution describes the attribution context a microtask ran
// with.
type MicrotaskAttribution struct {
	TaskID   TaskID
	Handle   MicrotaskHandle
	Snapshot []EntryID
	Stack    []EntryID
	Fallback bool
}

// StackCorruption describes an out-of-order pop.
type StackCorruption struct {
	TaskID        TaskID
	Popped        EntryID
	Top           EntryID
	ForceFinished []EntryID
}

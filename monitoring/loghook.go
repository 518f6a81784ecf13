package monitoring

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/hooking"
)

// LogHook is a hook that writes the attribution events of an Engine to a
// go-kit logger. Entry events are logged at debug level, task reports at
// info level and anomalies at warn level.
type LogHook struct {
	logger log.Logger
}

// NewLogHook returns a LogHook that writes to logger.
func NewLogHook(logger log.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Func writes the event carried by ctx.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case attribution.HookPosTaskStart:
		level.Debug(h.logger).Log("msg", "task started", "task", ctx.Item)
	case attribution.HookPosEntryStart,
		attribution.HookPosEntryReturn,
		attribution.HookPosEntryFinish:
		h.logEntry(ctx)
	case attribution.HookPosMicrotaskAttributed:
		a := ctx.Item.(attribution.MicrotaskAttribution)
		level.Debug(h.logger).Log(
			"msg", "microtask attributed",
			"task", a.TaskID,
			"microtask", a.Handle,
			"stack", len(a.Stack),
			"fallback", a.Fallback,
		)
	case attribution.HookPosAttributionMiss:
		a := ctx.Item.(attribution.MicrotaskAttribution)
		level.Warn(h.logger).Log(
			"msg", "microtask attribution missed",
			"task", a.TaskID,
			"microtask", a.Handle,
		)
	case attribution.HookPosStackCorruption:
		c := ctx.Item.(attribution.StackCorruption)
		level.Warn(h.logger).Log(
			"msg", "entry stack corrupted",
			"task", c.TaskID,
			"popped", c.Popped,
			"top", c.Top,
			"force_finished", len(c.ForceFinished),
		)
	case attribution.HookPosTaskReport:
		r := ctx.Item.(attribution.Report)
		level.Info(h.logger).Log(
			"msg", "task reported",
			"task", r.TaskID,
			"long_entries", len(r.Records),
			"discarded", r.Discarded,
		)
	case attribution.HookPosTaskAbandon:
		r := ctx.Item.(attribution.Report)
		level.Warn(h.logger).Log(
			"msg", "task abandoned",
			"task", r.TaskID,
			"discarded", r.Discarded,
		)
	}
}

func (h *LogHook) logEntry(ctx hooking.HookCtx) {
	e := ctx.Item.(attribution.EntryPoint)

	level.Debug(h.logger).Log(
		"msg", "entry "+ctx.Pos.Name,
		"entry", e.ID,
		"name", e.Name,
		"invoker", e.InvokerType,
		"depth", e.Depth,
		"start", e.StartTime,
		"duration", e.Duration,
		"self", e.SelfDuration,
		"degraded", e.Degraded,
	)
}

package attribution

import (
	"sort"
	"time"

	"github.com/sarchlab/scriptentry/timing"
)

// DefaultThreshold is the minimum self duration an entry needs to be
// reported as a long script.
const DefaultThreshold = 5 * time.Millisecond

// FinishedEntryRecord is the reported form of a finished entry point.
type FinishedEntryRecord struct {
	ID           EntryID          `json:"id"`
	ParentID     EntryID          `json:"parentId,omitempty"`
	Name         string           `json:"name"`
	InvokerType  InvokerType      `json:"invokerType"`
	StartTime    timing.Timestamp `json:"startTime"`
	Duration     time.Duration    `json:"duration"`
	SelfDuration time.Duration    `json:"selfDuration"`
	Depth        int              `json:"depth"`
	Degraded     bool             `json:"degraded,omitempty"`
	FromHost     bool             `json:"fromHost,omitempty"`
	Source       *SourceInfo      `json:"sourceInfo,omitempty"`
}

// HostEntry is a default script entry measured by the host itself, such as
// the execution of a classic script or an unbound event listener.
type HostEntry struct {
	Name         string
	InvokerType  InvokerType
	StartTime    timing.Timestamp
	Duration     time.Duration
	SelfDuration time.Duration
	Source       SourceInfo
}

// Timeline receives the records of each task that qualify for reporting.
// Records are ordered by start time, outer entries first on ties.
type Timeline interface {
	ReportEntries(taskID TaskID, records []FinishedEntryRecord)
}

// TimelineFunc adapts a function to the Timeline interface.
type TimelineFunc func(taskID TaskID, records []FinishedEntryRecord)

// ReportEntries calls f.
func (f TimelineFunc) ReportEntries(taskID TaskID, records []FinishedEntryRecord) {
	f(taskID, records)
}

type discardTimeline struct{}

func (discardTimeline) ReportEntries(TaskID, []FinishedEntryRecord) {}

// Report is the item carried by HookPosTaskReport.
type Report struct {
	TaskID    TaskID
	Records   []FinishedEntryRecord
	Discarded int
}

func recordOf(e *EntryPoint) FinishedEntryRecord {
	r := FinishedEntryRecord{
		ID:           e.ID,
		ParentID:     e.Parent,
		Name:         e.Name,
		InvokerType:  e.InvokerType,
		StartTime:    e.StartTime,
		Duration:     e.Duration,
		SelfDuration: e.SelfDuration,
		Depth:        e.Depth,
		Degraded:     e.Degraded,
	}

	if !e.Source.IsZero() {
		src := e.Source
		r.Source = &src
	}

	return r
}

func qualifies(self, threshold time.Duration) bool {
	return self >= threshold
}

// selectRecords applies the threshold to the finished entries and host
// entries of the context and orders the survivors. It also returns how many
// candidates fell below the threshold.
func (c *TaskContext) selectRecords(threshold time.Duration) (
	[]FinishedEntryRecord, int,
) {
	var (
		records   []FinishedEntryRecord
		discarded int
	)

	for _, id := range c.order {
		e := c.entries[id]
		if e.State != StateFinished {
			continue
		}

		if !qualifies(e.SelfDuration, threshold) {
			discarded++
			continue
		}

		records = append(records, recordOf(e))
	}

	for _, h := range c.hostEntries {
		if !qualifies(h.SelfDuration, threshold) {
			discarded++
			continue
		}

		records = append(records, h)
	}

	sortRecords(records)

	return records, discarded
}

func sortRecords(records []FinishedEntryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]

		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}

		// A host entry encloses the bound entries of its task.
		if a.FromHost != b.FromHost {
			return a.FromHost
		}

		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}

		return a.ID < b.ID
	})
}

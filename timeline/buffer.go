// Package timeline provides the sinks that receive the long script entries
// reported by the attribution engine.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/scriptentry/attribution"
)

// DefaultCapacity is the number of entries a Buffer keeps when no capacity is
// given.
const DefaultCapacity = 200

// Entry is a reported record together with the task it belongs to.
type Entry struct {
	TaskID attribution.TaskID `json:"taskId"`
	attribution.FinishedEntryRecord
}

// TaskSummary aggregates the buffered entries of one task.
type TaskSummary struct {
	TaskID       attribution.TaskID `json:"taskId"`
	Entries      int                `json:"entries"`
	SelfDuration time.Duration      `json:"selfDuration"`
	Degraded     int                `json:"degraded"`
}

// A Buffer keeps the most recent reported entries up to its capacity. Once
// full, new entries are dropped and counted. Observers see every report,
// including the entries the buffer dropped.
//
// Buffer is safe for concurrent use, so it can be read by an HTTP server
// while the host loop reports to it.
type Buffer struct {
	lock      sync.RWMutex
	capacity  int
	entries   []Entry
	dropped   int
	observers []attribution.Timeline
}

// NewBuffer creates a Buffer. A non-positive capacity selects
// DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{capacity: capacity}
}

// Observe registers a sink that is called synchronously with every report.
func (b *Buffer) Observe(o attribution.Timeline) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.observers = append(b.observers, o)
}

// ReportEntries implements attribution.Timeline.
func (b *Buffer) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	if len(records) == 0 {
		return
	}

	b.lock.Lock()
	for _, r := range records {
		if len(b.entries) >= b.capacity {
			b.dropped++
			continue
		}

		b.entries = append(b.entries, Entry{TaskID: taskID, FinishedEntryRecord: r})
	}

	observers := append([]attribution.Timeline(nil), b.observers...)
	b.lock.Unlock()

	for _, o := range observers {
		o.ReportEntries(taskID, records)
	}
}

// Capacity returns the maximum number of buffered entries.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Size returns the number of buffered entries.
func (b *Buffer) Size() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.entries)
}

// Dropped returns how many entries were dropped because the buffer was full.
func (b *Buffer) Dropped() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return b.dropped
}

// Entries returns a copy of the buffered entries in report order.
func (b *Buffer) Entries() []Entry {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return append([]Entry(nil), b.entries...)
}

// TaskEntries returns the buffered entries of one task.
func (b *Buffer) TaskEntries(taskID attribution.TaskID) []Entry {
	b.lock.RLock()
	defer b.lock.RUnlock()

	var list []Entry

	for _, e := range b.entries {
		if e.TaskID == taskID {
			list = append(list, e)
		}
	}

	return list
}

// Take returns the buffered entries and empties the buffer. The drop count is
// kept.
func (b *Buffer) Take() []Entry {
	b.lock.Lock()
	defer b.lock.Unlock()

	list := b.entries
	b.entries = nil

	return list
}

// Clear removes the buffered entries and resets the drop count.
func (b *Buffer) Clear() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.entries = nil
	b.dropped = 0
}

// Tasks summarizes the buffered entries per task, ordered by task id.
func (b *Buffer) Tasks() []TaskSummary {
	b.lock.RLock()
	defer b.lock.RUnlock()

	byTask := make(map[attribution.TaskID]*TaskSummary)
	for _, e := range b.entries {
		s, ok := byTask[e.TaskID]
		if !ok {
			s = &TaskSummary{TaskID: e.TaskID}
			byTask[e.TaskID] = s
		}

		s.Entries++
		s.SelfDuration += e.SelfDuration

		if e.Degraded {
			s.Degraded++
		}
	}

	list := make([]TaskSummary, 0, len(byTask))
	for _, s := range byTask {
		list = append(list, *s)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].TaskID < list[j].TaskID
	})

	return list
}

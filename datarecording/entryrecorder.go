package datarecording

import (
	"context"
	"time"

	"github.com/sarchlab/scriptentry/attribution"
)

// EntryTable is the name of the table that holds reported entries.
const EntryTable = "long_script_entries"

// EntryRow is the stored form of a reported entry. Times are in
// milliseconds.
type EntryRow struct {
	TaskID       uint64
	ID           uint64
	ParentID     uint64
	Name         string
	InvokerType  string
	StartTime    float64
	Duration     float64
	SelfDuration float64
	Depth        int
	Degraded     bool
	FromHost     bool
	Function     string
	File         string
	Line         int
}

// EntryRowOf converts a reported record.
func EntryRowOf(
	taskID attribution.TaskID,
	r attribution.FinishedEntryRecord,
) EntryRow {
	row := EntryRow{
		TaskID:       uint64(taskID),
		ID:           uint64(r.ID),
		ParentID:     uint64(r.ParentID),
		Name:         r.Name,
		InvokerType:  r.InvokerType.String(),
		StartTime:    r.StartTime.Milliseconds(),
		Duration:     toMillis(r.Duration),
		SelfDuration: toMillis(r.SelfDuration),
		Depth:        r.Depth,
		Degraded:     r.Degraded,
		FromHost:     r.FromHost,
	}

	if r.Source != nil {
		row.Function = r.Source.Function
		row.File = r.Source.File
		row.Line = r.Source.Line
	}

	return row
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// EntryRecorder is a Timeline that writes every reported entry to a
// DataRecorder.
type EntryRecorder struct {
	recorder DataRecorder
}

// NewEntryRecorder creates the entry table on the recorder.
func NewEntryRecorder(recorder DataRecorder) *EntryRecorder {
	recorder.CreateTable(EntryTable, EntryRow{})

	return &EntryRecorder{recorder: recorder}
}

// ReportEntries implements attribution.Timeline.
func (r *EntryRecorder) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	for _, rec := range records {
		r.recorder.InsertData(EntryTable, EntryRowOf(taskID, rec))
	}
}

// Flush writes buffered entries to the database.
func (r *EntryRecorder) Flush() {
	r.recorder.Flush()
}

// QueryEntries reads entries back from a recording, slowest self time first.
func QueryEntries(
	ctx context.Context,
	reader DataReader,
	params QueryParams,
) ([]EntryRow, int, error) {
	reader.MapTable(EntryTable, EntryRow{})

	if params.OrderBy == "" {
		params.OrderBy = "SelfDuration DESC, StartTime ASC"
	}

	results, total, err := reader.Query(ctx, EntryTable, params)
	if err != nil {
		return nil, 0, err
	}

	rows := make([]EntryRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, *r.(*EntryRow))
	}

	return rows, total, nil
}

package timeline

import "github.com/sarchlab/scriptentry/attribution"

// Multi forwards every report to each of its sinks in order.
type Multi []attribution.Timeline

// ReportEntries implements attribution.Timeline.
func (m Multi) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	for _, t := range m {
		t.ReportEntries(taskID, records)
	}
}

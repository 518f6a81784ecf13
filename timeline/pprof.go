package timeline

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/pkg/errors"

	"github.com/sarchlab/scriptentry/attribution"
)

type frameKey struct {
	name string
	file string
	line int
}

// ProfileWriter accumulates reported entries into a pprof profile. Each
// entry becomes a sample whose stack holds the entry and its reported
// ancestors. Sample values are the entry count, the self time and the
// duration.
type ProfileWriter struct {
	lock    sync.Mutex
	records map[attribution.TaskID]map[attribution.EntryID]attribution.FinishedEntryRecord
	order   []Entry
}

// NewProfileWriter creates an empty ProfileWriter.
func NewProfileWriter() *ProfileWriter {
	return &ProfileWriter{
		records: make(
			map[attribution.TaskID]map[attribution.EntryID]attribution.FinishedEntryRecord),
	}
}

// ReportEntries implements attribution.Timeline.
func (p *ProfileWriter) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	p.lock.Lock()
	defer p.lock.Unlock()

	byID, ok := p.records[taskID]
	if !ok {
		byID = make(map[attribution.EntryID]attribution.FinishedEntryRecord)
		p.records[taskID] = byID
	}

	for _, r := range records {
		byID[r.ID] = r
		p.order = append(p.order, Entry{TaskID: taskID, FinishedEntryRecord: r})
	}
}

// Profile builds the profile from the entries reported so far.
func (p *ProfileWriter) Profile() *profile.Profile {
	p.lock.Lock()
	defer p.lock.Unlock()

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "entries", Unit: "count"},
			{Type: "self", Unit: "nanoseconds"},
			{Type: "duration", Unit: "nanoseconds"},
		},
		PeriodType:        &profile.ValueType{Type: "self", Unit: "nanoseconds"},
		Period:            1,
		DefaultSampleType: "self",
		TimeNanos:         time.Now().UnixNano(),
	}

	functions := make(map[frameKey]*profile.Function)
	locations := make(map[frameKey]*profile.Location)

	locationOf := func(r attribution.FinishedEntryRecord) *profile.Location {
		key := frameKey{name: r.Name}
		if r.Source != nil {
			key.file = r.Source.File
			key.line = r.Source.Line
		}

		if loc, ok := locations[key]; ok {
			return loc
		}

		fn, ok := functions[key]
		if !ok {
			fn = &profile.Function{
				ID:        uint64(len(prof.Function) + 1),
				Name:      r.Name,
				Filename:  key.file,
				StartLine: int64(key.line),
			}
			if r.Source != nil {
				fn.SystemName = r.Source.Function
			}

			functions[key] = fn
			prof.Function = append(prof.Function, fn)
		}

		loc := &profile.Location{
			ID:   uint64(len(prof.Location) + 1),
			Line: []profile.Line{{Function: fn, Line: int64(key.line)}},
		}
		locations[key] = loc
		prof.Location = append(prof.Location, loc)

		return loc
	}

	for _, e := range p.order {
		byID := p.records[e.TaskID]

		var stack []*profile.Location
		for r, ok := e.FinishedEntryRecord, true; ok; r, ok = byID[r.ParentID] {
			stack = append(stack, locationOf(r))
			if r.ParentID == 0 {
				break
			}
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{1, int64(e.SelfDuration), int64(e.Duration)},
			Label: map[string][]string{
				"invoker": {e.InvokerType.String()},
			},
		})
	}

	return prof
}

// Write writes the profile in the gzipped protobuf format.
func (p *ProfileWriter) Write(w io.Writer) error {
	prof := p.Profile()

	if err := prof.CheckValid(); err != nil {
		return errors.Wrap(err, "invalid profile")
	}

	return errors.Wrap(prof.Write(w), "writing profile")
}

// WriteFile writes the profile to path.
func (p *ProfileWriter) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating profile %s", path)
	}

	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "closing profile %s", path)
		}
	}()

	return p.Write(f)
}

package timeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/idgen"
)

var csvHeader = []string{
	"TaskID", "ID", "ParentID", "Name", "InvokerType",
	"Start", "Duration", "SelfDuration", "Depth", "Degraded", "FromHost",
	"Source",
}

// CSVWriter buffers reported entries and writes them as CSV rows. Times are
// in milliseconds.
type CSVWriter struct {
	lock       sync.Mutex
	w          *csv.Writer
	closer     io.Closer
	entries    []Entry
	bufferSize int
	err        error
}

// NewCSVWriter writes the header to w and returns the writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	t := &CSVWriter{
		w:          csv.NewWriter(w),
		bufferSize: 1000,
	}

	if err := t.w.Write(csvHeader); err != nil {
		t.err = errors.Wrap(err, "writing csv header")
	}

	return t
}

// CreateCSVFile creates a CSV timeline file. An empty path picks a unique
// name. An existing file is never overwritten.
func CreateCSVFile(path string) (*CSVWriter, error) {
	if path == "" {
		path = idgen.SessionName("scriptentry_timeline") + ".csv"
	}

	if err := refuseExisting(path); err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating timeline file %s", path)
	}

	fmt.Fprintf(os.Stderr, "Recording long script entries in %s\n", path)

	t := NewCSVWriter(f)
	t.closer = f

	atexit.Register(func() { _ = t.Close() })

	return t, t.Err()
}

// ReportEntries implements attribution.Timeline.
func (t *CSVWriter) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, r := range records {
		t.entries = append(t.entries, Entry{TaskID: taskID, FinishedEntryRecord: r})
	}

	if len(t.entries) >= t.bufferSize {
		t.flush()
	}
}

// Flush writes the buffered rows.
func (t *CSVWriter) Flush() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.flush()

	return t.err
}

// Err returns the first error met while writing.
func (t *CSVWriter) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.err
}

// Close flushes the buffered rows and closes the underlying file, if any.
func (t *CSVWriter) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.flush()

	if t.closer != nil {
		closer := t.closer
		t.closer = nil

		if err := closer.Close(); err != nil && t.err == nil {
			t.err = errors.Wrap(err, "closing timeline file")
		}
	}

	return t.err
}

func (t *CSVWriter) flush() {
	for _, e := range t.entries {
		if t.err != nil {
			break
		}

		if err := t.w.Write(csvRow(e)); err != nil {
			t.err = errors.Wrap(err, "writing csv row")
		}
	}

	t.entries = nil
	t.w.Flush()

	if err := t.w.Error(); err != nil && t.err == nil {
		t.err = errors.Wrap(err, "flushing csv")
	}
}

func csvRow(e Entry) []string {
	source := ""
	if e.Source != nil {
		source = e.Source.String()
	}

	return []string{
		strconv.FormatUint(uint64(e.TaskID), 10),
		strconv.FormatUint(uint64(e.ID), 10),
		strconv.FormatUint(uint64(e.ParentID), 10),
		e.Name,
		e.InvokerType.String(),
		strconv.FormatFloat(e.StartTime.Milliseconds(), 'f', 6, 64),
		millis(e.Duration),
		millis(e.SelfDuration),
		strconv.Itoa(e.Depth),
		strconv.FormatBool(e.Degraded),
		strconv.FormatBool(e.FromHost),
		source,
	}
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 6, 64)
}

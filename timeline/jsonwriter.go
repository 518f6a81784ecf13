package timeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/idgen"
)

// JSONWriter writes reported entries as a JSON array.
type JSONWriter struct {
	lock   sync.Mutex
	w      io.Writer
	closer io.Closer
	first  bool
	closed bool
	err    error
}

// NewJSONWriter starts a JSON array on w. The array is terminated by Close.
func NewJSONWriter(w io.Writer) *JSONWriter {
	t := &JSONWriter{w: w, first: true}
	t.write([]byte("[\n"))

	return t
}

// CreateJSONFile creates a JSON timeline file. An empty path picks a unique
// name in the working directory. An existing file is never overwritten. The
// file is closed at exit if Close is not called before.
func CreateJSONFile(path string) (*JSONWriter, error) {
	if path == "" {
		path = idgen.SessionName("scriptentry_timeline") + ".json"
	}

	if err := refuseExisting(path); err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating timeline file %s", path)
	}

	fmt.Fprintf(os.Stderr, "Recording long script entries in %s\n", path)

	t := NewJSONWriter(f)
	t.closer = f

	atexit.Register(func() { _ = t.Close() })

	return t, t.Err()
}

// ReportEntries implements attribution.Timeline.
func (t *JSONWriter) ReportEntries(
	taskID attribution.TaskID,
	records []attribution.FinishedEntryRecord,
) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return
	}

	for _, r := range records {
		b, err := json.Marshal(Entry{TaskID: taskID, FinishedEntryRecord: r})
		if err != nil {
			t.setErr(errors.Wrap(err, "encoding entry"))
			return
		}

		if t.first {
			t.first = false
		} else {
			t.write([]byte(",\n"))
		}

		t.write(b)
	}
}

// Err returns the first error met while writing.
func (t *JSONWriter) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.err
}

// Close terminates the array and closes the underlying file, if any.
func (t *JSONWriter) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return t.err
	}

	t.closed = true
	t.write([]byte("\n]\n"))

	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			t.setErr(errors.Wrap(err, "closing timeline file"))
		}
	}

	return t.err
}

func (t *JSONWriter) write(b []byte) {
	if t.err != nil {
		return
	}

	if _, err := t.w.Write(b); err != nil {
		t.setErr(errors.Wrap(err, "writing timeline"))
	}
}

func (t *JSONWriter) setErr(err error) {
	if t.err == nil {
		t.err = err
	}
}

// refuseExisting fails if path already names a file. Timeline files are
// never overwritten.
func refuseExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("file %s already exists", path)
	}

	return nil
}

package datarecording

import (
	"os"
	"strings"
	"time"
)

// SessionTable is the name of the table that describes the recorded run.
const SessionTable = "session_info"

// SessionProperty is one row of the session table.
type SessionProperty struct {
	Property string
	Value    string
}

const sessionTimeLayout = "2006-01-02 15:04:05.000000000"

// SessionRecorder records how and when a recording was produced.
type SessionRecorder struct {
	recorder DataRecorder
	entries  []SessionProperty
	now      func() time.Time
}

// NewSessionRecorder creates the session table on the recorder.
func NewSessionRecorder(recorder DataRecorder) *SessionRecorder {
	recorder.CreateTable(SessionTable, SessionProperty{})

	return &SessionRecorder{
		recorder: recorder,
		now:      time.Now,
	}
}

// Start notes the start time, the command line and the working directory.
func (s *SessionRecorder) Start() {
	s.Set("Start Time", s.now().Format(sessionTimeLayout))
	s.Set("Command", strings.Join(os.Args, " "))

	if cwd, err := os.Getwd(); err == nil {
		s.Set("Working Directory", cwd)
	}
}

// Set adds a property, such as the scenario file or the threshold.
func (s *SessionRecorder) Set(property, value string) {
	s.entries = append(s.entries, SessionProperty{property, value})
}

// End writes the properties along with the end time and flushes.
func (s *SessionRecorder) End() {
	s.Set("End Time", s.now().Format(sessionTimeLayout))

	for _, entry := range s.entries {
		s.recorder.InsertData(SessionTable, entry)
	}

	s.entries = nil

	s.recorder.Flush()
}

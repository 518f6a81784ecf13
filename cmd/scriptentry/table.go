package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/sarchlab/scriptentry/datarecording"
	"github.com/sarchlab/scriptentry/timeline"
)

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}

func entryFlags(degraded, fromHost bool) string {
	var flags []string

	if degraded {
		flags = append(flags, "degraded")
	}

	if fromHost {
		flags = append(flags, "host")
	}

	return strings.Join(flags, ",")
}

// printEntries renders the reported entries as a table.
func printEntries(out io.Writer, entries []timeline.Entry) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{
		"Task", "Entry", "Invoker", "Start (ms)", "Duration (ms)", "Self (ms)", "Depth", "Flags",
	})

	for _, e := range entries {
		table.Append([]string{
			strconv.FormatUint(uint64(e.TaskID), 10),
			e.Name,
			e.InvokerType.String(),
			strconv.FormatFloat(e.StartTime.Milliseconds(), 'f', 3, 64),
			millis(e.Duration),
			millis(e.SelfDuration),
			strconv.Itoa(e.Depth),
			entryFlags(e.Degraded, e.FromHost),
		})
	}

	table.Render()
}

// printRows renders entries read back from a recording.
func printRows(out io.Writer, rows []datarecording.EntryRow) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{
		"Task", "Entry", "Invoker", "Start (ms)", "Duration (ms)", "Self (ms)", "Depth", "Flags", "Source",
	})

	for _, r := range rows {
		source := ""
		if r.File != "" {
			source = fmt.Sprintf("%s:%d", r.File, r.Line)
		}

		table.Append([]string{
			strconv.FormatUint(r.TaskID, 10),
			r.Name,
			r.InvokerType,
			strconv.FormatFloat(r.StartTime, 'f', 3, 64),
			strconv.FormatFloat(r.Duration, 'f', 3, 64),
			strconv.FormatFloat(r.SelfDuration, 'f', 3, 64),
			strconv.Itoa(r.Depth),
			entryFlags(r.Degraded, r.FromHost),
			source,
		})
	}

	table.Render()
}

// printSummary describes the run and the files it wrote.
func printSummary(out io.Writer, p *pipeline) {
	stats := p.loop.Stats()

	fmt.Fprintf(out, "%s long script entries in %s tasks over %s of simulated time",
		humanize.Comma(int64(p.buffer.Size())),
		humanize.Comma(int64(stats.Tasks)),
		time.Duration(stats.Now))

	if dropped := p.buffer.Dropped(); dropped > 0 {
		fmt.Fprintf(out, ", %s dropped by the full buffer", humanize.Comma(int64(dropped)))
	}

	fmt.Fprintln(out)

	if stats.Abandoned > 0 || stats.Panics > 0 {
		fmt.Fprintf(out, "%d tasks abandoned, %d uncaught panics\n", stats.Abandoned, stats.Panics)
	}

	for _, f := range p.outputs() {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}

		fmt.Fprintf(out, "wrote %s (%s)\n", f, humanize.Bytes(uint64(info.Size())))
	}
}

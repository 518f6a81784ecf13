package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/config"
	"github.com/sarchlab/scriptentry/datarecording"
	"github.com/sarchlab/scriptentry/host"
	"github.com/sarchlab/scriptentry/monitoring"
	"github.com/sarchlab/scriptentry/timeline"
)

// addRunFlags adds the flags shared by the commands that run scenarios.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("threshold", 0,
		"Report entries whose self time is at least this long")
	cmd.Flags().Int("buffer-size", 0,
		"Number of entries the timeline buffer keeps")
	cmd.Flags().String("json", "", "Write reported entries to this JSON file")
	cmd.Flags().String("csv", "", "Write reported entries to this CSV file")
	cmd.Flags().String("pprof", "", "Write a pprof profile of the reported entries")
	cmd.Flags().String("record", "",
		"Record entries into the SQLite database <record>.sqlite3")
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFiles, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if flags.Changed("threshold") {
		cfg.Threshold, _ = flags.GetDuration("threshold")
	}

	if flags.Changed("buffer-size") {
		cfg.BufferSize, _ = flags.GetInt("buffer-size")
	}

	if flags.Changed("json") {
		cfg.OutputJSON, _ = flags.GetString("json")
	}

	if flags.Changed("csv") {
		cfg.OutputCSV, _ = flags.GetString("csv")
	}

	if flags.Changed("pprof") {
		cfg.OutputPprof, _ = flags.GetString("pprof")
	}

	if flags.Changed("record") {
		cfg.RecordPath, _ = flags.GetString("record")
	}

	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.MonitorAddr, _ = flags.GetString("addr")
	}

	if flags.Lookup("open") != nil && flags.Changed("open") {
		cfg.OpenBrowser, _ = flags.GetBool("open")
	}

	return cfg, cfg.Validate()
}

// pipeline is a loop wired to every sink the configuration asks for.
type pipeline struct {
	cfg    config.Config
	logger log.Logger

	loop    *host.Loop
	buffer  *timeline.Buffer
	profile *timeline.ProfileWriter

	jsonOut  *timeline.JSONWriter
	csvOut   *timeline.CSVWriter
	recorder datarecording.DataRecorder
	entries  *datarecording.EntryRecorder
	session  *datarecording.SessionRecorder
}

func newPipeline(cfg config.Config) (*pipeline, error) {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:     cfg,
		logger:  logger,
		buffer:  timeline.NewBuffer(cfg.BufferSize),
		profile: timeline.NewProfileWriter(),
	}

	sinks := timeline.Multi{p.buffer, p.profile}

	if cfg.OutputJSON != "" {
		p.jsonOut, err = timeline.CreateJSONFile(cfg.OutputJSON)
		if err != nil {
			return nil, err
		}

		sinks = append(sinks, p.jsonOut)
	}

	if cfg.OutputCSV != "" {
		p.csvOut, err = timeline.CreateCSVFile(cfg.OutputCSV)
		if err != nil {
			return nil, err
		}

		sinks = append(sinks, p.csvOut)
	}

	if cfg.RecordPath != "" {
		p.recorder = datarecording.New(cfg.RecordPath)
		p.entries = datarecording.NewEntryRecorder(p.recorder)
		p.session = datarecording.NewSessionRecorder(p.recorder)
		p.session.Start()
		p.session.Set("Threshold", cfg.Threshold.String())

		sinks = append(sinks, p.entries)
	}

	p.loop = host.MakeBuilder().
		WithEngineBuilder(attribution.MakeBuilder().WithThreshold(cfg.Threshold)).
		WithTimeline(sinks).
		WithLogger(logger).
		Build("Host")

	p.loop.Engine().AcceptHook(monitoring.NewLogHook(logger))

	return p, nil
}

// close finishes every output. It keeps going after a failure and returns
// the first error.
func (p *pipeline) close() error {
	var first error

	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if p.jsonOut != nil {
		keep(p.jsonOut.Close())
	}

	if p.csvOut != nil {
		keep(p.csvOut.Close())
	}

	if p.cfg.OutputPprof != "" {
		keep(p.profile.WriteFile(p.cfg.OutputPprof))
	}

	if p.recorder != nil {
		stats := p.loop.Stats()
		p.session.Set("Tasks", fmt.Sprint(stats.Tasks))
		p.session.Set("Simulated Time", time.Duration(stats.Now).String())

		p.entries.Flush()
		p.session.End()
		keep(errors.Wrap(p.recorder.Close(), "closing recording"))
	}

	if first != nil {
		level.Error(p.logger).Log("msg", "failed to write outputs", "err", first)
	}

	return first
}

// outputs lists the files written by the pipeline.
func (p *pipeline) outputs() []string {
	var files []string

	for _, f := range []string{p.cfg.OutputJSON, p.cfg.OutputCSV, p.cfg.OutputPprof} {
		if f != "" {
			files = append(files, f)
		}
	}

	if p.cfg.RecordPath != "" {
		files = append(files, p.cfg.RecordPath+".sqlite3")
	}

	return files
}

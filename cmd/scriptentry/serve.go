package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/scriptentry/monitoring"
	"github.com/sarchlab/scriptentry/scenario"
)

var serveCmd = &cobra.Command{
	Use:   "serve <scenario.yaml>",
	Short: "Replay a scenario and serve the results over HTTP.",
	Long: `serve replays a scenario while a monitor serves the reported ` +
		`entries, the tasks, a pprof profile and Prometheus metrics. The ` +
		`server keeps running after the scenario ends until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		s, err := scenario.LoadFile(args[0])
		if err != nil {
			return err
		}

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		p.loop.Engine().AcceptHook(monitoring.NewMetricsHook(reg))

		m := monitoring.NewMonitor().WithAddr(cfg.MonitorAddr).WithLogger(p.logger)
		m.RegisterLoop(p.loop)
		m.RegisterBuffer(p.buffer)
		m.RegisterProfile(p.profile)
		m.RegisterGatherer(reg)

		bar := m.CreateProgressBar(s.Name, uint64(s.NumTasks()))
		p.loop.AcceptHook(monitoring.NewProgressHook(bar))

		url, err := m.StartServer()
		if err != nil {
			return err
		}

		if cfg.OpenBrowser {
			if err := monitoring.OpenBrowser(url); err != nil {
				level.Warn(p.logger).Log("msg", "failed to open browser", "err", err)
			}
		}

		ctx := cmd.Context()

		if paused, _ := cmd.Flags().GetBool("paused"); paused {
			p.loop.Pause()
			fmt.Fprintf(cmd.ErrOrStderr(), "Paused. POST %s/api/continue to start.\n", url)
		}

		go func() {
			<-ctx.Done()
			p.loop.Continue()
		}()

		runErr := scenario.NewRunner(p.loop).WithLogger(p.logger).Run(ctx, s)
		closeErr := p.close()

		printSummary(cmd.OutOrStdout(), p)

		if exit, _ := cmd.Flags().GetBool("exit"); !exit && runErr == nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Scenario finished. Press Ctrl+C to stop the monitor.")
			<-ctx.Done()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.Shutdown(shutdownCtx); err != nil {
			level.Warn(p.logger).Log("msg", "monitor did not stop cleanly", "err", err)
		}

		if runErr != nil && ctx.Err() == nil {
			return runErr
		}

		return closeErr
	},
}

func init() {
	addRunFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Address the monitor listens on")
	serveCmd.Flags().Bool("open", false, "Open the monitor in the browser")
	serveCmd.Flags().Bool("paused", false, "Wait for /api/continue before running tasks")
	serveCmd.Flags().Bool("exit", false, "Stop the monitor when the scenario ends")
	rootCmd.AddCommand(serveCmd)
}

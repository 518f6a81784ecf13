package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/scriptentry/scenario"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a scenario and print the long script entries.",
	Args:  cobra.ExactArgs(1),
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

		if p.session != nil {
			p.session.Set("Scenario", args[0])
		}

		runner := scenario.NewRunner(p.loop).WithLogger(p.logger)
		runErr := runner.Run(cmd.Context(), s)

		closeErr := p.close()

		printEntries(cmd.OutOrStdout(), p.buffer.Entries())
		printSummary(cmd.OutOrStdout(), p)

		if runErr != nil {
			return runErr
		}

		return closeErr
	},
}

func init() {
	addRunFlags(simulateCmd)
	rootCmd.AddCommand(simulateCmd)
}

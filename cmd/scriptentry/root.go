package main

import (
	"github.com/spf13/cobra"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scriptentry",
	Short: "scriptentry attributes script time to the entry points that caused it.",
	Long: `scriptentry replays script workloads described in YAML on a ` +
		`simulated single-threaded host. Every call to a bound function is ` +
		`an entry point, and the time of the microtasks it queues is charged ` +
		`back to it. Entry points whose own time reaches the threshold are ` +
		`reported. Settings come from SCRIPTENTRY_* environment variables, ` +
		`an optional .env file and the flags below.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env-file", nil,
		"Load settings from these files instead of .env")
	rootCmd.PersistentFlags().String("log-level", "",
		"One of debug, info, warn, error and none")
}

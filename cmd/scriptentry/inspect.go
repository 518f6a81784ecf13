package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/scriptentry/datarecording"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <recording.sqlite3>",
	Short: "List the entries stored in a recording, slowest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		task, _ := cmd.Flags().GetUint64("task")
		degraded, _ := cmd.Flags().GetBool("degraded")

		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		var where []string
		var whereArgs []any

		if task != 0 {
			where = append(where, "TaskID = ?")
			whereArgs = append(whereArgs, task)
		}

		if degraded {
			where = append(where, "Degraded = ?")
			whereArgs = append(whereArgs, true)
		}

		rows, total, err := datarecording.QueryEntries(cmd.Context(), reader,
			datarecording.QueryParams{
				Where: strings.Join(where, " AND "),
				Args:  whereArgs,
				Limit: limit,
			})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if session, err := sessionProperties(cmd, reader); err == nil {
			for _, prop := range session {
				fmt.Fprintf(out, "%s: %s\n", prop.Property, prop.Value)
			}
		}

		printRows(out, rows)
		fmt.Fprintf(out, "showing %d of %d entries\n", len(rows), total)

		return nil
	},
}

func sessionProperties(
	cmd *cobra.Command,
	reader datarecording.DataReader,
) ([]datarecording.SessionProperty, error) {
	reader.MapTable(datarecording.SessionTable, datarecording.SessionProperty{})

	results, _, err := reader.Query(cmd.Context(), datarecording.SessionTable,
		datarecording.QueryParams{})
	if err != nil {
		return nil, err
	}

	props := make([]datarecording.SessionProperty, 0, len(results))
	for _, r := range results {
		props = append(props, *r.(*datarecording.SessionProperty))
	}

	return props, nil
}

func init() {
	inspectCmd.Flags().Int("limit", 20, "Maximum number of entries to list, 0 for all")
	inspectCmd.Flags().Uint64("task", 0, "Only list the entries of this task")
	inspectCmd.Flags().Bool("degraded", false, "Only list degraded entries")
	rootCmd.AddCommand(inspectCmd)
}

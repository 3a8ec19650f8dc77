package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/exitshim/pkg/store"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats [run-id]",
	Short: "Show stored runs and their interception statuses",
	Long: `Without arguments, stats lists the runs in the result store. With a run ID
it shows how the run's iterations ended, grouped by outcome and status, and
the most recent iterations.

Example:
  exitshim stats --store results.db
  exitshim stats --store results.db 5f0c... --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "recent iterations to show")
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cmd.Context(), viper.GetString("store.dsn"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := st.Runs()
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsYAMLOutput() {
			return encode(cmd, map[string]interface{}{"runs": runs, "count": len(runs)})
		}
		table := tablewriter.NewWriter(out)
		table.Header("Run")
		for _, id := range runs {
			if err := table.Append(id); err != nil {
				return err
			}
		}
		return table.Render()
	}

	runID := args[0]
	counts, err := st.CountByStatus(runID)
	if err != nil {
		return err
	}
	results, err := st.List(runID, statsLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return encode(cmd, map[string]interface{}{
			"run_id":   runID,
			"statuses": counts,
			"recent":   results,
		})
	}

	fmt.Fprintf(out, "Run %s (entry %s)\n", runID, results[0].Entry)
	table := tablewriter.NewWriter(out)
	table.Header("Outcome", "Status", "Count")
	for _, c := range counts {
		if err := table.Append(string(c.Outcome), strconv.Itoa(c.Status), strconv.Itoa(c.Count)); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nRecent iterations:")
	recent := tablewriter.NewWriter(out)
	recent.Header("Iteration", "Input", "Outcome", "Status", "Duration")
	for _, r := range results {
		if err := recent.Append(
			strconv.FormatUint(r.Iteration, 10),
			r.InputID,
			string(r.Outcome),
			strconv.Itoa(r.Status),
			r.Duration.String(),
		); err != nil {
			return err
		}
	}
	return recent.Render()
}

func encode(cmd *cobra.Command, v interface{}) error {
	if IsYAMLOutput() {
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(v)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

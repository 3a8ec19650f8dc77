package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/exitshim/pkg/store"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored iterations older than a cutoff",
	Long: `Prune removes iterations that started more than --older-than ago from the
result store. "exitshim run" does the same periodically when
store.retention is set.

Example:
  exitshim prune --store results.db --older-than 168h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		st, err := store.Open(cmd.Context(), viper.GetString("store.dsn"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		deleted, err := store.NewPruner(store.RetentionConfig{MaxAge: pruneOlderThan}, st, nil).PruneOnce()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d iterations\n", deleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 7*24*time.Hour, "age of the oldest iteration to keep")
}

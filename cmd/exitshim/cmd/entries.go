package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/exitshim/internal/harness"
	"github.com/psantana5/exitshim/pkg/redirect"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List the entry points linked into this binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range redirect.Entries() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <entry> [-- args...]",
	Short: "Run one entry point as this process",
	Long: `Exec runs a registered entry point once without interception: its
termination requests end the process with the requested status, exactly as
the unrewritten command would. Useful to reproduce a single input.

Example:
  exitshim exec demo -- -v crash-input`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, ok := redirect.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%w: %q", harness.ErrUnknownEntry, args[0])
		}
		redirect.Main(redirect.Rename(e.Name, func(_ int, _ []string) int {
			argv := append([]string{e.Name}, args[1:]...)
			return e.Main(len(argv), argv)
		}))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(execCmd)
}

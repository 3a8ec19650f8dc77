package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/exitshim/pkg/auth"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key for the observation server",
	Long: `Prints a new API key and its bcrypt hash. Give the key to the scraper and
put the hash under server.api_key_hashes in the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\nhash: %s\n", key, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

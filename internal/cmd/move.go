package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var moveCmd = &cobra.Command{
	Use:   "move <context>",
	Short: "Move an open context to its own window",
	Long: `Move an open context's tab-group into a fresh window. The context
must be open; the new window is focused.`,
	Example: `  # Give the research context its own window
  tabstash move research`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		db, store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // read-only usage

		c, err := resolveContext(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}

		if err := newDaemonClient(cfg).moveContext(cmd.Context(), c.ID); err != nil {
			return err
		}

		fmt.Printf("Moved %s to a new window\n", c.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(moveCmd)
}

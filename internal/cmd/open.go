package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <context>",
	Short: "Open a context in the browser",
	Long: `Open a stored context as a live tab-group.

The context may be referenced by id or by exact title. By default a new
window is created for it; use --window to open into an existing window.`,
	Example: `  # Open a context by title in a new window
  tabstash open research

  # Open into window 42
  tabstash open research --window 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		windowID, err := cmd.Flags().GetInt("window")
		if err != nil {
			return fmt.Errorf("get window flag: %w", err)
		}

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

		opened, err := newDaemonClient(cfg).openContext(cmd.Context(), c.ID, windowID)
		if err != nil {
			return err
		}

		fmt.Printf("Opened %s as tab group %d\n", opened.Title, opened.Live.GroupID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)

	openCmd.Flags().Int("window", 0, "open into an existing window id")
}

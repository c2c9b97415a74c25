package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close <context>",
	Short: "Close an open context",
	Long: `Close an open context: its record is refreshed from the live tabs,
then the tab-group is removed from the browser. The context stays stored and
can be reopened later.

Use --group to close a raw tab-group by id instead, whether or not a context
is tracking it.`,
	Example: `  # Close a context by title
  tabstash close research

  # Close tab group 7
  tabstash close --group 7`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := cmd.Flags().GetInt("group")
		if err != nil {
			return fmt.Errorf("get group flag: %w", err)
		}

		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}
		client := newDaemonClient(cfg)

		if groupID > 0 {
			if err := client.closeGroup(cmd.Context(), groupID); err != nil {
				return err
			}
			fmt.Printf("Closed tab group %d\n", groupID)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("a context or --group is required")
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

		closed, err := client.closeContext(cmd.Context(), c.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Closed %s (%d tabs saved)\n", closed.Title, len(closed.Tabs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(closeCmd)

	closeCmd.Flags().Int("group", 0, "close a tab group by id")
}

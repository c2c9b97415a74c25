package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var persistCmd = &cobra.Command{
	Use:   "persist <context>",
	Short: "Save a context's tabs as bookmarks",
	Long: `Save a context's stored tabs into its bookmark folder, under the
reserved tab sub-folder. Tabs already bookmarked there are not duplicated.

Requires the extension to have the bookmarks permission; it is requested
once if missing.`,
	Example: `  # Bookmark every stored tab of a context
  tabstash persist research`,
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

		saved, denied, err := newDaemonClient(cfg).persistContext(cmd.Context(), c.ID)
		if err != nil {
			return err
		}
		if denied {
			fmt.Println("Bookmarks permission denied; nothing saved")
			return nil
		}

		fmt.Printf("Saved %d tabs to the %q folder\n", saved, c.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(persistCmd)
}

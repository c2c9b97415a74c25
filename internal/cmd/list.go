package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabstash/tabstash/internal/workspace"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contexts",
	Long: `List stored contexts.

By default, lists every context with its state. Use --open to limit the
listing to contexts currently open in the browser.`,
	Example: `  # List all contexts
  tabstash list

  # List only open contexts
  tabstash list --open`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		openOnly, err := cmd.Flags().GetBool("open")
		if err != nil {
			return fmt.Errorf("get open flag: %w", err)
		}

		db, store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // read-only usage

		var pred func(*workspace.Context) bool
		if openOnly {
			pred = func(c *workspace.Context) bool { return c.State() == workspace.StateOpen }
		}

		contexts, err := store.List(cmd.Context(), pred)
		if err != nil {
			return fmt.Errorf("list contexts: %w", err)
		}

		if len(contexts) == 0 {
			if openOnly {
				fmt.Println("No open contexts")
			} else {
				fmt.Println("No contexts found")
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "ID\tTITLE\tSTATE\tTABS\tUPDATED"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, c := range contexts {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				c.ID, c.Title, c.State(), len(c.Tabs), formatTimestamp(c.Updated)); err != nil {
				return fmt.Errorf("write context: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

// formatTimestamp renders an epoch-milliseconds timestamp, or "-" when unset.
func formatTimestamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("open", false, "list only contexts currently open")
}

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently visited pages",
	Long: `Show recently visited pages from browser history, with duplicate
titles collapsed. Requires the extension to have the history permission;
without it the listing is empty.`,
	Example: `  # Show the 20 most recent pages
  tabstash history --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return fmt.Errorf("get limit flag: %w", err)
		}

		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		items, err := newDaemonClient(cfg).recentHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No history")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "TITLE\tURL\tVISITED"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, item := range items {
			title := item.Title
			if title == "" {
				title = "-"
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
				title, item.URL, formatTimestamp(item.LastVisitTime)); err != nil {
				return fmt.Errorf("write item: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 50, "maximum pages to show")
}

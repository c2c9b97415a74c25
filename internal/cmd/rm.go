package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabstash/tabstash/internal/prompt"
)

var rmCmd = &cobra.Command{
	Use:   "rm <context>",
	Short: "Remove a stored context",
	Long: `Remove a context from storage, including its derived data and any
open-group tracking.

The context's bookmark folder is kept by default; saved bookmarks survive
removal. Use --bookmarks to delete the folder too (requires the daemon).`,
	Example: `  # Remove with confirmation prompt
  tabstash rm research

  # Remove the context and its bookmark folder
  tabstash rm research --bookmarks

  # Force remove without confirmation
  tabstash rm research --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("get force flag: %w", err)
		}
		removeBookmarks, err := cmd.Flags().GetBool("bookmarks")
		if err != nil {
			return fmt.Errorf("get bookmarks flag: %w", err)
		}

		db, store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // closed on exit

		c, err := resolveContext(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}

		// Confirm removal unless --force
		if !force {
			detail := fmt.Sprintf("%d stored tabs will be forgotten. Bookmarks are kept.", len(c.Tabs))
			if removeBookmarks {
				detail = fmt.Sprintf("%d stored tabs will be forgotten and the bookmark folder deleted.", len(c.Tabs))
			}
			prompter := prompt.New()
			confirmed, err := prompter.Confirm(fmt.Sprintf("Remove context %q?", c.Title), detail)
			if err != nil {
				if errors.Is(err, prompt.ErrCanceled) {
					fmt.Println("Canceled")
					return nil
				}
				return err
			}
			if !confirmed {
				fmt.Println("Canceled")
				return nil
			}
		}

		if removeBookmarks {
			cfg, err := requireConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := newDaemonClient(cfg).removeContextFolder(cmd.Context(), c.ID); err != nil {
				return err
			}
		}

		if err := store.Remove(cmd.Context(), c); err != nil {
			return fmt.Errorf("remove context: %w", err)
		}

		fmt.Printf("Removed context %s (%s)\n", c.ID, c.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)

	rmCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")
	rmCmd.Flags().Bool("bookmarks", false, "also delete the context's bookmark folder")
}

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var stashCmd = &cobra.Command{
	Use:   "stash <window>",
	Short: "Stash every tab of a window",
	Long: `Stash a window: its loose tabs are captured into a new session and
its tab-groups are folded into their contexts, then all of the tabs are
closed. The session is written before anything is removed.`,
	Example: `  # Stash window 42 and let it close
  tabstash stash 42

  # Stash window 42 but keep the window open on a blank tab
  tabstash stash 42 --keep-window`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		windowID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid window id %q", args[0])
		}
		keepWindow, err := cmd.Flags().GetBool("keep-window")
		if err != nil {
			return fmt.Errorf("get keep-window flag: %w", err)
		}

		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		session, err := newDaemonClient(cfg).stashWindow(cmd.Context(), windowID, keepWindow)
		if err != nil {
			return err
		}
		if session == nil {
			fmt.Println("Nothing to stash")
			return nil
		}

		fmt.Printf("Stashed window %d (%d entries)\n", windowID, len(session.Entries))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stashCmd)

	stashCmd.Flags().Bool("keep-window", false, "keep the window open on a blank tab")
}

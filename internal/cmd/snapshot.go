package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <window>",
	Short: "Snapshot a window and clear it",
	Long: `Record a window's tabs (blank new-tab pages excluded) as a snapshot,
then clear the window down to a single desktop tab. Snapshots age into the
archive; see 'tabstash sweep'.`,
	Example: `  # Snapshot window 42
  tabstash snapshot 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		windowID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid window id %q", args[0])
		}

		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		snapshot, err := newDaemonClient(cfg).snapshotWindow(cmd.Context(), windowID)
		if err != nil {
			return err
		}
		if snapshot == nil {
			fmt.Println("Nothing to snapshot")
			return nil
		}

		fmt.Printf("Snapshotted window %d (%d tabs)\n", windowID, len(snapshot.Tabs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

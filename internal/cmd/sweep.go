package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive aged window snapshots",
	Long: `Move window snapshots older than the retention period into the
archive. The daemon sweeps on a schedule as well; this forces a pass now.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		moved, err := newDaemonClient(cfg).sweep(cmd.Context())
		if err != nil {
			return err
		}

		if moved == 0 {
			fmt.Println("Nothing to archive")
			return nil
		}
		fmt.Printf("Archived %d snapshots\n", moved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

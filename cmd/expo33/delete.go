package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/ui"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "records",
	Short:   "Delete an attendance record",
	Long: `Delete an attendance record.

A record already known to the remote is soft-deleted locally and the
deletion is queued; it disappears from listings immediately and is
physically removed once the remote acknowledges. A record the remote
has never seen is removed outright.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		record, err := st.RecordByUUID(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading record: %v\n", err)
			os.Exit(1)
		}
		if record == nil {
			fmt.Fprintf(os.Stderr, "Error: no record with id %s\n", args[0])
			os.Exit(1)
		}

		if !deleteForce {
			var confirmed bool
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %s / %s on %s?", record.OfficeName, record.LevelName, record.Date)).
				Value(&confirmed).
				Run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		if err := st.DeleteRecord(ctx, record.UUID); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting record: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted record %s\n", ui.RenderPass("✓"), ui.RenderMuted(record.UUID))
		trySync(st)
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/ui"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "Show unsynced change counts",
	Long: `Show how many local changes are queued per entity type, and how many
of them are poisoned (failed too many push attempts). Poisoned entries
stay queued but are skipped by sync until revived with
'expo33 sync --retry-poisoned'.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		total := 0

		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-20s  %8s  %8s", "ENTITY", "PENDING", "POISONED")))
		for _, table := range schema.SyncOrder {
			pending, err := st.UnsyncedCount(ctx, table)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", table, err)
				os.Exit(1)
			}
			poisoned, err := st.PoisonedCount(ctx, table)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", table, err)
				os.Exit(1)
			}
			total += pending

			poisonedStr := fmt.Sprintf("%8d", poisoned)
			if poisoned > 0 {
				poisonedStr = ui.RenderFail(poisonedStr)
			}
			fmt.Printf("%-20s  %8d  %s\n", table, pending, poisonedStr)
		}

		if total == 0 {
			fmt.Printf("\n%s Everything is synced\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("\n%s %d change(s) waiting for sync\n", ui.RenderWarn("⚠"), total)
		}
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

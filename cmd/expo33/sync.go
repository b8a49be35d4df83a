package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/store"
	"github.com/Ahmmada/Expo33/internal/sync"
	"github.com/Ahmmada/Expo33/internal/ui"
)

var syncRetryPoisoned bool

var syncCmd = &cobra.Command{
	Use:     "sync [entity]",
	GroupID: "sync",
	Short:   "Synchronize with the remote system of record",
	Long: `Push queued local changes to the remote and pull remote updates.

Without an argument every entity type is synced in dependency order
(offices, levels, students, attendance records). With an argument only
that entity type is synced.

--retry-poisoned first re-arms queue entries that were parked after
exceeding the push attempt ceiling, so this run retries them.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		syncer, err := newSyncer(st, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()

		if syncRetryPoisoned {
			revived := 0
			for _, table := range schema.SyncOrder {
				n, err := st.RetryPoisoned(ctx, table)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error reviving poisoned entries: %v\n", err)
					os.Exit(1)
				}
				revived += n
			}
			if revived > 0 {
				fmt.Printf("%s Revived %d poisoned entr%s\n", ui.RenderAccent("↻"), revived, plural(revived, "y", "ies"))
			}
		}

		var outcomes []sync.Outcome
		if len(args) == 1 {
			outcomes = []sync.Outcome{syncer.SyncEntity(ctx, args[0])}
		} else {
			outcomes = syncer.SyncAll(ctx)
		}

		failed := false
		for _, out := range outcomes {
			marker := ui.RenderPass("✓")
			if !out.Success {
				marker = ui.RenderFail("✗")
				failed = true
			}
			fmt.Printf("%s %-20s %s\n", marker, out.EntityType, out.Message)
		}
		if failed {
			os.Exit(1)
		}
	},
}

// trySync runs a best-effort full sync after a local mutation. Offline
// or unconfigured remotes are not errors: the change stays queued.
func trySync(st *store.Store) {
	if cfg.Remote.BaseURL == "" {
		return
	}

	syncer, err := newSyncer(st, nil)
	if err != nil {
		return
	}

	ok := true
	for _, out := range syncer.SyncAll(context.Background()) {
		if !out.Success {
			ok = false
		}
	}
	if !ok {
		fmt.Printf("%s Saved locally; will sync when the remote is reachable\n", ui.RenderWarn("⚠"))
	}
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func init() {
	syncCmd.Flags().BoolVar(&syncRetryPoisoned, "retry-poisoned", false, "Re-arm poisoned queue entries before syncing")
	rootCmd.AddCommand(syncCmd)
}

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/config"
	"github.com/Ahmmada/Expo33/internal/remote"
	"github.com/Ahmmada/Expo33/internal/store"
	"github.com/Ahmmada/Expo33/internal/sync"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "expo33",
	Short: "Offline-first attendance tracking",
	Long: `expo33 keeps attendance records in a local SQLite database and
synchronizes them with the remote system of record when connectivity
allows. Every operation works offline; changes queue up locally and
flow to the remote on the next sync.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.expo33/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// openStore opens the configured database and ensures the schema
// exists.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database, err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}

// newSyncer wires the sync manager against the configured remote.
// Returns an error when no remote endpoint is configured.
func newSyncer(st *store.Store, logger *log.Logger) (sync.Syncer, error) {
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("no remote configured; set remote.base_url in %s", filepath.Join(config.Dir(), "config.yaml"))
	}
	client := remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return sync.New(st, client, &sync.Config{
		AttemptCeiling: cfg.Sync.AttemptCeiling,
		Logger:         logger,
	}), nil
}

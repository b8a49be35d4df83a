package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/config"
	"github.com/Ahmmada/Expo33/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local database and configuration",
	Long: `Create the expo33 home directory, write a default configuration
file, and initialize the local SQLite database.

Existing configuration is never overwritten; re-running init only
ensures the database schema is up to date.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = filepath.Join(config.Dir(), "config.yaml")
		}

		if _, err := os.Stat(path); err == nil {
			fmt.Printf("%s Config exists, keeping it: %s\n", ui.RenderWarn("⚠"), path)
		} else {
			if err := config.WriteDefault(path); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Wrote default config: %s\n", ui.RenderPass("✓"), path)
		}

		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		fmt.Printf("%s Database ready: %s\n", ui.RenderPass("✓"), cfg.Database)
		if cfg.Remote.BaseURL == "" {
			fmt.Printf("\nSet remote.base_url in %s to enable sync\n", path)
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

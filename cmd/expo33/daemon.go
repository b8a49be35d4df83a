package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/daemon"
	"github.com/Ahmmada/Expo33/internal/dashboard"
	"github.com/Ahmmada/Expo33/internal/monitor"
	"github.com/Ahmmada/Expo33/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background autosync daemon",
	Long: `Run the autosync daemon in the foreground.

The daemon probes the remote for connectivity, syncs when the device
comes back online, watches the database for local mutations, syncs on
a periodic interval, and serves a WebSocket status feed for the admin
UI (connectivity, sync outcomes, pending-change counts).

Example usage:
  expo33 daemon                  # Use configured settings
  expo33 daemon --port 9000      # Status server on a custom port

Connect with a WebSocket client:
  ws://localhost:8037/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		logger := daemon.NewLogger(cfg.Daemon.LogFile)

		syncer, err := newSyncer(st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		prober, err := monitor.NewProber(monitor.Config{
			ProbeURL: cfg.Monitor.ProbeURL,
			Interval: cfg.Monitor.Interval,
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating connectivity prober: %v\n", err)
			os.Exit(1)
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Daemon.DashboardPort
		}

		var dash *dashboard.Server
		if port > 0 {
			dash = dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting status server: %v\n", err)
				os.Exit(1)
			}
			defer dash.Stop()
		}

		d, err := daemon.New(st, syncer, prober, dash, &daemon.Config{
			DatabasePath: cfg.Database,
			SyncInterval: cfg.Sync.Interval,
			Debounce:     cfg.Sync.Debounce,
			Logger:       logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting autosync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Database: %s\n", cfg.Database)
		fmt.Printf("   Remote:   %s\n", cfg.Remote.BaseURL)
		if dash != nil {
			fmt.Printf("   Status:   ws://localhost:%d/ws\n", port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "Status server port (0 = use config)")
	rootCmd.AddCommand(daemonCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/fundsync/internal/daemon"
	"github.com/Mschirtzinger/fundsync/internal/dashboard"
	"github.com/Mschirtzinger/fundsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:         "daemon",
	GroupID:     "advanced",
	Short:       "Keep this device in sync in the background (foreground process)",
	Annotations: map[string]string{"logs": "stderr"},
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Merge local and cloud data on start when signed in
  2. Watch the session file and merge again whenever you sign in
  3. Upload local data every sync.interval (default 5m)

Use --dashboard to also serve live sync status over WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		runDaemon(cmd, withDashboard)
	},
}

var dashboardCmd = &cobra.Command{
	Use:         "dashboard",
	GroupID:     "advanced",
	Short:       "Start the sync daemon with a real-time WebSocket status dashboard",
	Annotations: map[string]string{"logs": "stderr"},
	Long: `Start the sync daemon together with a WebSocket dashboard server.

WebSocket messages include:
- snapshot: current status, pass totals and stored keys (sent on connect)
- status: a sync pass started, finished or failed
- stats: pass totals after each finished pass

Example usage:
  fundsync dashboard                   # Start on the configured port (default 8080)
  fundsync dashboard --port 9000       # Start on a custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, true)
	},
}

func runDaemon(cmd *cobra.Command, withDashboard bool) {
	a := openApp()
	defer a.Close()

	if !cfg.RemoteClientConfig().Configured() {
		fmt.Fprintf(os.Stderr, "%s Cloud sync is not configured; the daemon will only serve status\n", ui.RenderWarn("⚠"))
	}

	dcfg := cfg.DaemonConfig()
	dcfg.Logger = newLogger("daemon")
	d, err := daemon.NewWithConfig(a.orch, a.session, cfg.SessionPath(), dcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
		a.Close()
		os.Exit(1)
	}

	var server *dashboard.Server
	if withDashboard {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		server = dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   port,
			Logger: newLogger("dashboard"),
		})
		handler := dashboard.NewHandler(server, a.store, newLogger("dashboard"))
		unsubscribe := handler.Attach(a.orch.Bus())
		defer unsubscribe()

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			a.Close()
			os.Exit(1)
		}
		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
	}

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Database: %s\n", a.store.Path())
	fmt.Printf("   Session: %s\n", cfg.SessionPath())
	fmt.Printf("   Push interval: %s\n", dcfg.SyncInterval)
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		a.Close()
		os.Exit(1)
	}

	// One last push so edits made since the previous tick are not lost.
	d.PushNow(context.Background())

	if server != nil {
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
		}
	}
	fmt.Println("Daemon stopped")
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the WebSocket status dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port (overrides dashboard.port)")
	dashboardCmd.Flags().IntP("port", "p", 8080, "port to listen on (overrides dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}

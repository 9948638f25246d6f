package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/daemon"
	"github.com/folio-app/folio/internal/dashboard"
	"github.com/folio-app/folio/internal/notify"
	"github.com/folio-app/folio/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch the workspace and keep state in sync (foreground)",
	Long: `Watch every kind directory of the current workspace and reload a kind
whenever its files change outside folio.

The watcher will:
  1. Restore the last saved state from the state database
  2. Load every kind from the workspace
  3. Reload a kind after external edits settle
  4. Follow 'folio workspace use' to a new workspace

With --dashboard-port, a WebSocket dashboard streams changes, watch errors
and sync results:
  ws://127.0.0.1:<port>/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()
		db := openStateDB()
		defer db.Close()

		caps := daemon.NewRegistry()
		daemon.Provide(caps, db)
		daemon.Provide[notify.Notifier](caps, notify.NewLogNotifier(logs.Logger("notify")))

		var srv *dashboard.Server
		var d *daemon.Daemon
		if cfg.DashboardPort > 0 {
			srv = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Status: func() dashboard.StatusData { return d.Status() },
				Logger: logs.Logger("dashboard"),
			})
			daemon.Provide(caps, srv)
		}

		d, err := daemon.New(svc, caps, &daemon.Config{
			Kinds:     cfg.Kinds,
			Watch:     cfg.Watch,
			WatchFor:  cfg.WatchConfig,
			Logger:    logs.Logger("daemon"),
			LoggerFor: logs.Logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		if srv != nil {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			defer srv.Stop()
		}

		fmt.Printf("%s Watching workspace...\n", ui.RenderAccent("👀"))
		if ws := svc.Current(); ws != "" {
			fmt.Printf("   Workspace: %s\n", ws)
		} else {
			fmt.Printf("   %s No workspace selected; run 'folio workspace use <path>'\n", ui.RenderWarn("⚠"))
		}
		fmt.Printf("   Kinds: %v\n", cfg.Kinds)
		fmt.Printf("   State: %s\n", db.Path())
		if srv != nil {
			fmt.Printf("   Dashboard: ws://%s/ws\n", srv.GetAddr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Watcher stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	watchCmd.Flags().IntP("dashboard-port", "p", 0, "Serve the WebSocket dashboard on this port (0 disables)")
	watchCmd.Flags().Bool("poll", true, "Use the polling backend instead of native file events")
	watchCmd.Flags().Int("debounce", 300, "Debounce delay in milliseconds")
	rootCmd.AddCommand(watchCmd)
}

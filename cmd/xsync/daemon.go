package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtreamgames/xsync/internal/dashboard"
	"github.com/xtreamgames/xsync/internal/engine"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/watch"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync engine in the foreground",
	Long: `Run the sync engine until interrupted.

The daemon:
  1. Runs a full sync shortly after start, then every sync.interval
  2. Watches the inbox directory for primary.json / secondary.json and saves
     them locally; each change is pushed after sync.debounce
  3. Probes the remote host every sync.probe_interval and switches between
     online and offline (going online triggers a full sync)
  4. Optionally serves a live dashboard (--dashboard-port)

Example usage:
  xsync daemon                       # Sync in the background of a terminal
  xsync daemon --dashboard-port 8790 # Also serve ws://localhost:8790/ws
  xsync daemon --offline             # Only collect inbox changes locally`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("dashboard-port")
		policyName, _ := cmd.Flags().GetString("inbox-policy")
		if !cmd.Flags().Changed("dashboard-port") {
			port = cfg.Dashboard.Port
		}
		policy, err := share.ParsePolicy(policyName)
		if err != nil {
			exitf("%v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		var (
			eng     *engine.Engine
			server  *dashboard.Server
			handler *dashboard.Handler
		)
		observers := engine.Observers{}
		if port > 0 {
			server = dashboard.NewServer(&dashboard.Config{
				Port: port,
				Status: dashboard.StatusFunc(func() (engine.StatusReport, error) {
					return eng.Status()
				}),
				Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
			})
			handler = dashboard.NewHandler(server, nil)
			observers = append(observers, handler)
		}

		a := mustOpenApp(observers)
		defer a.Close()
		eng = a.engine
		logger := a.logs.Logger("daemon")

		if server != nil {
			server.SetLogger(a.logs.Logger("dashboard"))
			if err := server.Start(); err != nil {
				a.Close()
				exitf("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			fmt.Printf("Dashboard: http://%s (WebSocket ws://%s/ws)\n", server.Addr(), server.Addr())
		}

		watcher, err := watch.NewWatcher(a.logs.Logger("watch"))
		if err != nil {
			a.Close()
			exitf("%v", err)
		}
		if err := watcher.Start(cfg.Inbox.Dir); err != nil {
			a.Close()
			exitf("%v", err)
		}
		defer watcher.Stop()
		go ingestInbox(watcher, eng, policy, a.logs.Logger("watch"))

		if cfg.Sync.ProbeInterval > 0 && !cfg.Sync.Offline {
			go probeConnectivity(ctx, eng, cfg.Remote.BaseURL, cfg.Sync.ProbeInterval, logger)
		}

		fmt.Printf("xsync daemon running (inbox %s). Press Ctrl+C to stop...\n", watcher.Dir())
		if err := eng.Start(ctx); err != nil {
			logger.Printf("Engine stopped: %v", err)
		}
		fmt.Println("\nShutting down...")
	},
}

// ingestInbox saves every inbox change until the watcher is stopped.
func ingestInbox(w *watch.Watcher, eng *engine.Engine, policy share.Policy, logger *log.Logger) {
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			n, err := watch.Ingest(eng, ev, policy)
			if err != nil {
				logger.Printf("Skipping %s: %v", ev.Path, err)
				continue
			}
			logger.Printf("Loaded %d records from %s (%s)", n, ev.Path, ev.Op)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Printf("Watcher error: %v", err)
		}
	}
}

// probeConnectivity reports reachability of the remote host to the engine
// until ctx is cancelled.
func probeConnectivity(ctx context.Context, eng *engine.Engine, baseURL string, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := remote.Reachable(probeCtx, baseURL)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil && eng.Online() {
			logger.Printf("Remote unreachable: %v", err)
		}
		eng.SetOnline(err == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "Serve the dashboard on this port (default: dashboard.port, 0 disables)")
	daemonCmd.Flags().String("inbox-policy", "replace", "How inbox files combine with local data (merge|replace)")

	rootCmd.AddCommand(daemonCmd)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabstash/tabstash/internal/api"
	"github.com/tabstash/tabstash/internal/bookmarks"
	"github.com/tabstash/tabstash/internal/bridge"
	"github.com/tabstash/tabstash/internal/history"
	"github.com/tabstash/tabstash/internal/reconcile"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/stash"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tabstash daemon",
	Long: `Run the tabstash daemon: it owns the durable store, accepts the
companion extension's WebSocket connection on /bridge, serves the local REST
API the CLI uses, and sweeps aged window snapshots on a schedule.`,
	Example: `  # Run in the foreground
  tabstash serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}

		logger := slogger.New(slogger.Config{Verbosity: verbosity + 1, Timestamps: true})

		db, store, err := openStore(slogger.WithLogger(cmd.Context(), logger))
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // closed on shutdown

		bridgeServer := bridge.NewServer(logger)
		folders := bookmarks.NewManager(bridgeServer, db, store, cfg.Bookmarks.RootFolder, logger)
		reconciler := reconcile.New(bridgeServer, store, folders, reconcile.Options{
			NewTabURL:  cfg.Stash.NewTabURL,
			CloseDelay: time.Duration(cfg.Bridge.CloseDelayMS) * time.Millisecond,
		}, logger)
		stasher := stash.New(bridgeServer, db, store, reconciler, stash.Options{
			Retention:  time.Duration(cfg.Stash.RetentionDays) * 24 * time.Hour,
			DesktopURL: cfg.Stash.DesktopURL,
			NewTabURL:  cfg.Stash.NewTabURL,
		}, logger)

		hist := history.New(bridgeServer, history.Options{
			Window:     time.Duration(cfg.History.WindowDays) * 24 * time.Hour,
			MaxResults: cfg.History.MaxResults,
		}, logger)

		router := api.NewServer(store, reconciler, stasher, folders, hist, bridgeServer.Connected, logger).Routes()
		router.Handle("/bridge", bridgeServer)

		server := &http.Server{
			Addr:              cfg.Bridge.Listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go sweepLoop(ctx, stasher, time.Duration(cfg.Stash.SweepIntervalMinutes)*time.Minute, logger.With("component", "sweep"))

		errCh := make(chan error, 1)
		go func() {
			logger.Info("daemon listening", "addr", cfg.Bridge.Listen)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("serve: %w", err)
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

// sweepLoop archives aged snapshots on a fixed interval until ctx ends.
func sweepLoop(ctx context.Context, stasher *stash.Stasher, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := stasher.Sweep(ctx)
			if err != nil {
				log.Warn("sweep failed", "error", err)
				continue
			}
			if moved > 0 {
				log.Info("swept snapshots", "moved", moved)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/flakenv/flakenv/internal/discover"
	"github.com/flakenv/flakenv/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := newLogger(cfg)
			m, diagStore, err := buildManager(cfg, logger)
			if err != nil {
				return err
			}
			if diagStore != nil {
				defer diagStore.Close()
			}

			restored, err := restoreFromDurable(m, cfg, logger)
			if err != nil {
				return err
			}
			if !restored && cfg.Flake.AutoActivate && cfg.FlakePath() != "" {
				if _, err := m.Activate(cmd.Context(), cfg.FlakePath()); err != nil {
					logger.Warn("auto-activation failed", "flake", cfg.FlakePath(), "error", err)
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if cfg.Flake.Watch && cfg.FlakePath() != "" {
				w, err := discover.NewWatcher(cfg.FlakePath(), m.Broker(), logger)
				if err != nil {
					logger.Warn("flake watch unavailable", "error", err)
				} else {
					defer w.Close()
					go w.Run(ctx)
				}
			}

			app := server.NewApp(cfg, m, diagStore, logger)
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           app.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("control API listening", "addr", cfg.Server.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	c.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return c
}

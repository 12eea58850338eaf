package main

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
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/config"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/upstream"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/media"
	gatewayserver "github.com/vango-go/vai-live-bridge/pkg/gateway/server"
)

const (
	mediaRetention     = 24 * time.Hour
	mediaSweepInterval = time.Hour
)

type serveDeps struct {
	loadConfig   func(path string) (config.Config, error)
	newConnector func(ctx context.Context, apiKey string, logger *slog.Logger) (upstream.Connector, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.Load,
		newConnector: func(ctx context.Context, apiKey string, logger *slog.Logger) (upstream.Connector, error) {
			return upstream.NewGeminiConnector(ctx, apiKey, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newServeCmd(opts *rootOptions, deps serveDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live bridge HTTP and websocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.newLogger(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), logger, opts.resolvedConfigPath(), deps)
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, logger *slog.Logger, configPath string, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newConnector == nil {
		return errors.New("missing newConnector dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	connector, err := deps.newConnector(ctx, cfg.GeminiAPIKey, logger)
	if err != nil {
		return fmt.Errorf("create gemini connector: %w", err)
	}
	store, err := media.NewTempStore(cfg.UploadDir, logger)
	if err != nil {
		return err
	}

	gw := gatewayserver.New(cfg, logger, connector, store)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	sweepCtx, stopSweep := context.WithCancel(gctx)
	defer stopSweep()

	logger.Info("starting live bridge", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "upload_dir", cfg.UploadDir)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepMedia(sweepCtx, store, logger)
		return nil
	})

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
	}

	gw.SetDraining()
	notified := gw.NotifyLiveSessionsDraining()
	logger.Info("draining live sessions", "notified", notified)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("live sessions canceled after grace period", "canceled", canceled)
	}

	stopSweep()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("live bridge stopped")
	return nil
}

func sweepMedia(ctx context.Context, store *media.TempStore, logger *slog.Logger) {
	ticker := time.NewTicker(mediaSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupOlderThan(mediaRetention)
			if err != nil {
				logger.Warn("media cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("media cleanup", "removed", removed)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spendsync/internal/backend"
	"spendsync/internal/cache"
	"spendsync/internal/cli"
	"spendsync/internal/engine"
	apphttp "spendsync/internal/http"
	"spendsync/internal/log"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
	startRetryMin        = time.Second
	startRetryMax        = 30 * time.Second
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine behind the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().StringSlice("trusted-proxy", nil, "CIDR allowed to set X-Forwarded-For (repeatable)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, logger, err := cli.Bootstrap()
	if err != nil {
		return err
	}
	logger.Info("Starting spendsync",
		"port", cfg.Port,
		"data_backend", cfg.DataBackend,
		"kv_backend", cfg.KVBackend)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	user, err := res.Session.SignIn(ctx, cfg.SessionEmail, cfg.SessionName, "")
	if err != nil {
		return fmt.Errorf("sign in %s: %w", cfg.SessionEmail, err)
	}
	gw, mode := res.SelectGateway(ctx)
	logger.Info("Session ready", log.FieldUserID, user.ID, "gateway", mode)

	hub := apphttp.NewHub()
	eng := engine.New(gw, res.Session, engine.Notifiers(hub, engine.LogNotifier{}), backend.EngineConfig(cfg))
	defer eng.Close()

	caches := cache.NewManager()
	caches.Register(res.Reports.Cache())
	caches.StartCleanup(cacheCleanupInterval)
	defer caches.Stop()

	srvCfg := apphttp.DefaultConfig()
	srvCfg.Addr = ":" + cfg.Port
	srvCfg.RateLimit.RequestsPerMinute = cfg.RateLimitPerMinute
	srvCfg.TrustedProxies, _ = cmd.Flags().GetStringSlice("trusted-proxy")
	if cfg.PollInterval > 0 {
		// Two missed polls.
		srvCfg.StaleAfter = 2 * cfg.PollInterval
	}

	srv, err := apphttp.NewServer(srvCfg, apphttp.Deps{
		Engine:  eng,
		Auth:    res.Session,
		Reports: res.Reports,
		Hub:     hub,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Until a start succeeds /readyz reports 503. POST /api/refresh
		// also reruns the initialization.
		if err := eng.StartRetrying(gctx, startRetryMin, startRetryMax); err != nil && gctx.Err() == nil {
			logger.Error("Engine start abandoned", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

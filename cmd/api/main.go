package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/deploydeck/internal/attribution"
	httpx "github.com/splax/deploydeck/internal/http"
	"github.com/splax/deploydeck/internal/registry"
	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/internal/service/autodeploy"
	"github.com/splax/deploydeck/internal/service/deploy"
	"github.com/splax/deploydeck/internal/service/logs"
	"github.com/splax/deploydeck/internal/service/screenshot"
	"github.com/splax/deploydeck/internal/service/webhook"
	"github.com/splax/deploydeck/internal/ws"
	"github.com/splax/deploydeck/pkg/config"
	"github.com/splax/deploydeck/pkg/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projects, err := registry.Load(cfg, log)
	if err != nil {
		log.Error("failed to load projects", "error", err)
		os.Exit(1)
	}

	runner := remote.NewRunner(cfg.SSHConnectTimeout, cfg.AutoDeployOutputLimit)
	hub := ws.NewHub()
	defer hub.Close()

	resolver := attribution.New(projects, cfg.DashboardHosts)
	deploySvc := deploy.New(runner, log, cfg)
	logSvc := logs.New(runner, resolver, projects, log, cfg)
	webhookSvc := webhook.New(projects, log, cfg)
	orchestrator := autodeploy.New(runner, hub, log, cfg, prometheus.DefaultRegisterer)
	screenshotSvc := screenshot.New(runner, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projects, httpx.Services{
		Deployments: deploySvc,
		Logs:        logSvc,
		Webhook:     webhookSvc,
		Deployer:    orchestrator,
		Screenshots: screenshotSvc,
		Hub:         hub,
	}, limiter, cfg.DashboardJWTSecret)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"projects", projects.Len(),
			"auto_deploy", cfg.AutoDeployEnabled,
			"tracker_remote", cfg.TrackerRemoteHost,
			"access_log_remote", cfg.AccessLogRemoteHost,
		)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := orchestrator.Wait(drainCtx); err != nil {
			log.Warn("auto deploy jobs still running at exit", "pending", orchestrator.Pending(), "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

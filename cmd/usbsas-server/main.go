// Command usbsas-server is the front-end session controller: the long-lived
// HTTP process a client talks to for the device/partition/
// copy/wipe/imgdisk surface. It owns no worker logic itself; every request
// is served by a Session's in-process orchestrator Machine driving the
// usbsas-<worker> binaries this process spawns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"net/http"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/metrics"
	"github.com/marmos91/usbsas/internal/privileges"
	"github.com/marmos91/usbsas/internal/telemetry"
	"github.com/marmos91/usbsas/internal/tokencache"
	"github.com/marmos91/usbsas/pkg/api"
	"github.com/marmos91/usbsas/pkg/audit"
	"github.com/marmos91/usbsas/pkg/auth"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/orchestrator"
	"github.com/marmos91/usbsas/pkg/session"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to usbsas config file")
	adminSecret := flag.String("admin-secret", os.Getenv("USBSAS_ADMIN_SECRET"), "HMAC secret for the admin JWT surface (disables admin routes if empty)")
	adminPasswordHash := flag.String("admin-password-hash", os.Getenv("USBSAS_ADMIN_PASSWORD_HASH"), "bcrypt hash for the admin login route (disables the route if empty)")
	flag.Parse()

	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		resolvedConfigPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usbsas-server: load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "usbsas-server: init logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("usbsas-server starting", "version", version, "commit", commit)

	if err := os.MkdirAll(cfg.OutDirectory, 0o750); err != nil {
		logger.Error("create out_directory", logger.Err(err))
		os.Exit(1)
	}

	resolve, err := binaryResolver(cfg, resolvedConfigPath)
	if err != nil {
		logger.Error("resolve worker binaries", logger.Err(err))
		os.Exit(1)
	}

	var cache *tokencache.Cache
	if cfg.TokenCache.Dir != "" {
		if err := os.MkdirAll(cfg.TokenCache.Dir, 0o750); err != nil {
			logger.Error("create token_cache directory", logger.Err(err))
			os.Exit(1)
		}
		cache, err = tokencache.Open(cfg.TokenCache.Dir)
		if err != nil {
			logger.Error("open token cache", logger.Err(err))
			os.Exit(1)
		}
		defer cache.Close()
	}

	auditStore, err := audit.Open(audit.Config{
		Driver:        audit.Driver(cfg.Audit.Driver),
		DSN:           cfg.Audit.DSN,
		RunMigrations: cfg.Audit.Driver == string(audit.DriverPostgres),
	})
	if err != nil {
		logger.Error("open audit store", logger.Err(err))
		os.Exit(1)
	}
	defer auditStore.Close()

	manager := session.NewManager(cfg, resolve, privileges.NoopDropper{}, cache, auditStore)

	var adminJWT *auth.AdminJWTService
	var adminCredential *auth.AdminCredential
	if *adminSecret != "" {
		adminJWT, err = auth.NewAdminJWTService(auth.AdminJWTConfig{Secret: *adminSecret})
		if err != nil {
			logger.Error("init admin JWT service", logger.Err(err))
			os.Exit(1)
		}
		if *adminPasswordHash != "" {
			adminCredential = auth.NewAdminCredential(*adminPasswordHash)
		}
		logger.Info("admin API surface enabled", "login_route", adminCredential != nil)
	} else {
		logger.Info("admin API surface disabled (no admin secret configured)")
	}

	apiServer := api.NewServer(cfg.API, manager, adminJWT, adminCredential)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       true,
		SampleRate:     cfg.Telemetry.SampleRate,
		ServiceName:    "usbsas-server",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("init telemetry", logger.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", logger.Err(err))
		}
	}()

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "usbsas-server",
		ServiceVersion: version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		logger.Error("init profiling", logger.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownProfiling(); err != nil {
			logger.Warn("profiling shutdown error", logger.Err(err))
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.Init()
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		logger.Info("metrics endpoint enabled", "addr", cfg.Metrics.Addr)
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- apiServer.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("usbsas-server is running")
	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			os.Exit(1)
		}
	case err := <-serverDone:
		signal.Stop(sigCh)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			os.Exit(1)
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	logger.Info("usbsas-server stopped")
}

// binaryResolver builds the orchestrator.BinaryResolver pointing at every
// usbsas-<worker> binary, located alongside this one (or under
// cfg.Workers.Dir when configured), each given --config so it can read the
// shared sections it needs (device roots, filter rules, network/command
// destinations); session.withSessionArgs layers the per-session
// --archive/--fs flag on top for the workers that need it.
func binaryResolver(cfg *config.Config, configPath string) (orchestrator.BinaryResolver, error) {
	dir := cfg.Workers.Dir
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own executable path: %w", err)
		}
		dir = filepath.Dir(exe)
	}

	return func(worker string) (string, []string) {
		path := filepath.Join(dir, "usbsas-"+worker)
		return path, []string{"--config=" + configPath}
	}, nil
}

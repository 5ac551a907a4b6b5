package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/admin"
	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/health"
	"github.com/pingsix/pingsix/internal/lifecycle"
	"github.com/pingsix/pingsix/internal/listener"
	"github.com/pingsix/pingsix/internal/loadbalancer"
	"github.com/pingsix/pingsix/internal/logging"
	"github.com/pingsix/pingsix/internal/metrics"
	"github.com/pingsix/pingsix/internal/proxy"
	"github.com/pingsix/pingsix/internal/router"
	"github.com/pingsix/pingsix/internal/ssl"

	// Plugins register themselves on import.
	_ "github.com/pingsix/pingsix/internal/plugin/plugins"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/pingsix.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("PingSIX %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Output, logging.RotationConfig{
		MaxSize:    cfg.Logging.Rotation.MaxSize,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAge:     cfg.Logging.Rotation.MaxAge,
		Compress:   cfg.Logging.Rotation.Compress,
		LocalTime:  cfg.Logging.Rotation.LocalTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting PingSIX",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("listeners", len(cfg.Listeners)),
		zap.Int("routes", len(cfg.Routes)),
	)

	g, err := newGateway(cfg, *configPath)
	if err != nil {
		logging.Error("Failed to build gateway", zap.Error(err))
		os.Exit(1)
	}

	if err := g.Run(); err != nil {
		logging.Error("Gateway error", zap.Error(err))
		os.Exit(1)
	}
}

// gateway wires the catalog, router, proxy, request orchestrator, health
// supervisor, SSL store, admin surface, and listeners into a single
// runnable process, the way the teacher's internal/gateway.Server wires its
// own collaborators in NewServer, but against this repo's own pipeline
// (catalog.Registry, router.Router, lifecycle.Orchestrator) rather than the
// teacher's.
type gateway struct {
	cfg        *config.Config
	configPath string

	registry     *catalog.Registry
	rt           *router.Router
	orchestrator *lifecycle.Orchestrator
	supervisor   *health.Supervisor
	sslStore     *ssl.Store
	collector    *metrics.Collector

	manager     *listener.Manager
	adminServer *http.Server
	etcdSource  *config.EtcdSource

	stopSSL chan struct{}
}

// newGateway builds every collaborator and performs the initial
// Reload -> Reset -> Rebuild sequence synchronously before anything starts
// serving traffic.
func newGateway(cfg *config.Config, configPath string) (*gateway, error) {
	registry := catalog.New()
	if err := registry.Reload(cfg); err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	rt := router.New()
	rt.Reset(registry.Snapshot().Routes)

	collector := metrics.NewCollector()
	supervisor := health.NewSupervisor(registry, cfg.HealthCheck)

	px := proxy.New(proxy.Config{
		HealthChecker:  supervisor.HTTPChecker(),
		DefaultTimeout: 30 * time.Second,
		FlushInterval:  100 * time.Millisecond,
		UpstreamResolver: func(id string) (loadbalancer.Balancer, bool) {
			up, ok := registry.Upstream(id)
			if !ok {
				return nil, false
			}
			return up.Balancer, true
		},
	})

	orchestrator := lifecycle.New(registry, rt, px, collector)
	if err := orchestrator.SetRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("initial rule compilation: %w", err)
	}
	sslStore := ssl.New(registry)

	g := &gateway{
		cfg:          cfg,
		configPath:   configPath,
		registry:     registry,
		rt:           rt,
		orchestrator: orchestrator,
		supervisor:   supervisor,
		sslStore:     sslStore,
		collector:    collector,
		manager:      listener.NewManager(),
		stopSSL:      make(chan struct{}),
	}

	if err := g.buildListeners(); err != nil {
		return nil, err
	}

	// Dynamic config: an etcd-backed registry watches a single key holding
	// the whole config document instead of the on-disk file SIGHUP reloads,
	// per spec.md's dynamic-config source.
	if cfg.Registry.Type == "etcd" {
		src, err := config.NewEtcdSource(cfg.Registry.Etcd)
		if err != nil {
			return nil, fmt.Errorf("etcd config source: %w", err)
		}
		src.OnChange(func(newCfg *config.Config) {
			if err := g.reload(newCfg); err != nil {
				logging.Error("etcd config reload: apply failed", zap.Error(err))
				return
			}
			logging.Info("Config reloaded from etcd", zap.Int("routes", len(newCfg.Routes)))
		})
		g.etcdSource = src
	}

	if cfg.Admin.Enabled {
		g.adminServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      admin.New(cfg, cfg.Admin.APIKey, collector, g.reload),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return g, nil
}

// reload applies a candidate configuration in the same order every time:
// validate and swap the catalog, resync the router's route set from it,
// then recompile the orchestrator's route table. lifecycle.Orchestrator's
// Rebuild depends on the router's current routes, not its own registry
// subscription, so this order must never be reversed — see
// internal/lifecycle/orchestrator.go's Rebuild doc comment.
func (g *gateway) reload(cfg *config.Config) error {
	if err := g.registry.Reload(cfg); err != nil {
		return err
	}
	g.rt.Reset(g.registry.Snapshot().Routes)
	g.orchestrator.Rebuild()
	if err := g.orchestrator.SetRules(cfg.Rules); err != nil {
		return fmt.Errorf("rule compilation: %w", err)
	}
	g.cfg = cfg
	return nil
}

func (g *gateway) buildListeners() error {
	for _, lc := range g.cfg.Listeners {
		if lc.Protocol != config.ProtocolHTTP {
			return fmt.Errorf("listener %s: unsupported protocol %s", lc.ID, lc.Protocol)
		}

		httpCfg := listener.HTTPListenerConfig{
			ID:                lc.ID,
			Address:           lc.Address,
			Handler:           g.orchestrator,
			TLS:               lc.TLS,
			ACME:              lc.ACME,
			ReadTimeout:       lc.HTTP.ReadTimeout,
			WriteTimeout:      lc.HTTP.WriteTimeout,
			IdleTimeout:       lc.HTTP.IdleTimeout,
			MaxHeaderBytes:    lc.HTTP.MaxHeaderBytes,
			ReadHeaderTimeout: lc.HTTP.ReadHeaderTimeout,
			EnableHTTP3:       lc.HTTP.EnableHTTP3,
		}

		// Dynamic SNI routing: a TLS listener with no static cert/key pair
		// and ACME disabled resolves certificates from the catalog's SSL
		// store instead, per spec.md §4.7.
		if lc.TLS.Enabled && !lc.ACME.Enabled && lc.TLS.CertFile == "" {
			httpCfg.SNIGetCertificate = g.sslStore.GetCertificate
		}

		l, err := listener.NewHTTPListener(httpCfg)
		if err != nil {
			return fmt.Errorf("listener %s: %w", lc.ID, err)
		}
		if err := g.manager.Add(l); err != nil {
			return fmt.Errorf("listener %s: %w", lc.ID, err)
		}
	}
	return nil
}

// Run starts every collaborator and blocks until a termination signal,
// mirroring the teacher's Server.Run: SIGHUP reloads the on-disk
// configuration, SIGINT/SIGTERM shut down gracefully.
func (g *gateway) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go g.supervisor.Run(ctx)
	go g.sslStore.Watch(g.registry, g.registry.Subscribe(), g.stopSSL)

	if g.etcdSource != nil {
		if err := g.etcdSource.Start(ctx); err != nil {
			return fmt.Errorf("etcd config source: %w", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		if err := g.manager.StartAll(ctx); err != nil {
			errCh <- fmt.Errorf("listener manager: %w", err)
		}
	}()

	if g.adminServer != nil {
		go func() {
			logging.Info("Starting admin server", zap.Int("port", g.cfg.Admin.Port))
			if err := g.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		switch sig {
		case syscall.SIGHUP:
			g.reloadFromDisk()
		default:
			logging.Info("Shutting down gracefully...")
			return g.shutdown(30 * time.Second)
		}
	}

	return nil
}

func (g *gateway) reloadFromDisk() {
	loader := config.NewLoader()
	cfg, err := loader.Load(g.configPath)
	if err != nil {
		logging.Error("Config reload: load failed", zap.Error(err))
		return
	}
	if err := g.reload(cfg); err != nil {
		logging.Error("Config reload: apply failed", zap.Error(err))
		return
	}
	logging.Info("Config reloaded from disk",
		zap.String("path", g.configPath),
		zap.Int("routes", len(cfg.Routes)),
	)
}

func (g *gateway) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	close(g.stopSSL)

	if g.etcdSource != nil {
		if err := g.etcdSource.Close(); err != nil {
			logging.Error("etcd config source shutdown error", zap.Error(err))
		}
	}

	if g.adminServer != nil {
		if err := g.adminServer.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}

	if err := g.manager.StopAll(ctx); err != nil {
		logging.Error("Listener manager shutdown error", zap.Error(err))
	}

	logging.Info("Shutdown complete")
	return nil
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/clients"
	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/cluster/httpexec"
	"github.com/ajitpratap0/dctables/pkg/cluster/sqlexec"
	"github.com/ajitpratap0/dctables/pkg/collector"
	"github.com/ajitpratap0/dctables/pkg/config"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/logger"
	"github.com/ajitpratap0/dctables/pkg/observability"
	"github.com/ajitpratap0/dctables/pkg/vtab"
)

// app holds what every command sets up from the configuration.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	closers []func()
}

func newApp(ctx context.Context, configFile, logLevel string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialise logging")
	}

	a := &app{cfg: cfg, log: logger.Get().With(zap.String("component", "dctables-cli"))}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	shutdown, err := observability.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.log.Warn("tracing shutdown failed", zap.Error(err))
		}
	})

	if cfg.Metrics.Enabled {
		a.serveMetrics(cfg.Metrics.Listen)
	}
	return a, nil
}

// close runs the cleanups in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.String("listen", listen), zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() { _ = srv.Close() })
	a.log.Info("serving metrics", zap.String("listen", listen))
}

// catalog builds the collector registry: built-in definitions, configured
// files, narrowed to the configured tables.
func (a *app) catalog() (*collector.Registry, error) {
	reg := collector.NewBuiltinRegistry()
	for _, path := range a.cfg.Collectors.Files {
		if err := reg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if len(a.cfg.Collectors.Tables) == 0 {
		return reg, nil
	}

	defs, err := reg.Select(a.cfg.Collectors.Tables)
	if err != nil {
		return nil, err
	}
	selected := collector.NewRegistry()
	for _, d := range defs {
		if err := selected.Register(d); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

// cluster connects to every node with the configured transport.
func (a *app) cluster(ctx context.Context, topo *cluster.Topology) (*cluster.Cluster, error) {
	executors := make([]cluster.Executor, 0, len(topo.Nodes))

	switch a.cfg.Cluster.Transport {
	case config.TransportSQL:
		for _, n := range topo.Nodes {
			if n.DSN == "" {
				return nil, errors.Newf(errors.ErrorTypeConfig, "node %q has no dsn for the sql transport", n.Name)
			}
			ex, err := sqlexec.Open(ctx, n.Name, a.cfg.Cluster.Dialect, n.DSN, a.cfg.Fetch.BlockRows, a.log)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() { _ = ex.Close() })
			executors = append(executors, ex)
		}
	default:
		client := clients.NewHTTPClient(&a.cfg.Cluster.HTTP, a.log)
		a.closers = append(a.closers, func() { _ = client.Close() })
		for _, n := range topo.Nodes {
			executors = append(executors, httpexec.New(n, client, a.cfg.Accept(), a.log))
		}
	}

	return cluster.New(executors, a.cfg.Fetch, a.log), nil
}

// manager opens the virtual table database over the configured cluster.
func (a *app) manager(ctx context.Context, dbPath string) (*vtab.Manager, error) {
	topo, err := a.cfg.Topology()
	if err != nil {
		return nil, err
	}
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	c, err := a.cluster(ctx, topo)
	if err != nil {
		return nil, err
	}

	vcfg := a.cfg.VTab(topo.CatalogPath)
	if dbPath != "" {
		vcfg.Path = dbPath
	}
	m := vtab.New(vcfg, catalog, c, a.log)
	if _, err := m.Open(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := m.Close(); err != nil {
			a.log.Warn("failed to close database", zap.Error(err))
		}
	})
	return m, nil
}

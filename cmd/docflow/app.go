package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/consecutive"
	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/exectracker"
	"github.com/docflowhq/docflow/internal/mapstore"
)

// app bundles the wired components one command invocation needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	conns    *dbconn.Manager
	repo     *mapstore.YAMLRepository
	execs    mapstore.ExecutionStore
	counters *consecutive.Service
	tracker  *exectracker.Tracker
}

// newApp loads the configuration and wires the component graph. Counter and
// execution stores are opened lazily per their configured backend.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		conns:   dbconn.NewManager(cfg.Servers, logger),
		tracker: exectracker.New(),
	}

	a.repo, err = mapstore.NewYAMLRepository(cfg.MappingsDir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.execs, err = a.openExecutionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := a.openCounterStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.counters = consecutive.NewService(store, logger,
		consecutive.WithTTL(cfg.Engine.ReservationTTL))

	return a, nil
}

func (a *app) openCounterStore(ctx context.Context) (consecutive.Store, error) {
	cs := a.cfg.CounterStore
	switch cs.Backend {
	case "", "memory":
		return consecutive.NewMemoryStore(), nil
	case "sql":
		conn, err := a.conns.Get(ctx, cs.Server)
		if err != nil {
			return nil, fmt.Errorf("counter store: %w", err)
		}
		return consecutive.NewSQLStore(conn, cs.Table), nil
	case "mongodb":
		conn, err := a.conns.Get(ctx, cs.Server)
		if err != nil {
			return nil, fmt.Errorf("counter store: %w", err)
		}
		db, ok := dbconn.MongoDatabase(conn)
		if !ok {
			return nil, fmt.Errorf("counter store: server %q is not a mongodb server", cs.Server)
		}
		return consecutive.NewMongoStore(db, cs.Table), nil
	default:
		return nil, fmt.Errorf("counter store: unknown backend %q", cs.Backend)
	}
}

func (a *app) openExecutionStore(ctx context.Context) (mapstore.ExecutionStore, error) {
	es := a.cfg.ExecutionStore
	switch es.Backend {
	case "", "memory":
		return mapstore.NewMemoryExecutionStore(), nil
	case "sql":
		conn, err := a.conns.Get(ctx, es.Server)
		if err != nil {
			return nil, fmt.Errorf("execution store: %w", err)
		}
		return mapstore.NewSQLExecutionStore(conn, es.Table), nil
	default:
		return nil, fmt.Errorf("execution store: unknown backend %q", es.Backend)
	}
}

// newEngine builds an engine over the app's components.
func (a *app) newEngine(opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{
		engine.WithWatchdogTimeout(a.cfg.Engine.WatchdogTimeout),
	}, opts...)
	return engine.New(a.repo, a.execs, a.conns, a.counters, a.tracker, a.logger, opts...)
}

// Close releases connections and flushes the logger.
func (a *app) Close() {
	if a.repo != nil {
		_ = a.repo.Close()
	}
	if a.conns != nil {
		_ = a.conns.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

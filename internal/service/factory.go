// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/browser/session"
	"github.com/xkilldash9x/noticescan/internal/config"
	"github.com/xkilldash9x/noticescan/internal/detection"
	"github.com/xkilldash9x/noticescan/internal/engine"
	"github.com/xkilldash9x/noticescan/internal/filters"
	"github.com/xkilldash9x/noticescan/internal/scanner"
	"github.com/xkilldash9x/noticescan/internal/store"
)

// ComponentFactory defines the interface for creating the set of components needed for a scan.
// This abstraction is the key to making the scan command's logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, scanID string, onComplete engine.CompletionFunc, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the sinks, the browser, the detection pipeline, the scanner
// and the engine. Components created before a failure are shut down again.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, scanID string, onComplete engine.CompletionFunc, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Sinks
	sinks, err := newSinks(ctx, cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Sink = sinks
	logger.Debug("Result sinks initialized.", zap.Int("sinks", len(sinks)))

	// 2. Filter lists
	lists, err := filters.LoadAll(cfg.Filters().Lists)
	if err != nil {
		initializationErr = fmt.Errorf("failed to load filter lists: %w", err)
		return nil, initializationErr
	}
	for _, l := range lists {
		logger.Debug("Filter list loaded.", zap.String("list", l.Name), zap.Int("rules", len(l.Rules)))
	}

	// 3. Browser
	alloc, err := session.NewAllocator(ctx, cfg.Browser(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to start browser: %w", err)
		return nil, initializationErr
	}
	components.Browser = alloc

	// 4. Scanner
	pipeline := detection.NewPipeline(lists, detection.NewLinguaDetector(), logger)
	sc, err := scanner.New(scanner.AllocatorTabs(alloc), pipeline, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create scanner: %w", err)
		return nil, initializationErr
	}

	// 5. Engine
	opts := []engine.Option{engine.WithScanID(scanID)}
	if onComplete != nil {
		opts = append(opts, engine.WithCompletion(onComplete))
	}
	eng, err := engine.New(cfg, logger, sc, sinks, opts...)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng

	logger.Info("All scan components initialized successfully.", zap.String("scan_id", scanID))
	return components, nil
}

// newSinks always writes result files. A configured SQLite path adds the
// local database and a configured database URL the PostgreSQL store. On
// failure the sinks opened so far are closed again.
func newSinks(ctx context.Context, cfg config.Interface, logger *zap.Logger) (store.Multi, error) {
	files, err := store.NewFileSink(cfg.Store().ResultsDir, logger)
	if err != nil {
		return nil, err
	}
	sinks := store.Multi{files}
	fail := func(err error) (store.Multi, error) {
		_ = sinks.Close()
		return nil, err
	}

	if path := cfg.Store().SQLitePath; path != "" {
		local, err := store.OpenSQLite(ctx, path, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to open SQLite store: %w", err))
		}
		sinks = append(sinks, local)
	}

	url := cfg.Database().URL
	if url == "" {
		return sinks, nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fail(fmt.Errorf("failed to create database connection pool: %w", err))
	}
	db, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return fail(fmt.Errorf("failed to initialize database store: %w", err))
	}
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return fail(err)
	}
	return append(sinks, db), nil
}

// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/config"
)

// persistTimeout bounds saving one result. Results are saved on a context
// detached from the run so that shutdown still flushes finished scans.
const persistTimeout = 30 * time.Second

// -- Interfaces for Dependency Inversion --

// Scanner scans a single target. It records every failure on the returned
// result instead of returning an error.
type Scanner interface {
	Scan(ctx context.Context, target schemas.Target) *schemas.ScanResult
}

// Sink persists a finished scan result.
type Sink interface {
	Save(ctx context.Context, result *schemas.ScanResult) error
}

// CompletionFunc is called once per target after its result was saved.
// err is the save error, if any. Calls are serialized.
type CompletionFunc func(result *schemas.ScanResult, err error)

// Summary counts the outcome of a run.
type Summary struct {
	Scanned    int
	Failed     int
	SaveErrors int
}

// Engine distributes targets to a pool of scanning workers and persists each
// result as it completes.
type Engine struct {
	cfg        config.Interface
	logger     *zap.Logger
	scanner    Scanner
	sink       Sink
	onComplete CompletionFunc
	scanID     string

	stateLock sync.Mutex
	isRunning bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompletion registers fn to observe every finished target.
func WithCompletion(fn CompletionFunc) Option {
	return func(e *Engine) {
		e.onComplete = fn
	}
}

// WithScanID stamps every result of the run with id.
func WithScanID(id string) Option {
	return func(e *Engine) {
		e.scanID = id
	}
}

// New creates an engine. All dependencies are required.
func New(cfg config.Interface, logger *zap.Logger, scanner Scanner, sink Sink, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if scanner == nil {
		return nil, errors.New("scanner cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "engine")),
		scanner: scanner,
		sink:    sink,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

func (e *Engine) limiter() *rate.Limiter {
	cfg := e.cfg.Engine()
	if cfg.DispatchRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.DispatchBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
}

// Run scans targets with the configured number of workers and blocks until
// every dispatched target finished. When ctx is canceled no further targets
// are dispatched; the results of scans already running are still saved and
// ctx's error is returned.
func (e *Engine) Run(ctx context.Context, targets []schemas.Target) (Summary, error) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	e.isRunning = true
	e.stateLock.Unlock()
	defer func() {
		e.stateLock.Lock()
		e.isRunning = false
		e.stateLock.Unlock()
	}()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	e.logger.Info("Starting scan engine worker pool",
		zap.Int("concurrency", concurrency),
		zap.Int("targets", len(targets)))

	g, gctx := errgroup.WithContext(ctx)
	taskChan := make(chan schemas.Target)
	results := make(chan *schemas.ScanResult)
	limiter := e.limiter()

	g.Go(func() error {
		defer close(taskChan)
		for _, t := range targets {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			select {
			case taskChan <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			e.runWorker(gctx, i+1, taskChan, results)
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var summary Summary
	for result := range results {
		e.complete(ctx, result, &summary)
	}

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	e.logger.Info("Scan engine stopped.",
		zap.Int("scanned", summary.Scanned),
		zap.Int("failed", summary.Failed),
		zap.Int("save_errors", summary.SaveErrors))
	return summary, err
}

// runWorker is the main loop for a single worker goroutine.
func (e *Engine) runWorker(ctx context.Context, workerID int, taskChan <-chan schemas.Target, results chan<- *schemas.ScanResult) {
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case target, ok := <-taskChan:
			if !ok {
				logger.Debug("Target queue drained, worker shutting down.")
				return
			}
			if ctx.Err() != nil {
				logger.Debug("Context cancelled before scan started.", zap.String("domain", target.Domain))
				return
			}
			// The collector drains results until every worker exited, so
			// this send cannot block forever.
			results <- e.process(ctx, target, logger)
		}
	}
}

// process scans one target under the per-target timeout.
func (e *Engine) process(ctx context.Context, target schemas.Target, logger *zap.Logger) *schemas.ScanResult {
	logger.Info("Scanning target", zap.Int("rank", target.Rank), zap.String("domain", target.Domain))

	timeout := e.cfg.Engine().TargetTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	targetCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := e.scanner.Scan(targetCtx, target)
	if errors.Is(targetCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Warn("Target scan timed out. Saving partial result.",
			zap.String("domain", target.Domain), zap.Duration("timeout", timeout))
	}
	result.ScanID = e.scanID
	return result
}

// complete persists result and reports it. It runs on the goroutine that
// called Run.
func (e *Engine) complete(ctx context.Context, result *schemas.ScanResult, summary *Summary) {
	summary.Scanned++
	if failed, _, _ := result.Failure(); failed {
		summary.Failed++
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := e.sink.Save(persistCtx, result)
	if err != nil {
		summary.SaveErrors++
		e.logger.Error("Failed to persist scan result", zap.String("domain", result.Domain), zap.Error(err))
	}
	if e.onComplete != nil {
		e.onComplete(result, err)
	}
}

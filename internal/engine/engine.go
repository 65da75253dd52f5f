// Package engine runs document transfers: it loads a mapping, acquires the
// source and target connections, drives the per-document pipeline, and
// persists the execution record. One ProcessDocuments call is one execution.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/bonification"
	"github.com/docflowhq/docflow/internal/consecutive"
	"github.com/docflowhq/docflow/internal/dbconn"
	"github.com/docflowhq/docflow/internal/evaluator"
	"github.com/docflowhq/docflow/internal/exectracker"
	"github.com/docflowhq/docflow/internal/mapstore"
	"github.com/docflowhq/docflow/internal/types"
)

// DefaultWatchdogTimeout bounds one execution end to end. When it fires the
// run is aborted and reported as cancelled.
const DefaultWatchdogTimeout = 120 * time.Second

// connectRetries is how many extra attempts the engine makes per server
// before giving up (3 attempts total, 1s/2s waits).
const connectRetries = 2

// ConnProvider is the slice of the connection facade the engine needs.
// *dbconn.Manager satisfies it.
type ConnProvider interface {
	Get(ctx context.Context, serverKey string) (dbconn.Conn, error)
	Release(conn dbconn.Conn)
}

// Engine is the execution coordinator. Safe for concurrent use; each
// ProcessDocuments call gets its own per-run state.
type Engine struct {
	repo     mapstore.Repository
	execs    mapstore.ExecutionStore
	conns    ConnProvider
	counters *consecutive.Service
	tracker  *exectracker.Tracker
	logger   *zap.Logger

	timeout    time.Duration
	customer   *types.CustomerContext
	onProgress func(types.Progress)
}

// Option tunes an Engine.
type Option func(*Engine)

// WithWatchdogTimeout overrides the per-execution deadline.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithProgress registers a callback invoked after every document.
func WithProgress(fn func(types.Progress)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// WithCustomerContext supplies the customer attributes promotion rules key on.
func WithCustomerContext(c *types.CustomerContext) Option {
	return func(e *Engine) { e.customer = c }
}

// New wires an engine. counters may be nil when no mapping uses the
// centralized consecutive service.
func New(repo mapstore.Repository, execs mapstore.ExecutionStore, conns ConnProvider,
	counters *consecutive.Service, tracker *exectracker.Tracker, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = exectracker.New()
	}
	e := &Engine{
		repo:     repo,
		execs:    execs,
		conns:    conns,
		counters: counters,
		tracker:  tracker,
		logger:   logger.Named("engine"),
		timeout:  DefaultWatchdogTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker exposes the running-execution registry for status and cancellation.
func (e *Engine) Tracker() *exectracker.Tracker { return e.tracker }

// ProcessDocuments transfers the given documents under one mapping. Document
// failures never abort the run; they are carried in the result. The returned
// error covers setup failures only (unknown mapping, connections, counter
// resolution) — once the document loop starts, err is nil.
func (e *Engine) ProcessDocuments(ctx context.Context, mappingID string, documentIDs []string) (*types.Result, error) {
	mapping, err := e.repo.FindMapping(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	res := &types.Result{
		MappingID: mapping.ID,
		Status:    types.StatusRunning,
		Total:     len(documentIDs),
		ByType:    make(map[string]int),
		StartTime: time.Now(),
	}
	rec := &types.ExecutionRecord{
		MappingID:    mapping.ID,
		StartTime:    res.StartTime,
		Status:       types.StatusRunning,
		TotalRecords: len(documentIDs),
	}
	execID, err := e.execs.CreateExecution(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("engine: create execution record: %w", err)
	}
	res.ExecutionID = execID
	log := e.logger.With(zap.String("execution", execID), zap.String("mapping", mapping.ID))
	log.Info("execution started", zap.Int("documents", len(documentIDs)))

	source, err := e.connect(ctx, mapping.SourceServer, log)
	if err != nil {
		return e.abort(ctx, rec, res, log, fmt.Errorf("engine: source %s: %w", mapping.SourceServer, err))
	}
	defer e.conns.Release(source)

	target, err := e.connect(ctx, mapping.TargetServer, log)
	if err != nil {
		return e.abort(ctx, rec, res, log, fmt.Errorf("engine: target %s: %w", mapping.TargetServer, err))
	}
	defer e.conns.Release(target)

	alloc, err := e.newAllocator(ctx, mapping, execID)
	if err != nil {
		return e.abort(ctx, rec, res, log, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	entry := e.tracker.Register(execID, mapping.ID, cancel)
	defer e.tracker.Deregister(execID)

	run := &execution{
		eng:      e,
		mapping:  mapping,
		source:   source,
		target:   target,
		eval:     evaluator.New(mapping, target, log),
		alloc:    alloc,
		children: mapping.ChildIndex(),
		customer: e.customer,
		entry:    entry,
		res:      res,
		log:      log,
	}
	if mapping.HasBonificationProcessing {
		run.bonif = bonification.New(mapping.Bonification, log)
	}

	cancelled := run.loop(runCtx, documentIDs)
	run.finishMarking(ctx)

	res.Status = res.FinalStatus(cancelled)
	res.EndTime = time.Now()
	res.Marking = &run.marking

	rec.Status = res.Status
	rec.EndTime = res.EndTime
	rec.SuccessfulRecords = res.Processed
	rec.FailedRecords = res.Failed
	rec.SkippedRecords = res.Skipped
	rec.Details = res.Details
	rec.BonificationStats = res.BonificationStats
	if cancelled {
		rec.ErrorDetails = run.cancelReason
	}
	if err := e.execs.UpdateExecution(ctx, rec); err != nil {
		log.Warn("failed to persist execution record", zap.Error(err))
	}

	log.Info("execution finished",
		zap.String("status", string(res.Status)),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", res.EndTime.Sub(res.StartTime)))
	return res, nil
}

// connect acquires a server connection with bounded retries (3 attempts,
// exponential 1s/2s waits).
func (e *Engine) connect(ctx context.Context, serverKey string, log *zap.Logger) (dbconn.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var conn dbconn.Conn
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := e.conns.Get(ctx, serverKey)
		if err != nil {
			log.Warn("connection attempt failed",
				zap.String("server", serverKey), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries), ctx))
	if err != nil {
		return nil, dbconn.ErrConnection.Wrap(err)
	}
	return conn, nil
}

// abort finalizes a setup failure before the document loop started.
func (e *Engine) abort(ctx context.Context, rec *types.ExecutionRecord, res *types.Result, log *zap.Logger, cause error) (*types.Result, error) {
	log.Error("execution aborted during setup", zap.Error(cause))
	res.Status = types.StatusFailed
	res.EndTime = time.Now()
	rec.Status = types.StatusFailed
	rec.EndTime = res.EndTime
	rec.ErrorDetails = cause.Error()
	if err := e.execs.UpdateExecution(ctx, rec); err != nil {
		log.Warn("failed to persist execution record", zap.Error(err))
	}
	return res, cause
}

// allocator abstracts where consecutive values come from for one execution:
// the centralized reservation service or the mapping-local counter.
type allocator interface {
	reserve(ctx context.Context, docID string) (*reservedConsecutive, error)
}

// reservedConsecutive is one allocated value with its settle hooks. Local
// allocation persists the counter only on commit, so skipped and failed
// documents leave the stored lastValue untouched.
type reservedConsecutive struct {
	value  consecutive.ReservedValue
	commit func(ctx context.Context) error
	cancel func(ctx context.Context) error
}

func (e *Engine) newAllocator(ctx context.Context, mapping *types.Mapping, execID string) (allocator, error) {
	cc := &mapping.Consecutive
	if !cc.Enabled {
		return nil, nil
	}
	if cc.UseCentralizedService {
		if e.counters == nil {
			return nil, fmt.Errorf("engine: mapping %s requires the centralized consecutive service", mapping.ID)
		}
		counterID, err := e.counters.ResolveID(ctx, cc.ConsecutiveName)
		if err != nil {
			return nil, err
		}
		return &centralAllocator{svc: e.counters, counterID: counterID, reservedBy: execID}, nil
	}
	return &localAllocator{inner: consecutive.NewLocalAllocator(mapping.ID, cc, e.repo)}, nil
}

type centralAllocator struct {
	svc        *consecutive.Service
	counterID  string
	reservedBy string
}

func (a *centralAllocator) reserve(ctx context.Context, docID string) (*reservedConsecutive, error) {
	r, err := a.svc.Reserve(ctx, a.counterID, 1, "", a.reservedBy+"/"+docID)
	if err != nil {
		return nil, err
	}
	return &reservedConsecutive{
		value: r.Values[0],
		commit: func(ctx context.Context) error {
			return a.svc.Commit(ctx, a.counterID, r.ReservationID)
		},
		cancel: func(ctx context.Context) error {
			return a.svc.Cancel(ctx, a.counterID, r.ReservationID)
		},
	}, nil
}

type localAllocator struct {
	inner *consecutive.LocalAllocator
}

func (a *localAllocator) reserve(ctx context.Context, docID string) (*reservedConsecutive, error) {
	v := a.inner.Next()
	return &reservedConsecutive{
		value: v,
		commit: func(ctx context.Context) error {
			return a.inner.Commit(ctx, v.Numeric)
		},
		cancel: func(context.Context) error { return nil },
	}, nil
}

package derive

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/logging"
	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/store"
	"github.com/ppiankov/finverify/internal/worker"
)

// All is the refresh target naming every entity with raw facts
const All = "*"

// Invalidator drops cached snapshots after an entity is rewritten
type Invalidator interface {
	Invalidate(entity string)
}

// Deriver turns raw facts into the canonical snapshot table
type Deriver struct {
	catalog   *catalog.Catalog
	facts     store.FactSource
	snapshots store.SnapshotStore

	invalidator Invalidator
	metrics     *metrics.Metrics
	throttle    *worker.Limiter
	workers     int
	logger      *slog.Logger

	locks entityLocks
}

// Option configures a Deriver
type Option func(*Deriver)

// WithInvalidator registers a cache to invalidate after each write
func WithInvalidator(inv Invalidator) Option {
	return func(d *Deriver) { d.invalidator = inv }
}

// WithMetrics records refresh outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deriver) { d.metrics = m }
}

// WithThrottle limits how often a non-forced refresh may recompute one entity
func WithThrottle(l *worker.Limiter) Option {
	return func(d *Deriver) { d.throttle = l }
}

// WithWorkers bounds the number of entities refreshed in parallel by RefreshAll
func WithWorkers(n int) Option {
	return func(d *Deriver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger overrides the component logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Deriver) { d.logger = l }
}

// New creates a Deriver reading facts and writing snapshots through the given stores
func New(cat *catalog.Catalog, facts store.FactSource, snapshots store.SnapshotStore, opts ...Option) *Deriver {
	d := &Deriver{
		catalog:   cat,
		facts:     facts,
		snapshots: snapshots,
		workers:   runtime.NumCPU(),
		logger:    logging.New("derive"),
		locks:     entityLocks{locks: make(map[string]*sync.Mutex)},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Refresh recomputes snapshots for one entity, or for every entity when target is All.
// It returns the number of snapshots written; a skipped entity contributes zero.
func (d *Deriver) Refresh(ctx context.Context, target string, force bool) (int, error) {
	if target == All {
		return d.RefreshAll(ctx, force)
	}
	logger := d.logger.With("run_id", uuid.NewString())
	return d.refreshEntity(ctx, logger, target, force)
}

// RefreshAll refreshes every entity, running up to the configured number of entities in parallel
func (d *Deriver) RefreshAll(ctx context.Context, force bool) (int, error) {
	logger := d.logger.With("run_id", uuid.NewString())

	entities, err := d.facts.Entities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}
	logger.Info("refresh started", "entities", len(entities), "force", force, "workers", d.workers)

	var total int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			n, err := d.refreshEntity(gctx, logger, entity, force)
			if err != nil {
				return err
			}
			atomic.AddInt64(&total, int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&total)), err
	}

	logger.Info("refresh finished", "entities", len(entities), "snapshots", total)
	return int(total), nil
}

// GetMetrics returns the entity's current snapshots sorted by metric
func (d *Deriver) GetMetrics(ctx context.Context, entity string) ([]model.MetricSnapshot, error) {
	snaps, err := d.snapshots.Snapshots(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("get metrics for %q: %w", entity, err)
	}
	return snaps, nil
}

func (d *Deriver) refreshEntity(ctx context.Context, logger *slog.Logger, entity string, force bool) (int, error) {
	unlock := d.locks.lock(entity)
	defer unlock()

	start := time.Now()
	logger = logger.With("entity", entity)

	if !force && d.throttle != nil && !d.throttle.Allow(entity) {
		logger.Debug("refresh throttled")
		d.metrics.ObserveRefresh("throttled", time.Since(start), 0)
		return 0, nil
	}

	facts, err := d.facts.FactsForEntity(ctx, entity)
	if err != nil {
		d.metrics.ObserveRefresh("error", time.Since(start), 0)
		return 0, fmt.Errorf("load facts for %q: %w", entity, err)
	}

	if !force && len(facts) > 0 {
		fresh, err := d.isFresh(ctx, entity, facts)
		if err != nil {
			d.metrics.ObserveRefresh("error", time.Since(start), 0)
			return 0, err
		}
		if fresh {
			logger.Debug("snapshots up to date")
			d.metrics.ObserveRefresh("skipped", time.Since(start), 0)
			return 0, nil
		}
	}

	snapshots := Compute(d.catalog, entity, facts, logger)
	if err := d.snapshots.ReplaceSnapshots(ctx, entity, snapshots); err != nil {
		d.metrics.ObserveRefresh("error", time.Since(start), 0)
		return 0, fmt.Errorf("write snapshots for %q: %w", entity, err)
	}
	if d.invalidator != nil {
		d.invalidator.Invalidate(entity)
	}

	d.metrics.ObserveRefresh("written", time.Since(start), len(snapshots))
	logger.Info("snapshots written", "facts", len(facts), "snapshots", len(snapshots), "elapsed", time.Since(start))
	return len(snapshots), nil
}

// isFresh reports whether stored snapshots already reflect the newest ingested
// fact. Only facts whose tag maps to a catalog metric count. Ingestion times are
// assumed to only move forward; a fact loaded late with an older ingested_at
// needs a forced refresh.
func (d *Deriver) isFresh(ctx context.Context, entity string, facts []model.RawFact) (bool, error) {
	existing, err := d.snapshots.Snapshots(ctx, entity)
	if err != nil {
		return false, fmt.Errorf("load snapshots for %q: %w", entity, err)
	}

	var newestFact, newestSnap time.Time
	mapped := false
	for _, f := range facts {
		if _, ok := d.catalog.CanonicalForTag(f.Tag); !ok {
			continue
		}
		mapped = true
		if f.IngestedAt.After(newestFact) {
			newestFact = f.IngestedAt
		}
	}
	if !mapped {
		return len(existing) == 0, nil
	}
	if len(existing) == 0 {
		return false, nil
	}

	for _, s := range existing {
		if s.UpdatedAt.After(newestSnap) {
			newestSnap = s.UpdatedAt
		}
	}
	return !newestFact.After(newestSnap), nil
}

// entityLocks serializes refreshes of the same entity
type entityLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

func (l *entityLocks) lock(entity string) func() {
	l.mu.RLock()
	m, exists := l.locks[entity]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		if m, exists = l.locks[entity]; !exists {
			m = &sync.Mutex{}
			l.locks[entity] = m
		}
		l.mu.Unlock()
	}

	m.Lock()
	return m.Unlock
}

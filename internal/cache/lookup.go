package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/store"
)

// CachedLookup reads snapshots through a cache. Misses load the entity's full set.
type CachedLookup struct {
	store   store.SnapshotStore
	cache   Cache
	metrics *metrics.Metrics
}

// NewCachedLookup wraps a snapshot store with cache. m may be nil.
func NewCachedLookup(s store.SnapshotStore, c Cache, m *metrics.Metrics) *CachedLookup {
	return &CachedLookup{store: s, cache: c, metrics: m}
}

// Snapshot returns the (entity, metric) snapshot, loading the entity's set on a miss
func (l *CachedLookup) Snapshot(ctx context.Context, entity, metric string) (model.MetricSnapshot, bool, error) {
	set, err := l.load(ctx, entity)
	if err != nil {
		return model.MetricSnapshot{}, false, err
	}
	snap, ok := set[metric]
	return snap, ok, nil
}

// Snapshots returns the entity's snapshots sorted by metric
func (l *CachedLookup) Snapshots(ctx context.Context, entity string) ([]model.MetricSnapshot, error) {
	set, err := l.load(ctx, entity)
	if err != nil {
		return nil, err
	}
	return sortedSet(set), nil
}

// Invalidate drops the cached set so the next read sees freshly written snapshots
func (l *CachedLookup) Invalidate(entity string) {
	l.cache.Invalidate(entity)
}

func (l *CachedLookup) load(ctx context.Context, entity string) (map[string]model.MetricSnapshot, error) {
	if set, ok := l.cache.Get(entity); ok {
		l.metrics.CacheLookup(true)
		return set, nil
	}
	l.metrics.CacheLookup(false)
	snaps, err := l.store.Snapshots(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %q: %w", entity, err)
	}
	set := toSet(snaps)
	l.cache.Set(entity, set, 0)
	return set, nil
}

func toSet(snaps []model.MetricSnapshot) map[string]model.MetricSnapshot {
	set := make(map[string]model.MetricSnapshot, len(snaps))
	for _, s := range snaps {
		set[s.Metric] = s
	}
	return set
}

func sortedSet(set map[string]model.MetricSnapshot) []model.MetricSnapshot {
	out := make([]model.MetricSnapshot, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

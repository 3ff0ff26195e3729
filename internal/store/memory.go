package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/finverify/internal/model"
)

// MemoryStore is an in-process Store used by tests and dry runs
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	facts     map[string][]model.RawFact
	snapshots map[string]map[string]model.MetricSnapshot
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		facts:     make(map[string][]model.RawFact),
		snapshots: make(map[string]map[string]model.MetricSnapshot),
	}
}

// Entities lists entities with raw facts, sorted
func (m *MemoryStore) Entities(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.facts))
	for e := range m.facts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

// FactsForEntity returns a copy of the entity's facts in insertion order
func (m *MemoryStore) FactsForEntity(ctx context.Context, entity string) ([]model.RawFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.facts[entity]
	out := make([]model.RawFact, len(src))
	copy(out, src)
	return out, nil
}

// InsertFacts appends facts, assigning ids and stamping a zero IngestedAt with now
func (m *MemoryStore) InsertFacts(ctx context.Context, facts []model.RawFact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, f := range facts {
		m.nextID++
		f.ID = m.nextID
		if f.IngestedAt.IsZero() {
			f.IngestedAt = now
		}
		m.facts[f.Entity] = append(m.facts[f.Entity], f)
	}
	return len(facts), nil
}

// ReplaceSnapshots swaps the entity's snapshot set under the write lock
func (m *MemoryStore) ReplaceSnapshots(ctx context.Context, entity string, snapshots []model.MetricSnapshot) error {
	set := make(map[string]model.MetricSnapshot, len(snapshots))
	for _, s := range snapshots {
		set[s.Metric] = s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(set) == 0 {
		delete(m.snapshots, entity)
		return nil
	}
	m.snapshots[entity] = set
	return nil
}

// Snapshots returns the entity's snapshots sorted by metric
func (m *MemoryStore) Snapshots(ctx context.Context, entity string) ([]model.MetricSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.snapshots[entity]
	out := make([]model.MetricSnapshot, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

// Snapshot returns one snapshot
func (m *MemoryStore) Snapshot(ctx context.Context, entity, metric string) (model.MetricSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[entity][metric]
	return s, ok, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

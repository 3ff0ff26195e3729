package store

import (
	"context"

	"github.com/ppiankov/finverify/internal/model"
)

// FactSource is the read side of the raw fact table owned by ingestion
type FactSource interface {
	// Entities lists every entity with at least one raw fact, sorted
	Entities(ctx context.Context) ([]string, error)
	// FactsForEntity returns all raw facts for one entity
	FactsForEntity(ctx context.Context, entity string) ([]model.RawFact, error)
}

// SnapshotStore is the canonical metric_snapshots table
type SnapshotStore interface {
	// ReplaceSnapshots atomically swaps the entity's full snapshot set.
	// Readers see either the old set or the new one, never a mix.
	ReplaceSnapshots(ctx context.Context, entity string, snapshots []model.MetricSnapshot) error
	// Snapshots returns the entity's snapshots sorted by metric
	Snapshots(ctx context.Context, entity string) ([]model.MetricSnapshot, error)
	// Snapshot returns one snapshot; found is false when the pair is absent
	Snapshot(ctx context.Context, entity, metric string) (snap model.MetricSnapshot, found bool, err error)
}

// FactWriter appends raw facts. Only the load command and tests use it.
type FactWriter interface {
	InsertFacts(ctx context.Context, facts []model.RawFact) (int, error)
}

// Store bundles every table the tool touches
type Store interface {
	FactSource
	SnapshotStore
	FactWriter
	Close() error
}

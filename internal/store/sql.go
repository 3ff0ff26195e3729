package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ppiankov/finverify/internal/model"
)

// Dialect names the SQL backend
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const dateLayout = "2006-01-02"

// SQLStore implements Store on SQLite or Postgres
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens the backend named by driver ("sqlite" or "postgres") and applies the schema
func Open(driver, dsn string) (*SQLStore, error) {
	switch Dialect(strings.ToLower(driver)) {
	case DialectSQLite, "sqlite3", "":
		return OpenSQLite(dsn)
	case DialectPostgres, "postgresql":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// OpenSQLite opens (or creates) a SQLite database file
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL keeps readers on the last committed snapshot set.
	db.SetMaxOpenConns(1)
	return initStore(db, DialectSQLite, SQLiteSchema)
}

// OpenPostgres connects to Postgres through lib/pq
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return initStore(db, DialectPostgres, PostgresSchema)
}

func initStore(db *sql.DB, dialect Dialect, schema string) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Dialect reports which backend the store talks to
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// rebind rewrites ? placeholders to $n for Postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Entities lists every entity with raw facts
func (s *SQLStore) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity FROM raw_facts ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// FactsForEntity returns the entity's raw facts in insertion order
func (s *SQLStore) FactsForEntity(ctx context.Context, entity string) ([]model.RawFact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, entity, tag, unit, fiscal_year, fiscal_period, period_start, period_end,
		       value, source, accession, filed_at, ingested_at
		FROM raw_facts WHERE entity = ? ORDER BY id`), entity)
	if err != nil {
		return nil, fmt.Errorf("query facts for %q: %w", entity, err)
	}
	defer rows.Close()

	var facts []model.RawFact
	for rows.Next() {
		var (
			f                   model.RawFact
			period              string
			start, end          sql.NullString
			filedAt, ingestedAt string
		)
		if err := rows.Scan(&f.ID, &f.Entity, &f.Tag, &f.Unit, &f.FiscalYear, &period, &start, &end,
			&f.Value, &f.Source, &f.Accession, &filedAt, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.FiscalPeriod = model.FiscalPeriod(period)
		if f.PeriodStart, err = parseDate(start); err != nil {
			return nil, fmt.Errorf("fact %d period_start: %w", f.ID, err)
		}
		if f.PeriodEnd, err = parseDate(end); err != nil {
			return nil, fmt.Errorf("fact %d period_end: %w", f.ID, err)
		}
		if f.FiledAt, err = time.Parse(time.RFC3339Nano, filedAt); err != nil {
			return nil, fmt.Errorf("fact %d filed_at: %w", f.ID, err)
		}
		if f.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt); err != nil {
			return nil, fmt.Errorf("fact %d ingested_at: %w", f.ID, err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// InsertFacts appends raw facts in one transaction. A zero IngestedAt is stamped with the current time.
func (s *SQLStore) InsertFacts(ctx context.Context, facts []model.RawFact) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO raw_facts (entity, tag, unit, fiscal_year, fiscal_period, period_start, period_end,
		                       value, source, accession, filed_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, f := range facts {
		ingested := f.IngestedAt
		if ingested.IsZero() {
			ingested = now
		}
		if _, err := stmt.ExecContext(ctx, f.Entity, f.Tag, f.Unit, f.FiscalYear, string(f.FiscalPeriod),
			formatDate(f.PeriodStart), formatDate(f.PeriodEnd), f.Value, f.Source, f.Accession,
			f.FiledAt.UTC().Format(time.RFC3339Nano), ingested.UTC().Format(time.RFC3339Nano)); err != nil {
			return 0, fmt.Errorf("insert fact %s/%s: %w", f.Entity, f.Tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(facts), nil
}

// ReplaceSnapshots deletes and rewrites the entity's snapshots inside one transaction
func (s *SQLStore) ReplaceSnapshots(ctx context.Context, entity string, snapshots []model.MetricSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM metric_snapshots WHERE entity = ?`), entity); err != nil {
		return fmt.Errorf("delete snapshots for %q: %w", entity, err)
	}

	if len(snapshots) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO metric_snapshots (entity, metric, period, start_year, end_year, value, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range snapshots {
			if snap.Entity != entity {
				return fmt.Errorf("snapshot %s/%s does not belong to %q", snap.Entity, snap.Metric, entity)
			}
			if _, err := stmt.ExecContext(ctx, snap.Entity, snap.Metric, snap.Period, snap.StartYear, snap.EndYear,
				snap.Value, snap.Source, snap.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("insert snapshot %s/%s: %w", snap.Entity, snap.Metric, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Snapshots returns the entity's snapshots sorted by metric
func (s *SQLStore) Snapshots(ctx context.Context, entity string) ([]model.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT entity, metric, period, start_year, end_year, value, source, updated_at
		FROM metric_snapshots WHERE entity = ? ORDER BY metric`), entity)
	if err != nil {
		return nil, fmt.Errorf("query snapshots for %q: %w", entity, err)
	}
	defer rows.Close()

	var snaps []model.MetricSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Snapshot returns one (entity, metric) snapshot
func (s *SQLStore) Snapshot(ctx context.Context, entity, metric string) (model.MetricSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT entity, metric, period, start_year, end_year, value, source, updated_at
		FROM metric_snapshots WHERE entity = ? AND metric = ?`), entity, metric)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return model.MetricSnapshot{}, false, nil
	}
	if err != nil {
		return model.MetricSnapshot{}, false, err
	}
	return snap, true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (model.MetricSnapshot, error) {
	var (
		snap    model.MetricSnapshot
		updated string
	)
	if err := row.Scan(&snap.Entity, &snap.Metric, &snap.Period, &snap.StartYear, &snap.EndYear,
		&snap.Value, &snap.Source, &updated); err != nil {
		if err == sql.ErrNoRows {
			return snap, err
		}
		return snap, fmt.Errorf("scan snapshot: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return snap, fmt.Errorf("snapshot %s/%s updated_at: %w", snap.Entity, snap.Metric, err)
	}
	snap.UpdatedAt = t
	return snap, nil
}

func parseDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

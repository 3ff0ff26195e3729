package derive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/store"
	"github.com/ppiankov/finverify/internal/worker"
)

var (
	filed    = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	ingested = time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
)

func fact(entity, tag, unit string, year int, period model.FiscalPeriod, value float64) model.RawFact {
	return model.RawFact{
		Entity: entity, Tag: tag, Unit: unit, FiscalYear: year, FiscalPeriod: period,
		Value: value, Source: "SEC", FiledAt: filed, IngestedAt: ingested,
	}
}

func newTestDeriver(t *testing.T, facts []model.RawFact, opts ...Option) (*Deriver, *store.MemoryStore) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error: %v", err)
	}
	s := store.NewMemoryStore()
	if _, err := s.InsertFacts(context.Background(), facts); err != nil {
		t.Fatalf("InsertFacts error: %v", err)
	}
	return New(cat, s, s, opts...), s
}

func snapshotMap(t *testing.T, d *Deriver, entity string) map[string]model.MetricSnapshot {
	t.Helper()
	snaps, err := d.GetMetrics(context.Background(), entity)
	if err != nil {
		t.Fatalf("GetMetrics error: %v", err)
	}
	out := make(map[string]model.MetricSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.Metric] = s
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func appleFacts() []model.RawFact {
	return []model.RawFact{
		fact("AAPL", "Revenues", "USD", 2024, model.PeriodFY, 391.035e9),
		fact("AAPL", "Revenues", "USD", 2023, model.PeriodFY, 383.285e9),
		fact("AAPL", "Revenues", "USD", 2022, model.PeriodFY, 394.328e9),
		fact("AAPL", "GrossProfit", "USD_millions", 2024, model.PeriodFY, 180683),
		fact("AAPL", "NetIncomeLoss", "USD", 2024, model.PeriodFY, 93.736e9),
		fact("AAPL", "EarningsPerShareDiluted", "USD/shares", 2024, model.PeriodFY, 6.08),
		fact("AAPL", "market_cap", "USD_billions", 2024, model.PeriodQ4, 3500),
		fact("AAPL", "dei:SomethingUnmapped", "USD", 2024, model.PeriodFY, 1),
	}
}

func TestRefresh_DerivesBaseDerivedAndAggregate(t *testing.T) {
	d, _ := newTestDeriver(t, appleFacts())

	n, err := d.Refresh(context.Background(), "AAPL", true)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	snaps := snapshotMap(t, d, "AAPL")
	if n != len(snaps) {
		t.Errorf("Refresh returned %d, store holds %d", n, len(snaps))
	}

	rev := snaps["revenue"]
	if rev.Value != 391.035e9 || rev.Period != "FY2024" || rev.Source != "SEC" {
		t.Errorf("unexpected revenue snapshot: %+v", rev)
	}
	if gp := snaps["gross_profit"]; gp.Value != 180683e6 {
		t.Errorf("gross_profit = %v, want millions scaled to dollars", gp.Value)
	}
	if gm := snaps["gross_margin"]; !approx(gm.Value, 180683e6/391.035e9) {
		t.Errorf("gross_margin = %v", gm.Value)
	}
	if g := snaps["revenue_growth"]; !approx(g.Value, 391.035e9/383.285e9-1) || g.StartYear != 2023 || g.EndYear != 2024 {
		t.Errorf("unexpected revenue_growth: %+v", g)
	}
	if pe := snaps["pe_ratio"]; !approx(pe.Value, 3500e9/93.736e9) || pe.Period != "FY2024" {
		t.Errorf("unexpected pe_ratio: %+v", pe)
	}
	if ey := snaps["earnings_yield"]; !approx(ey.Value, 93.736e9/3500e9) {
		t.Errorf("earnings_yield = %v", ey.Value)
	}
	if eps := snaps["eps"]; eps.Value != 6.08 {
		t.Errorf("eps = %v", eps.Value)
	}
	if _, ok := snaps["net_margin"]; !ok {
		t.Error("expected net_margin")
	}
	// No equity facts: ratios over equity must be absent
	if _, ok := snaps["roe"]; ok {
		t.Error("roe should be skipped without shareholders_equity")
	}
}

func TestRefresh_Deterministic(t *testing.T) {
	d, _ := newTestDeriver(t, appleFacts())
	ctx := context.Background()

	if _, err := d.Refresh(ctx, "AAPL", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	first, _ := d.GetMetrics(ctx, "AAPL")

	if _, err := d.Refresh(ctx, "AAPL", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	second, _ := d.GetMetrics(ctx, "AAPL")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("snapshots changed between forced refreshes (-first +second):\n%s", diff)
	}
}

func TestCompute_IndependentOfFactOrder(t *testing.T) {
	cat, _ := catalog.Default()
	facts := appleFacts()
	facts = append(facts, model.RawFact{
		Entity: "AAPL", Tag: "Revenues", Unit: "USD", FiscalYear: 2024, FiscalPeriod: model.PeriodFY,
		Value: 391.1e9, Source: "vendor", FiledAt: filed, IngestedAt: ingested,
	})

	reversed := make([]model.RawFact, len(facts))
	for i, f := range facts {
		reversed[len(facts)-1-i] = f
	}

	a := Compute(cat, "AAPL", facts, nil)
	b := Compute(cat, "AAPL", reversed, nil)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Compute depends on input order (-forward +reversed):\n%s", diff)
	}
}

func TestSelection_AnnualBeatsQuarter(t *testing.T) {
	q3 := fact("MSFT", "Revenues", "USD", 2023, model.PeriodQ3, 56.5e9)
	q3.FiledAt = filed.AddDate(0, 1, 0) // a newer filing must not beat the annual figure
	d, _ := newTestDeriver(t, []model.RawFact{
		fact("MSFT", "Revenues", "USD", 2023, model.PeriodFY, 211.9e9),
		q3,
	})

	if _, err := d.Refresh(context.Background(), "MSFT", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	rev := snapshotMap(t, d, "MSFT")["revenue"]
	if rev.Period != "FY2023" || rev.Value != 211.9e9 {
		t.Errorf("Expected FY2023 revenue to win, got %+v", rev)
	}
}

func TestSelection_Policy(t *testing.T) {
	restated := fact("X", "Revenues", "USD", 2023, model.PeriodFY, 105)
	restated.FiledAt = filed.AddDate(0, 6, 0)

	tests := []struct {
		name       string
		facts      []model.RawFact
		wantValue  float64
		wantPeriod string
	}{
		{
			name: "newer fiscal year wins over annual",
			facts: []model.RawFact{
				fact("X", "Revenues", "USD", 2023, model.PeriodFY, 100),
				fact("X", "Revenues", "USD", 2024, model.PeriodQ1, 30),
			},
			wantValue:  30,
			wantPeriod: "Q1 2024",
		},
		{
			name: "later quarter wins within a year",
			facts: []model.RawFact{
				fact("X", "Revenues", "USD", 2024, model.PeriodQ1, 30),
				fact("X", "Revenues", "USD", 2024, model.PeriodQ2, 31),
			},
			wantValue:  31,
			wantPeriod: "Q2 2024",
		},
		{
			name: "latest filing wins for the same period",
			facts: []model.RawFact{
				fact("X", "Revenues", "USD", 2023, model.PeriodFY, 100),
				restated,
			},
			wantValue:  105,
			wantPeriod: "FY2023",
		},
		{
			name: "synonym tags compete for one metric",
			facts: []model.RawFact{
				fact("X", "us-gaap:SalesRevenueNet", "USD_thousands", 2022, model.PeriodFY, 90),
				fact("X", "RevenueFromContractWithCustomerExcludingAssessedTax", "USD", 2023, model.PeriodFY, 100),
			},
			wantValue:  100,
			wantPeriod: "FY2023",
		},
		{
			name: "unknown units and periods are ignored",
			facts: []model.RawFact{
				fact("X", "Revenues", "EUR", 2025, model.PeriodFY, 999),
				fact("X", "Revenues", "USD", 2025, model.FiscalPeriod("H1"), 998),
				fact("X", "Revenues", "USD_millions", 2023, model.PeriodFY, 0.1),
			},
			wantValue:  100000,
			wantPeriod: "FY2023",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDeriver(t, tt.facts)
			if _, err := d.Refresh(context.Background(), "X", true); err != nil {
				t.Fatalf("Refresh error: %v", err)
			}
			rev, ok := snapshotMap(t, d, "X")["revenue"]
			if !ok {
				t.Fatal("Expected revenue snapshot")
			}
			if !approx(rev.Value, tt.wantValue) || rev.Period != tt.wantPeriod {
				t.Errorf("Expected %v %s, got %v %s", tt.wantValue, tt.wantPeriod, rev.Value, rev.Period)
			}
		})
	}
}

func TestCAGR_SkippedWithoutBaseYear(t *testing.T) {
	facts := []model.RawFact{
		fact("NVDA", "Revenues", "USD", 2024, model.PeriodFY, 133.1),
		fact("NVDA", "Revenues", "USD", 2023, model.PeriodFY, 121),
		fact("NVDA", "Revenues", "USD", 2022, model.PeriodFY, 110),
	}
	d, s := newTestDeriver(t, facts)
	ctx := context.Background()

	if _, err := d.Refresh(ctx, "NVDA", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	snaps := snapshotMap(t, d, "NVDA")
	if _, ok := snaps["revenue_cagr_3y"]; ok {
		t.Error("revenue_cagr_3y must be absent when year N-3 is missing")
	}
	if _, ok := snaps["revenue_growth"]; !ok {
		t.Error("revenue_growth should still be derived")
	}

	s.InsertFacts(ctx, []model.RawFact{fact("NVDA", "Revenues", "USD", 2021, model.PeriodFY, 100)})
	if _, err := d.Refresh(ctx, "NVDA", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	cagr, ok := snapshotMap(t, d, "NVDA")["revenue_cagr_3y"]
	if !ok {
		t.Fatal("Expected revenue_cagr_3y once FY2021 exists")
	}
	if !approx(cagr.Value, 0.1) || cagr.StartYear != 2021 || cagr.EndYear != 2024 {
		t.Errorf("unexpected CAGR snapshot: %+v", cagr)
	}
}

func TestDerived_UsesAnchorPeriodOnly(t *testing.T) {
	// Gross profit only exists for an older year: margin must not mix periods
	d, _ := newTestDeriver(t, []model.RawFact{
		fact("X", "Revenues", "USD", 2024, model.PeriodFY, 200),
		fact("X", "GrossProfit", "USD", 2023, model.PeriodFY, 80),
	})
	if _, err := d.Refresh(context.Background(), "X", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if _, ok := snapshotMap(t, d, "X")["gross_margin"]; ok {
		t.Error("gross_margin should be skipped when gross_profit is missing for FY2024")
	}
}

func TestDerived_SkipsNonFinite(t *testing.T) {
	d, _ := newTestDeriver(t, []model.RawFact{
		fact("X", "Revenues", "USD", 2024, model.PeriodFY, 0),
		fact("X", "GrossProfit", "USD", 2024, model.PeriodFY, 10),
	})
	if _, err := d.Refresh(context.Background(), "X", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if _, ok := snapshotMap(t, d, "X")["gross_margin"]; ok {
		t.Error("division by zero must not produce a snapshot")
	}
}

func TestPercentFactsStoredAsFractions(t *testing.T) {
	d, _ := newTestDeriver(t, []model.RawFact{
		fact("US", "FEDFUNDS", "percent", 2024, model.PeriodQ4, 4.33),
	})
	if _, err := d.Refresh(context.Background(), "US", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if got := snapshotMap(t, d, "US")["fed_funds_rate"].Value; !approx(got, 0.0433) {
		t.Errorf("fed_funds_rate = %v, want 0.0433", got)
	}
}

func TestRefresh_ZeroFacts(t *testing.T) {
	d, s := newTestDeriver(t, nil)
	ctx := context.Background()
	s.ReplaceSnapshots(ctx, "GONE", []model.MetricSnapshot{{Entity: "GONE", Metric: "revenue", Value: 1}})

	n, err := d.Refresh(ctx, "GONE", false)
	if err != nil {
		t.Fatalf("Expected no error for entity without facts, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 snapshots, got %d", n)
	}
	if snaps, _ := d.GetMetrics(ctx, "GONE"); len(snaps) != 0 {
		t.Errorf("Expected snapshots to be cleared, got %d", len(snaps))
	}
}

func TestRefresh_StalenessShortCircuit(t *testing.T) {
	d, s := newTestDeriver(t, appleFacts())
	ctx := context.Background()

	first, err := d.Refresh(ctx, "AAPL", false)
	if err != nil || first == 0 {
		t.Fatalf("first refresh = %d, %v", first, err)
	}

	if n, err := d.Refresh(ctx, "AAPL", false); err != nil || n != 0 {
		t.Errorf("Expected fresh snapshots to short-circuit, got %d, %v", n, err)
	}
	if n, err := d.Refresh(ctx, "AAPL", true); err != nil || n != first {
		t.Errorf("Expected forced refresh to rewrite %d snapshots, got %d, %v", first, n, err)
	}

	newer := fact("AAPL", "Revenues", "USD", 2025, model.PeriodQ1, 124.3e9)
	newer.IngestedAt = ingested.Add(24 * time.Hour)
	s.InsertFacts(ctx, []model.RawFact{newer})

	if n, err := d.Refresh(ctx, "AAPL", false); err != nil || n == 0 {
		t.Errorf("Expected new fact to trigger recomputation, got %d, %v", n, err)
	}
	rev := snapshotMap(t, d, "AAPL")["revenue"]
	if rev.Period != "Q1 2025" || !rev.UpdatedAt.Equal(newer.IngestedAt) {
		t.Errorf("unexpected revenue after new fact: %+v", rev)
	}
}

func TestRefresh_UnmappedFactsDoNotForceRecompute(t *testing.T) {
	d, s := newTestDeriver(t, appleFacts())
	ctx := context.Background()

	if n, err := d.Refresh(ctx, "AAPL", false); err != nil || n == 0 {
		t.Fatalf("first refresh = %d, %v", n, err)
	}

	unmapped := fact("AAPL", "EmployeeHeadcount", "pure", 2025, model.PeriodFY, 164000)
	unmapped.IngestedAt = ingested.Add(48 * time.Hour)
	s.InsertFacts(ctx, []model.RawFact{unmapped})

	for i := 0; i < 2; i++ {
		if n, err := d.Refresh(ctx, "AAPL", false); err != nil || n != 0 {
			t.Errorf("run %d: expected unmapped fact to leave snapshots fresh, got %d, %v", i, n, err)
		}
	}
}

func TestRefresh_OnlyUnmappedFacts(t *testing.T) {
	facts := []model.RawFact{fact("X", "EmployeeHeadcount", "pure", 2024, model.PeriodFY, 10)}
	d, _ := newTestDeriver(t, facts)

	n, err := d.Refresh(context.Background(), "X", false)
	if err != nil || n != 0 {
		t.Errorf("Expected nothing to write, got %d, %v", n, err)
	}
}

func TestRefresh_Throttle(t *testing.T) {
	d, s := newTestDeriver(t, appleFacts(), WithThrottle(worker.NewIntervalLimiter(time.Hour)))
	ctx := context.Background()

	if n, _ := d.Refresh(ctx, "AAPL", false); n == 0 {
		t.Fatal("first refresh should write snapshots")
	}

	newer := fact("AAPL", "Revenues", "USD", 2025, model.PeriodQ1, 124.3e9)
	newer.IngestedAt = ingested.Add(time.Hour)
	s.InsertFacts(ctx, []model.RawFact{newer})

	if n, _ := d.Refresh(ctx, "AAPL", false); n != 0 {
		t.Errorf("Expected throttled refresh to write nothing, got %d", n)
	}
	if n, _ := d.Refresh(ctx, "AAPL", true); n == 0 {
		t.Error("forced refresh must bypass the throttle")
	}
}

type recordingInvalidator struct {
	mu       sync.Mutex
	entities []string
}

func (r *recordingInvalidator) Invalidate(entity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = append(r.entities, entity)
}

func TestRefreshAll(t *testing.T) {
	var facts []model.RawFact
	for i := 0; i < 12; i++ {
		entity := fmt.Sprintf("E%02d", i)
		facts = append(facts,
			fact(entity, "Revenues", "USD", 2024, model.PeriodFY, float64(100+i)),
			fact(entity, "GrossProfit", "USD", 2024, model.PeriodFY, 40),
		)
	}
	inv := &recordingInvalidator{}
	d, _ := newTestDeriver(t, facts, WithWorkers(4), WithInvalidator(inv))

	n, err := d.Refresh(context.Background(), All, true)
	if err != nil {
		t.Fatalf("RefreshAll error: %v", err)
	}
	// revenue, gross_profit and gross_margin per entity
	if n != 36 {
		t.Errorf("Expected 36 snapshots, got %d", n)
	}
	if len(inv.entities) != 12 {
		t.Errorf("Expected 12 invalidations, got %d", len(inv.entities))
	}
	if gm := snapshotMap(t, d, "E07")["gross_margin"]; !approx(gm.Value, 40.0/107) {
		t.Errorf("E07 gross_margin = %v", gm.Value)
	}
}

func TestRefresh_ConcurrentSameEntity(t *testing.T) {
	d, _ := newTestDeriver(t, appleFacts())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Refresh(ctx, "AAPL", true); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent refresh error: %v", err)
	}

	want := Compute(d.catalog, "AAPL", appleFacts(), nil)
	got, _ := d.GetMetrics(ctx, "AAPL")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("final snapshot set mismatch (-want +got):\n%s", diff)
	}
}

type failingFacts struct{ err error }

func (f failingFacts) Entities(ctx context.Context) ([]string, error) { return nil, f.err }
func (f failingFacts) FactsForEntity(ctx context.Context, entity string) ([]model.RawFact, error) {
	return nil, f.err
}

func TestRefresh_PropagatesStoreErrors(t *testing.T) {
	cat, _ := catalog.Default()
	boom := errors.New("database unavailable")
	d := New(cat, failingFacts{err: boom}, store.NewMemoryStore())

	if _, err := d.Refresh(context.Background(), "AAPL", true); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
	if _, err := d.RefreshAll(context.Background(), true); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped store error from RefreshAll, got %v", err)
	}
}

package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/store"
)

func newTestVerifier(t *testing.T, snaps []model.MetricSnapshot, opts ...Option) *Verifier {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	s := store.NewMemoryStore()
	byEntity := make(map[string][]model.MetricSnapshot)
	for _, snap := range snaps {
		byEntity[snap.Entity] = append(byEntity[snap.Entity], snap)
	}
	for entity, set := range byEntity {
		if err := s.ReplaceSnapshots(context.Background(), entity, set); err != nil {
			t.Fatalf("Failed to seed snapshots: %v", err)
		}
	}
	return New(cat, s, opts...)
}

func snapshot(entity, metric string, value float64) model.MetricSnapshot {
	return model.MetricSnapshot{
		Entity:    entity,
		Metric:    metric,
		Period:    "FY2024",
		StartYear: 2024,
		EndYear:   2024,
		Value:     value,
		Source:    "sec",
		UpdatedAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestVerify_Correct(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "revenue", 394_300_000_000)})

	claim := model.ExtractedClaim{Value: 394.3, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue", Raw: "$394.3B"}
	r, err := v.Verify(context.Background(), claim)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !r.Correct || r.Status != model.StatusVerified {
		t.Errorf("Expected verified, got %s (%s)", r.Status, r.Message)
	}
	if r.DeviationPct != 0 {
		t.Errorf("Expected zero deviation, got %v", r.DeviationPct)
	}
	if r.Weight != 1 {
		t.Errorf("Expected weight 1.0, got %v", r.Weight)
	}
	if r.Actual == nil || *r.Actual != 394_300_000_000 {
		t.Errorf("Expected actual 394300000000, got %v", r.Actual)
	}
	if r.Source != "SEC" || r.SourceTier != model.TierPrimary {
		t.Errorf("Expected SEC primary, got %q %v", r.Source, r.SourceTier)
	}
	if r.ActualPeriod != "FY2024" || r.PeriodMismatch {
		t.Errorf("Expected FY2024 without mismatch, got %q %v", r.ActualPeriod, r.PeriodMismatch)
	}
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "pe_ratio", 20)})

	tests := []struct {
		value   float64
		correct bool
		status  model.VerificationStatus
	}{
		{21, true, model.StatusVerified},        // exactly 5.0%
		{19, true, model.StatusVerified},        // exactly 5.0% below
		{21.002, false, model.StatusDiscrepant}, // 5.01%
		{18.998, false, model.StatusDiscrepant},
		{20.5, true, model.StatusVerified},
	}

	for _, tt := range tests {
		claim := model.ExtractedClaim{Value: tt.value, Unit: model.UnitMultiple, Entity: "AAPL", Metric: "pe_ratio"}
		r, err := v.Verify(context.Background(), claim)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if r.Correct != tt.correct || r.Status != tt.status {
			t.Errorf("%v: expected correct=%v %s, got %v %s (deviation %v)", tt.value, tt.correct, tt.status, r.Correct, r.Status, r.DeviationPct)
		}
	}
}

func TestVerify_Weight(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "pe_ratio", 20)})

	tests := []struct {
		value  float64
		weight float64
	}{
		{20, 1},
		{20.5, 0.75}, // 2.5% is half way to the boundary
		{21, 0.5},
		{30, 0.5},
	}
	for _, tt := range tests {
		r, err := v.Verify(context.Background(), model.ExtractedClaim{Value: tt.value, Unit: model.UnitMultiple, Entity: "AAPL", Metric: "pe_ratio"})
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if r.Weight != tt.weight {
			t.Errorf("%v: expected weight %v, got %v", tt.value, tt.weight, r.Weight)
		}
	}
}

func TestVerify_Units(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{
		snapshot("AAPL", "gross_margin", 0.459),
		snapshot("AAPL", "eps", 6.08),
		snapshot("AAPL", "revenue", 394_300_000_000),
	})

	tests := []struct {
		name   string
		claim  model.ExtractedClaim
		status model.VerificationStatus
	}{
		{"percent against fraction", model.ExtractedClaim{Value: 45.9, Unit: model.UnitPercent, Metric: "gross_margin"}, model.StatusVerified},
		{"raw dollars per share", model.ExtractedClaim{Value: 6.13, Unit: model.UnitCurrency, Metric: "eps"}, model.StatusVerified},
		{"raw dollars against currency", model.ExtractedClaim{Value: 394_300_000_000, Unit: model.UnitCurrency, Metric: "revenue"}, model.StatusVerified},
		{"percent for currency metric", model.ExtractedClaim{Value: 45.9, Unit: model.UnitPercent, Metric: "revenue"}, model.StatusUnresolved},
		{"billions for per-share metric", model.ExtractedClaim{Value: 6.08, Unit: model.UnitCurrencyBillions, Metric: "eps"}, model.StatusUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claim.Entity = "AAPL"
			r, err := v.Verify(context.Background(), tt.claim)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if r.Status != tt.status {
				t.Errorf("Expected %s, got %s (%s)", tt.status, r.Status, r.Message)
			}
		})
	}
}

func TestVerify_NotCheckable(t *testing.T) {
	v := newTestVerifier(t, nil)

	tests := []struct {
		name    string
		claim   model.ExtractedClaim
		status  model.VerificationStatus
		message string
	}{
		{"no entity", model.ExtractedClaim{Value: 10, Unit: model.UnitCurrencyBillions, Metric: "revenue"}, model.StatusUnresolved, MsgUnresolved},
		{"no metric", model.ExtractedClaim{Value: 10, Unit: model.UnitCurrencyBillions, Entity: "AAPL"}, model.StatusUnresolved, MsgUnresolved},
		{"not in store", model.ExtractedClaim{Value: 10, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue"}, model.StatusNotFound, MsgNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := v.Verify(context.Background(), tt.claim)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if r.Status != tt.status || r.Message != tt.message {
				t.Errorf("Expected %s %q, got %s %q", tt.status, tt.message, r.Status, r.Message)
			}
			if r.Correct || r.Actual != nil || r.Weight != 0 {
				t.Errorf("Expected no judgement, got correct=%v actual=%v weight=%v", r.Correct, r.Actual, r.Weight)
			}
		})
	}
}

func TestVerify_PeriodMismatch(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "revenue", 394_300_000_000)})

	claim := model.ExtractedClaim{Value: 394.3, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue", Period: "FY2023"}
	r, err := v.Verify(context.Background(), claim)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Correct || !r.PeriodMismatch {
		t.Errorf("Expected correct value with period mismatch, got correct=%v mismatch=%v", r.Correct, r.PeriodMismatch)
	}
	if !strings.Contains(r.Message, "FY2023") {
		t.Errorf("Expected message to name the claimed period, got %q", r.Message)
	}
}

func TestVerify_ZeroSnapshot(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "revenue_growth", 0)})

	r, err := v.Verify(context.Background(), model.ExtractedClaim{Value: 0, Unit: model.UnitPercent, Entity: "AAPL", Metric: "revenue_growth"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Correct {
		t.Errorf("Expected zero claim against zero snapshot to be correct, got %s", r.Message)
	}

	r, err = v.Verify(context.Background(), model.ExtractedClaim{Value: 1, Unit: model.UnitPercent, Entity: "AAPL", Metric: "revenue_growth"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if r.Correct {
		t.Error("Expected non-zero claim against zero snapshot to be discrepant")
	}
}

type failingLookup struct{ err error }

func (f failingLookup) Snapshot(ctx context.Context, entity, metric string) (model.MetricSnapshot, bool, error) {
	return model.MetricSnapshot{}, false, f.err
}

func TestVerifyAll_LookupError(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	boom := errors.New("database unavailable")
	v := New(cat, failingLookup{err: boom})

	claims := []model.ExtractedClaim{
		{Value: 10, Unit: model.UnitCurrencyBillions},
		{Value: 10, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue"},
	}
	if _, err := v.VerifyAll(context.Background(), claims); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped lookup error, got %v", err)
	}
}

func TestVerifyAll_CountsStatuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "revenue", 394_300_000_000)}, WithMetrics(m))

	claims := []model.ExtractedClaim{
		{Value: 394.3, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue"},
		{Value: 500, Unit: model.UnitCurrencyBillions, Entity: "AAPL", Metric: "revenue"},
		{Value: 10, Unit: model.UnitCurrencyBillions, Entity: "MSFT", Metric: "revenue"},
		{Value: 10, Unit: model.UnitCurrencyBillions},
	}
	results, err := v.VerifyAll(context.Background(), claims)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}

	for _, status := range []model.VerificationStatus{model.StatusVerified, model.StatusDiscrepant, model.StatusNotFound, model.StatusUnresolved} {
		if got := testutil.ToFloat64(m.Claims.WithLabelValues(string(status))); got != 1 {
			t.Errorf("Expected 1 %s claim, got %v", status, got)
		}
	}
}

func TestWithTolerance(t *testing.T) {
	v := newTestVerifier(t, []model.MetricSnapshot{snapshot("AAPL", "pe_ratio", 20)}, WithTolerance(10), WithWeightFloor(0))

	r, err := v.Verify(context.Background(), model.ExtractedClaim{Value: 21.5, Unit: model.UnitMultiple, Entity: "AAPL", Metric: "pe_ratio"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Correct {
		t.Errorf("Expected 7.5%% to pass a 10%% tolerance, got %s", r.Message)
	}
	if r.Weight != 0.25 {
		t.Errorf("Expected weight 0.25, got %v", r.Weight)
	}
}

package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/logging"
	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
)

// Result messages for claims that could not be checked
const (
	MsgUnresolved = "missing ticker/metric"
	MsgNotFound   = "metric not found in store"
)

var (
	epsilon = decimal.New(1, -9)
	hundred = decimal.NewFromInt(100)
	billion = decimal.New(1, 9)
)

// Lookup finds the current snapshot for an (entity, metric) pair.
// Both store.SnapshotStore and cache.CachedLookup satisfy it.
type Lookup interface {
	Snapshot(ctx context.Context, entity, metric string) (model.MetricSnapshot, bool, error)
}

// Verifier judges extracted claims against the canonical snapshot table
type Verifier struct {
	catalog   *catalog.Catalog
	lookup    Lookup
	sources   *SourceClassifier
	tolerance decimal.Decimal
	floor     float64
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Verifier
type Option func(*Verifier)

// WithTolerance sets the maximum relative deviation, in percent, still judged correct
func WithTolerance(pct float64) Option {
	return func(v *Verifier) {
		if pct >= 0 {
			v.tolerance = decimal.NewFromFloat(pct)
		}
	}
}

// WithWeightFloor sets the confidence weight given at the tolerance boundary
func WithWeightFloor(floor float64) Option {
	return func(v *Verifier) {
		if floor >= 0 && floor <= 1 {
			v.floor = floor
		}
	}
}

// WithMetrics counts verification outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithSourceClassifier replaces the built-in source table
func WithSourceClassifier(c *SourceClassifier) Option {
	return func(v *Verifier) { v.sources = c }
}

// New creates a Verifier that resolves snapshots through lookup
func New(cat *catalog.Catalog, lookup Lookup, opts ...Option) *Verifier {
	v := &Verifier{
		catalog:   cat,
		lookup:    lookup,
		sources:   NewSourceClassifier(),
		tolerance: decimal.NewFromFloat(model.DefaultTolerancePct),
		floor:     model.DefaultWeightFloor,
		logger:    logging.New("verify"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sources returns the verifier's source classifier
func (v *Verifier) Sources() *SourceClassifier {
	return v.sources
}

// Verify checks one claim. Unresolved, missing and discrepant claims are
// reported in the result; only lookup failures return an error.
func (v *Verifier) Verify(ctx context.Context, claim model.ExtractedClaim) (model.VerificationResult, error) {
	result, err := v.verify(ctx, claim)
	if err != nil {
		return result, err
	}
	v.metrics.ObserveClaim(result.Status)
	v.logger.Debug("claim verified", "entity", claim.Entity, "metric", claim.Metric,
		"raw", claim.Raw, "status", result.Status, "deviation_pct", result.DeviationPct)
	return result, nil
}

// VerifyAll checks claims in order and stops at the first lookup failure
func (v *Verifier) VerifyAll(ctx context.Context, claims []model.ExtractedClaim) ([]model.VerificationResult, error) {
	results := make([]model.VerificationResult, 0, len(claims))
	for _, c := range claims {
		r, err := v.Verify(ctx, c)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (v *Verifier) verify(ctx context.Context, claim model.ExtractedClaim) (model.VerificationResult, error) {
	result := model.VerificationResult{Claim: claim, Status: model.StatusUnresolved}

	if !claim.Resolved() {
		result.Message = MsgUnresolved
		return result, nil
	}

	def, ok := v.catalog.Metric(claim.Metric)
	if !ok {
		result.Message = fmt.Sprintf("unknown metric %q", claim.Metric)
		return result, nil
	}
	if !def.Kind.Accepts(claim.Unit) {
		result.Message = fmt.Sprintf("%s claim cannot describe %s metric %s", claim.Unit, def.Kind, claim.Metric)
		return result, nil
	}

	snap, found, err := v.lookup.Snapshot(ctx, claim.Entity, claim.Metric)
	if err != nil {
		return result, fmt.Errorf("look up %s %s: %w", claim.Entity, claim.Metric, err)
	}
	if !found {
		result.Status = model.StatusNotFound
		result.Message = MsgNotFound
		return result, nil
	}

	actual := snap.Value
	result.Actual = &actual
	result.ActualPeriod = snap.Period
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		result.UpdatedAt = &updated
	}
	result.Source = v.sources.Normalize(snap.Source)
	result.SourceTier = v.sources.Classify(snap.Source)
	result.PeriodMismatch = claim.Period != "" && claim.Period != snap.Period

	deviation := Deviation(claim, snap.Value)
	result.DeviationPct = deviation.InexactFloat64()

	if deviation.LessThanOrEqual(v.tolerance) {
		result.Status = model.StatusVerified
		result.Correct = true
		result.Weight = v.weight(deviation)
		result.Message = fmt.Sprintf("matches %s %s within %s%%", snap.Period, claim.Metric, deviation.StringFixed(2))
	} else {
		result.Status = model.StatusDiscrepant
		result.Weight = v.floor
		result.Message = fmt.Sprintf("deviates %s%% from %s %s", deviation.StringFixed(2), snap.Period, claim.Metric)
	}
	if result.PeriodMismatch {
		result.Message += fmt.Sprintf(" (claim says %s)", claim.Period)
	}
	return result, nil
}

// weight decays linearly from 1 at zero deviation to the floor at the tolerance boundary
func (v *Verifier) weight(deviation decimal.Decimal) float64 {
	if !v.tolerance.IsPositive() {
		return 1
	}
	ratio := deviation.Div(v.tolerance).InexactFloat64()
	return 1 - (1-v.floor)*ratio
}

// Deviation returns |claim - actual| / max(|actual|, epsilon) * 100, with the
// claim converted to the snapshot's raw units first
func Deviation(claim model.ExtractedClaim, actual float64) decimal.Decimal {
	c := ClaimInSnapshotUnits(claim)
	s := decimal.NewFromFloat(actual)

	denom := s.Abs()
	if denom.LessThan(epsilon) {
		denom = epsilon
	}
	return c.Sub(s).Abs().Mul(hundred).Div(denom)
}

// ClaimInSnapshotUnits converts a claim value to the units snapshots are stored in:
// billions to dollars, percentage points to fractions
func ClaimInSnapshotUnits(claim model.ExtractedClaim) decimal.Decimal {
	v := decimal.NewFromFloat(claim.Value)
	switch claim.Unit {
	case model.UnitCurrencyBillions:
		return v.Mul(billion)
	case model.UnitPercent:
		return v.Div(hundred)
	default:
		return v
	}
}

// SnapshotInClaimUnits converts a snapshot value to the unit a claim was written in
func SnapshotInClaimUnits(value float64, unit model.UnitKind) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	switch unit {
	case model.UnitCurrencyBillions:
		return v.Div(billion)
	case model.UnitPercent:
		return v.Mul(hundred)
	default:
		return v
	}
}

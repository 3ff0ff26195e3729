package derive

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/model"
)

type periodKey struct {
	year   int
	period model.FiscalPeriod
}

// outranks reports whether k is more current than o: later year, then FY over quarters, then later quarter
func (k periodKey) outranks(o periodKey) bool {
	if k.year != o.year {
		return k.year > o.year
	}
	return k.period.Rank() > o.period.Rank()
}

// observation is one value of a metric for one fiscal period together with its provenance
type observation struct {
	key       periodKey
	value     float64
	sources   []string // sorted, unique
	startYear int
	ingested  time.Time // newest ingestion among contributing facts
}

// candidate is a normalized raw fact competing for a (metric, period) slot
type candidate struct {
	fact  model.RawFact
	value float64
}

// preferred orders two facts for the same metric and period: newest filing
// first, then newest ingestion. Source, accession and value break remaining ties
// so the choice never depends on input order.
func preferred(a, b candidate) bool {
	if !a.fact.FiledAt.Equal(b.fact.FiledAt) {
		return a.fact.FiledAt.After(b.fact.FiledAt)
	}
	if !a.fact.IngestedAt.Equal(b.fact.IngestedAt) {
		return a.fact.IngestedAt.After(b.fact.IngestedAt)
	}
	if a.fact.Source != b.fact.Source {
		return a.fact.Source < b.fact.Source
	}
	if a.fact.Accession != b.fact.Accession {
		return a.fact.Accession < b.fact.Accession
	}
	return a.value < b.value
}

// series holds the preferred observation of a base metric for every period it was reported in
type series map[periodKey]observation

func (s series) latest() (observation, bool) {
	var (
		best  observation
		found bool
	)
	for k, obs := range s {
		if !found || k.outranks(best.key) {
			best, found = obs, true
		}
	}
	return best, found
}

// Compute derives the entity's snapshot set from its raw facts. It is pure:
// the same facts always produce the same snapshots, sorted by metric.
func Compute(cat *catalog.Catalog, entity string, facts []model.RawFact, logger *slog.Logger) []model.MetricSnapshot {
	if logger == nil {
		logger = slog.Default()
	}

	base := buildSeries(cat, facts, logger)

	selected := make(map[string]observation)
	for _, m := range cat.ByTier(catalog.TierBase) {
		if obs, ok := base[m.Name].latest(); ok {
			selected[m.Name] = obs
		}
	}

	for _, tier := range []catalog.Tier{catalog.TierDerived, catalog.TierAggregate} {
		for _, m := range cat.ByTier(tier) {
			obs, ok := evaluate(m, base, selected, logger)
			if ok {
				selected[m.Name] = obs
			}
		}
	}

	snapshots := make([]model.MetricSnapshot, 0, len(selected))
	for name, obs := range selected {
		snapshots = append(snapshots, model.MetricSnapshot{
			Entity:    entity,
			Metric:    name,
			Period:    model.PeriodLabel(obs.key.year, obs.key.period),
			StartYear: obs.startYear,
			EndYear:   obs.key.year,
			Value:     obs.value,
			Source:    strings.Join(obs.sources, "+"),
			UpdatedAt: obs.ingested.UTC(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Metric < snapshots[j].Metric })
	return snapshots
}

// buildSeries maps raw facts onto canonical base metrics and keeps the preferred fact per period
func buildSeries(cat *catalog.Catalog, facts []model.RawFact, logger *slog.Logger) map[string]series {
	best := make(map[string]map[periodKey]candidate)

	for _, f := range facts {
		metric, ok := cat.CanonicalForTag(f.Tag)
		if !ok {
			continue
		}
		if !f.FiscalPeriod.Valid() {
			logger.Debug("skipping fact with invalid fiscal period", "entity", f.Entity, "tag", f.Tag, "period", f.FiscalPeriod)
			continue
		}
		value, ok := normalize(f.Value, f.Unit)
		if !ok {
			logger.Debug("skipping fact with unknown unit", "entity", f.Entity, "tag", f.Tag, "unit", f.Unit)
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		key := periodKey{year: f.FiscalYear, period: f.FiscalPeriod}
		c := candidate{fact: f, value: value}
		slots, ok := best[metric]
		if !ok {
			slots = make(map[periodKey]candidate)
			best[metric] = slots
		}
		if cur, ok := slots[key]; !ok || preferred(c, cur) {
			slots[key] = c
		}
	}

	out := make(map[string]series, len(best))
	for metric, slots := range best {
		s := make(series, len(slots))
		for key, c := range slots {
			s[key] = observation{
				key:       key,
				value:     c.value,
				sources:   []string{c.fact.Source},
				startYear: key.year,
				ingested:  c.fact.IngestedAt,
			}
		}
		out[metric] = s
	}
	return out
}

// evaluate computes one formula metric anchored on the selected observation of
// its anchor metric. Any missing input skips the metric rather than zero-filling it.
func evaluate(m *catalog.Metric, base map[string]series, selected map[string]observation, logger *slog.Logger) (observation, bool) {
	f := m.Formula
	anchor, ok := selected[f.Anchor]
	if !ok {
		return observation{}, false
	}

	vars := make(map[string]float64, len(f.Refs))
	inputs := make([]observation, 0, len(f.Refs))
	for _, ref := range f.Refs {
		obs, ok := resolveRef(ref, anchor.key, base, selected)
		if !ok {
			logger.Debug("skipping metric with missing input", "metric", m.Name, "input", ref.Ident,
				"period", model.PeriodLabel(anchor.key.year, anchor.key.period))
			return observation{}, false
		}
		vars[ref.Ident] = obs.value
		inputs = append(inputs, obs)
	}

	value, err := f.Eval(vars)
	if err != nil {
		logger.Debug("formula evaluation failed", "metric", m.Name, "error", err)
		return observation{}, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		logger.Debug("skipping non-finite result", "metric", m.Name, "value", value)
		return observation{}, false
	}

	out := observation{
		key:       anchor.key,
		value:     value,
		startYear: anchor.key.year - f.MaxLag,
	}
	seen := make(map[string]bool)
	for _, in := range inputs {
		if in.startYear < out.startYear {
			out.startYear = in.startYear
		}
		if in.ingested.After(out.ingested) {
			out.ingested = in.ingested
		}
		for _, src := range in.sources {
			if !seen[src] {
				seen[src] = true
				out.sources = append(out.sources, src)
			}
		}
	}
	sort.Strings(out.sources)
	return out, true
}

func resolveRef(ref catalog.Ref, at periodKey, base map[string]series, selected map[string]observation) (observation, bool) {
	switch ref.Mode {
	case catalog.RefLatest:
		obs, ok := selected[ref.Metric]
		return obs, ok
	case catalog.RefLag:
		obs, ok := base[ref.Metric][periodKey{year: at.year - ref.Lag, period: at.period}]
		return obs, ok
	default:
		if s, isBase := base[ref.Metric]; isBase {
			obs, ok := s[at]
			return obs, ok
		}
		// Formula metrics only exist for their own anchor period
		obs, ok := selected[ref.Metric]
		if !ok || obs.key != at {
			return observation{}, false
		}
		return obs, true
	}
}

package score

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/finverify/internal/model"
)

// Penalty defaults in percentage points
const (
	UnresolvedPenalty  = model.DefaultUnresolvedPenalty
	DiscrepancyPenalty = model.DefaultDiscrepancyPenalty
	NoSourcePenalty    = model.DefaultNoSourcePenalty
	StalePenalty       = model.DefaultStalePenalty
	StaleAfterDays     = model.DefaultStaleAfterDays
)

// Penalties configures how many points each condition costs
type Penalties struct {
	Unresolved     int // Per claim that could not be verified
	Discrepancy    int // Per claim outside tolerance
	NoSource       int // Once, when the response cites nothing
	Stale          int // Once, when the data is older than StaleAfterDays
	StaleAfterDays int
}

// DefaultPenalties returns the built-in penalty table
func DefaultPenalties() Penalties {
	return Penalties{
		Unresolved:     UnresolvedPenalty,
		Discrepancy:    DiscrepancyPenalty,
		NoSource:       NoSourcePenalty,
		Stale:          StalePenalty,
		StaleAfterDays: StaleAfterDays,
	}
}

// PenaltiesFromConfig converts the score section of the config, keeping defaults for unset fields
func PenaltiesFromConfig(cfg model.ScoreConfig) Penalties {
	p := DefaultPenalties()
	if cfg.UnresolvedPenalty > 0 {
		p.Unresolved = cfg.UnresolvedPenalty
	}
	if cfg.DiscrepancyPenalty > 0 {
		p.Discrepancy = cfg.DiscrepancyPenalty
	}
	if cfg.NoSourcePenalty > 0 {
		p.NoSource = cfg.NoSourcePenalty
	}
	if cfg.StalePenalty > 0 {
		p.Stale = cfg.StalePenalty
	}
	if cfg.StaleAfterDays > 0 {
		p.StaleAfterDays = cfg.StaleAfterDays
	}
	return p
}

// Scorer rolls verification results into a confidence score
type Scorer struct {
	penalties Penalties
}

// NewScorer creates a scorer with the given penalty table
func NewScorer(p Penalties) *Scorer {
	return &Scorer{penalties: p}
}

// Score starts at 100 points and subtracts a fixed penalty per unverified or
// discrepant claim, for an uncited response and for stale data. Points are
// integers so identical inputs always give bit-identical scores. Factors are
// recorded in the order they were applied.
func (s *Scorer) Score(text string, results []model.VerificationResult, sourceCount int, dataAgeDays *int) model.ConfidenceScore {
	var (
		out    model.ConfidenceScore
		points = 100
	)
	add := func(format string, args ...interface{}) {
		out.Factors = append(out.Factors, fmt.Sprintf(format, args...))
	}

	if len(results) == 0 {
		if strings.TrimSpace(text) == "" {
			add("+empty response")
		} else {
			add("+no numeric claims to verify")
		}
	}

	for _, r := range results {
		label := claimLabel(r.Claim)
		switch r.Status {
		case model.StatusVerified:
			out.Verified++
			add("+verified %s (%.2f%% deviation)", label, r.DeviationPct)
		case model.StatusDiscrepant:
			out.Discrepant++
			points -= s.penalties.Discrepancy
			add("-%d discrepant %s: off by %.2f%% from %s", s.penalties.Discrepancy, label, r.DeviationPct, actualLabel(r))
		default:
			out.Unverified++
			points -= s.penalties.Unresolved
			add("-%d unverified %s: %s", s.penalties.Unresolved, label, r.Message)
		}

		if r.Actual != nil && r.Source == "" {
			out.MissingSource++
		}
		if r.PeriodMismatch {
			out.Outdated++
		}
	}

	if sourceCount == 0 {
		points -= s.penalties.NoSource
		add("-%d no sources cited", s.penalties.NoSource)
	} else {
		add("+%d %s cited", sourceCount, plural(sourceCount, "source", "sources"))
	}

	if dataAgeDays != nil {
		if *dataAgeDays > s.penalties.StaleAfterDays {
			points -= s.penalties.Stale
			add("-%d data is %d days old (limit %d)", s.penalties.Stale, *dataAgeDays, s.penalties.StaleAfterDays)
		} else {
			add("+data is %d days old", *dataAgeDays)
		}
	}

	if points < 0 {
		add("-score clamped at 0 from %d", points)
		points = 0
	} else if points > 100 {
		points = 100
	}

	out.Score = float64(points) / 100
	return out
}

// claimLabel names a claim in a factor: "AAPL revenue $394.3B"
func claimLabel(c model.ExtractedClaim) string {
	raw := c.Raw
	if raw == "" {
		raw = strconv.FormatFloat(c.Value, 'f', -1, 64)
	}
	parts := make([]string, 0, 3)
	if c.Entity != "" {
		parts = append(parts, c.Entity)
	}
	if c.Metric != "" {
		parts = append(parts, c.Metric)
	}
	parts = append(parts, strconv.Quote(raw))
	return strings.Join(parts, " ")
}

func actualLabel(r model.VerificationResult) string {
	if r.Actual == nil {
		return "unknown"
	}
	label := strconv.FormatFloat(*r.Actual, 'g', -1, 64)
	if r.ActualPeriod != "" {
		label = r.ActualPeriod + " " + label
	}
	return label
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

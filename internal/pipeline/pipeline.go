package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/finverify/internal/correct"
	"github.com/ppiankov/finverify/internal/extract"
	"github.com/ppiankov/finverify/internal/logging"
	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/score"
	"github.com/ppiankov/finverify/internal/verify"
)

// Options carries the response-level inputs of one verification
type Options struct {
	ID string

	// SourceCount overrides the number of sources backing the response. When nil
	// it is the number of distinct citations in the text plus the distinct
	// sources of verified snapshots.
	SourceCount *int

	// DataAgeDays overrides the age of the data. When nil and Now is set, it is
	// computed from the oldest snapshot that took part in a judgement.
	DataAgeDays *int
	Now         time.Time

	// Correct rewrites discrepant claims in the returned report
	Correct bool
}

// Pipeline runs extract, verify, score and, optionally, correct over one response
type Pipeline struct {
	extractor *extract.ClaimExtractor
	verifier  *verify.Verifier
	scorer    *score.Scorer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline wires the stages together. m may be nil.
func NewPipeline(extractor *extract.ClaimExtractor, verifier *verify.Verifier, scorer *score.Scorer, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		verifier:  verifier,
		scorer:    scorer,
		metrics:   m,
		logger:    logging.New("pipeline"),
	}
}

// Extract returns the numeric claims in text
func (p *Pipeline) Extract(text string) []model.ExtractedClaim {
	return p.extractor.Extract(text)
}

// Verify checks a single claim
func (p *Pipeline) Verify(ctx context.Context, claim model.ExtractedClaim) (model.VerificationResult, error) {
	return p.verifier.Verify(ctx, claim)
}

// Score aggregates results into a confidence score
func (p *Pipeline) Score(text string, results []model.VerificationResult, sourceCount int, dataAgeDays *int) model.ConfidenceScore {
	return p.scorer.Score(text, results, sourceCount, dataAgeDays)
}

// Correct rewrites discrepant claims in text
func (p *Pipeline) Correct(text string, results []model.VerificationResult) string {
	return correct.Correct(text, results)
}

// VerifyResponse extracts every claim in text, verifies each against the
// snapshot table and scores the response. Only lookup failures are errors.
func (p *Pipeline) VerifyResponse(ctx context.Context, text string, opts Options) (*model.ResponseReport, error) {
	start := time.Now()

	claims := p.extractor.Extract(text)
	results, err := p.verifier.VerifyAll(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("verify claims: %w", err)
	}

	report := &model.ResponseReport{
		ID:         opts.ID,
		Claims:     claims,
		Results:    results,
		TotalCount: len(results),
		Citations:  extract.Citations(text),
		CheckedAt:  opts.Now,
	}
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now().UTC()
	}
	for _, r := range results {
		if r.Correct {
			report.CorrectCount++
		}
	}

	if opts.SourceCount != nil {
		report.SourceCount = *opts.SourceCount
	} else {
		report.SourceCount = p.countSources(report.Citations, results)
	}

	report.DataAgeDays = opts.DataAgeDays
	if report.DataAgeDays == nil && !opts.Now.IsZero() {
		report.DataAgeDays = DataAgeDays(results, opts.Now)
	}

	report.Confidence = p.scorer.Score(text, results, report.SourceCount, report.DataAgeDays)
	p.metrics.ObserveScore(report.Confidence.Score)

	if opts.Correct {
		report.Corrected = correct.Correct(text, results)
	}

	p.logger.Debug("response verified", "id", opts.ID, "claims", len(claims),
		"correct", report.CorrectCount, "score", report.Confidence.Score, "elapsed", time.Since(start))
	return report, nil
}

// countSources adds the distinct cited sources to the distinct sources of verified snapshots
func (p *Pipeline) countSources(citations []model.Citation, results []model.VerificationResult) int {
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Status != model.StatusVerified {
			continue
		}
		for _, s := range p.verifier.Sources().Sources(r.Source) {
			seen[s] = true
		}
	}
	return len(citations) + len(seen)
}

// DataAgeDays returns whole days between now and the oldest snapshot behind a
// verified or discrepant result, or nil if no result carries a timestamp
func DataAgeDays(results []model.VerificationResult, now time.Time) *int {
	var oldest time.Time
	for _, r := range results {
		if r.UpdatedAt == nil {
			continue
		}
		if oldest.IsZero() || r.UpdatedAt.Before(oldest) {
			oldest = *r.UpdatedAt
		}
	}
	if oldest.IsZero() {
		return nil
	}

	days := int(now.Sub(oldest).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}

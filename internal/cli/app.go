package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/finverify/internal/cache"
	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/derive"
	"github.com/ppiankov/finverify/internal/extract"
	"github.com/ppiankov/finverify/internal/metrics"
	"github.com/ppiankov/finverify/internal/model"
	"github.com/ppiankov/finverify/internal/pipeline"
	"github.com/ppiankov/finverify/internal/score"
	"github.com/ppiankov/finverify/internal/store"
	"github.com/ppiankov/finverify/internal/verify"
	"github.com/ppiankov/finverify/internal/worker"
)

// app holds the components one command invocation needs
type app struct {
	cfg      *model.Config
	catalog  *catalog.Catalog
	store    store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	deriver  *derive.Deriver
	pipeline *pipeline.Pipeline
}

// newApp loads configuration and wires store, cache, deriver and verification pipeline
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func buildApp(cfg *model.Config) (*app, error) {
	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return assemble(cfg, cat, st), nil
}

// assemble wires components around an open store
func assemble(cfg *model.Config, cat *catalog.Catalog, st store.Store) *app {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var lookup verify.Lookup = st
	deriveOpts := []derive.Option{
		derive.WithMetrics(m),
		derive.WithWorkers(cfg.Refresh.Workers),
	}
	if cfg.Cache.Enabled {
		cached := cache.NewCachedLookup(st, cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval), m)
		lookup = cached
		deriveOpts = append(deriveOpts, derive.WithInvalidator(cached))
	}
	if cfg.Refresh.MinInterval > 0 {
		deriveOpts = append(deriveOpts, derive.WithThrottle(worker.NewIntervalLimiter(cfg.Refresh.MinInterval)))
	}

	verifier := verify.New(cat, lookup,
		verify.WithTolerance(cfg.Verify.TolerancePct),
		verify.WithWeightFloor(cfg.Verify.WeightFloor),
		verify.WithMetrics(m),
	)
	extractor := extract.NewClaimExtractor(cat, extract.NewStaticResolver(cfg.Aliases))
	scorer := score.NewScorer(score.PenaltiesFromConfig(cfg.Score))

	return &app{
		cfg:      cfg,
		catalog:  cat,
		store:    st,
		registry: reg,
		metrics:  m,
		deriver:  derive.New(cat, st, st, deriveOpts...),
		pipeline: pipeline.NewPipeline(extractor, verifier, scorer, m),
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load built-in catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

package verify

import (
	"strings"

	"github.com/ppiankov/finverify/internal/model"
)

// SourceClassifier normalizes snapshot source labels and assigns them an authority tier
type SourceClassifier struct {
	canonical map[string]string
	primary   map[string]bool
	secondary map[string]bool
}

// defaultCanonical maps lower-case spellings seen in ingestion jobs to one label
var defaultCanonical = map[string]string{
	"sec":             "SEC",
	"edgar":           "SEC",
	"sec edgar":       "SEC",
	"sec-edgar":       "SEC",
	"sec.gov":         "SEC",
	"xbrl":            "SEC",
	"bls":             "BLS",
	"bea":             "BEA",
	"fred":            "FRED",
	"federal reserve": "FED",
	"fed":             "FED",
	"treasury":        "TREASURY",
	"bloomberg":       "Bloomberg",
	"refinitiv":       "Refinitiv",
	"reuters":         "Refinitiv",
	"factset":         "FactSet",
	"morningstar":     "Morningstar",
	"yahoo":           "YahooFinance",
	"yahoo finance":   "YahooFinance",
	"yahoofinance":    "YahooFinance",
	"polygon":         "Polygon",
	"alphavantage":    "AlphaVantage",
	"alpha vantage":   "AlphaVantage",
	"iex":             "IEX",
}

var (
	defaultPrimary   = []string{"SEC", "BLS", "BEA", "FRED", "FED", "TREASURY"}
	defaultSecondary = []string{"Bloomberg", "Refinitiv", "FactSet", "Morningstar", "YahooFinance", "Polygon", "AlphaVantage", "IEX"}
)

// NewSourceClassifier creates a classifier with the built-in source table
func NewSourceClassifier() *SourceClassifier {
	c := &SourceClassifier{
		canonical: make(map[string]string, len(defaultCanonical)),
		primary:   make(map[string]bool),
		secondary: make(map[string]bool),
	}
	for k, v := range defaultCanonical {
		c.canonical[k] = v
	}
	for _, s := range defaultPrimary {
		c.primary[s] = true
	}
	for _, s := range defaultSecondary {
		c.secondary[s] = true
	}
	return c
}

// Sources splits a snapshot source label ("SEC+yahoo") into normalized, distinct source names
func (c *SourceClassifier) Sources(label string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(label, "+") {
		name := c.normalizeOne(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Normalize returns the label with every contributing source in canonical spelling
func (c *SourceClassifier) Normalize(label string) string {
	return strings.Join(c.Sources(label), "+")
}

// Classify returns the most authoritative tier among the label's sources
func (c *SourceClassifier) Classify(label string) model.SourceTier {
	sources := c.Sources(label)
	if len(sources) == 0 {
		return model.TierUnknown
	}

	best := model.TierTertiary
	for _, s := range sources {
		switch tier := c.classifyOne(s); {
		case tier == model.TierPrimary:
			return model.TierPrimary
		case tier < best:
			best = tier
		}
	}
	return best
}

func (c *SourceClassifier) classifyOne(source string) model.SourceTier {
	if c.primary[source] {
		return model.TierPrimary
	}
	if c.secondary[source] {
		return model.TierSecondary
	}

	// Host-style labels: government and regulator domains are primary
	host := strings.ToLower(source)
	if strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov.") {
		return model.TierPrimary
	}
	return model.TierTertiary
}

func (c *SourceClassifier) normalizeOne(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if name, ok := c.canonical[key]; ok {
		return name
	}
	return s
}

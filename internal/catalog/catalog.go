package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/finverify/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Kind is the value domain of a canonical metric
type Kind string

const (
	KindCurrency Kind = "currency"  // Raw currency units (dollars)
	KindPerShare Kind = "per_share" // Currency per share (EPS, price)
	KindPercent  Kind = "percent"   // Stored as a fraction
	KindMultiple Kind = "multiple"  // Plain ratio
	KindCount    Kind = "count"     // Share counts and other unitless quantities
)

func (k Kind) valid() bool {
	switch k {
	case KindCurrency, KindPerShare, KindPercent, KindMultiple, KindCount:
		return true
	}
	return false
}

// Accepts reports whether a claim written in unit u can describe a metric of kind k
func (k Kind) Accepts(u model.UnitKind) bool {
	switch k {
	case KindCurrency:
		return u == model.UnitCurrencyBillions || u == model.UnitCurrency
	case KindPerShare:
		return u == model.UnitCurrency
	case KindPercent:
		return u == model.UnitPercent
	case KindMultiple:
		return u == model.UnitMultiple
	default:
		return false
	}
}

// Tier is the evaluation pass a metric belongs to
type Tier int

const (
	TierBase      Tier = iota // Selected straight from raw facts
	TierDerived               // Formula over base metrics
	TierAggregate             // Formula over base, derived and earlier aggregates
)

func (t Tier) String() string {
	switch t {
	case TierBase:
		return "base"
	case TierDerived:
		return "derived"
	case TierAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// Metric is one canonical metric definition
type Metric struct {
	Name     string
	Kind     Kind
	Tier     Tier
	Tags     []string
	Keywords []string
	Formula  *Formula // nil for base metrics
}

// Keyword maps a lower-case phrase found in text to a canonical metric
type Keyword struct {
	Phrase string
	Metric string
}

// Catalog is the immutable metric lookup shared by the deriver and the extractor
type Catalog struct {
	metrics  map[string]*Metric
	ordered  []*Metric
	tags     map[string]string
	keywords []Keyword
}

type fileEntry struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Tags     []string `yaml:"tags"`
	Keywords []string `yaml:"keywords"`
	Formula  string   `yaml:"formula"`
	Anchor   string   `yaml:"anchor"`
}

type file struct {
	Base      []fileEntry `yaml:"base"`
	Derived   []fileEntry `yaml:"derived"`
	Aggregate []fileEntry `yaml:"aggregate"`
}

// Default returns the embedded catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the embedded default when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML. Every formula is compiled here so that a
// reference to an unknown or later metric fails at startup.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parse yaml: %v", err)}
	}

	c := &Catalog{
		metrics: make(map[string]*Metric),
		tags:    make(map[string]string),
	}
	seenKeyword := make(map[string]string)

	add := func(e fileEntry, tier Tier) (*Metric, error) {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, &ConfigError{Msg: fmt.Sprintf("%s metric without a name", tier)}
		}
		if strings.Contains(name, "__") {
			return nil, configErrorf(name, "name must not contain %q", "__")
		}
		if _, dup := c.metrics[name]; dup {
			return nil, configErrorf(name, "declared twice")
		}
		kind := Kind(e.Kind)
		if !kind.valid() {
			return nil, configErrorf(name, "unknown kind %q", e.Kind)
		}

		m := &Metric{Name: name, Kind: kind, Tier: tier}

		for _, kw := range e.Keywords {
			phrase := strings.ToLower(strings.TrimSpace(kw))
			if phrase == "" {
				continue
			}
			if other, dup := seenKeyword[phrase]; dup {
				return nil, configErrorf(name, "keyword %q already maps to %q", phrase, other)
			}
			seenKeyword[phrase] = name
			m.Keywords = append(m.Keywords, phrase)
			c.keywords = append(c.keywords, Keyword{Phrase: phrase, Metric: name})
		}
		return m, nil
	}

	for _, e := range f.Base {
		m, err := add(e, TierBase)
		if err != nil {
			return nil, err
		}
		if e.Formula != "" {
			return nil, configErrorf(m.Name, "base metrics cannot declare a formula")
		}
		if len(e.Tags) == 0 {
			return nil, configErrorf(m.Name, "base metric needs at least one tag")
		}
		for _, tag := range e.Tags {
			key := normalizeTag(tag)
			if other, dup := c.tags[key]; dup {
				return nil, configErrorf(m.Name, "tag %q already maps to %q", tag, other)
			}
			c.tags[key] = m.Name
			m.Tags = append(m.Tags, tag)
		}
		c.register(m)
	}

	for _, group := range []struct {
		tier    Tier
		entries []fileEntry
	}{
		{TierDerived, f.Derived},
		{TierAggregate, f.Aggregate},
	} {
		for _, e := range group.entries {
			m, err := add(e, group.tier)
			if err != nil {
				return nil, err
			}
			if len(e.Tags) > 0 {
				return nil, configErrorf(m.Name, "%s metrics cannot map raw tags", group.tier)
			}
			formula, err := compileFormula(c, m, e.Formula, e.Anchor)
			if err != nil {
				return nil, err
			}
			m.Formula = formula
			c.register(m)
		}
	}

	// Longest phrases first so that callers scanning in order see "gross margin" before "margin".
	sort.SliceStable(c.keywords, func(i, j int) bool {
		return len(c.keywords[i].Phrase) > len(c.keywords[j].Phrase)
	})

	return c, nil
}

func (c *Catalog) register(m *Metric) {
	c.metrics[m.Name] = m
	c.ordered = append(c.ordered, m)
}

// normalizeTag lower-cases a raw tag and drops its taxonomy prefix ("us-gaap:Revenues" -> "revenues")
func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		tag = tag[i+1:]
	}
	return strings.ToLower(tag)
}

// Metric returns the definition of a canonical metric
func (c *Catalog) Metric(name string) (*Metric, bool) {
	m, ok := c.metrics[name]
	return m, ok
}

// CanonicalForTag maps a raw source tag to its canonical metric. Unmapped tags report false.
func (c *Catalog) CanonicalForTag(tag string) (string, bool) {
	name, ok := c.tags[normalizeTag(tag)]
	return name, ok
}

// Ordered returns every metric in evaluation order: base, derived, aggregate
func (c *Catalog) Ordered() []*Metric {
	out := make([]*Metric, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ByTier returns the metrics of one tier in declaration order
func (c *Catalog) ByTier(t Tier) []*Metric {
	var out []*Metric
	for _, m := range c.ordered {
		if m.Tier == t {
			out = append(out, m)
		}
	}
	return out
}

// Keywords returns every keyword, longest phrase first
func (c *Catalog) Keywords() []Keyword {
	out := make([]Keyword, len(c.keywords))
	copy(out, c.keywords)
	return out
}

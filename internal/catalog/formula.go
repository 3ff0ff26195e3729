package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MaxLag bounds how many fiscal years back a formula may reach
const MaxLag = 10

// RefMode says how a formula reference is aligned with the anchor observation
type RefMode int

const (
	RefAligned RefMode = iota // Same fiscal year and period as the anchor
	RefLag                    // Same period, Lag years earlier
	RefLatest                 // The referenced metric's selected snapshot
)

// Ref is one metric reference inside a formula
type Ref struct {
	Ident  string // Identifier as written (revenue__lag3)
	Metric string
	Mode   RefMode
	Lag    int
}

// Formula is a compiled derived or aggregate metric expression
type Formula struct {
	Source string
	Anchor string // Metric whose selected observation fixes the fiscal year and period
	Refs   []Ref  // In order of first appearance
	MaxLag int

	program *vm.Program
}

// exprWords are expr-lang keywords that are never metric references
var exprWords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true,
	"true": true, "false": true, "nil": true, "let": true, "if": true, "else": true,
}

func compileFormula(c *Catalog, m *Metric, src, anchor string) (*Formula, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, configErrorf(m.Name, "%s metric needs a formula", m.Tier)
	}

	f := &Formula{Source: src}
	seen := make(map[string]bool)
	for _, ident := range scanIdentifiers(src) {
		if seen[ident] {
			continue
		}
		seen[ident] = true

		ref, err := parseRef(ident)
		if err != nil {
			return nil, configErrorf(m.Name, "%v", err)
		}
		if err := c.checkRef(m, ref); err != nil {
			return nil, err
		}
		if ref.Lag > f.MaxLag {
			f.MaxLag = ref.Lag
		}
		f.Refs = append(f.Refs, ref)
	}
	if len(f.Refs) == 0 {
		return nil, configErrorf(m.Name, "formula %q references no metric", src)
	}

	if anchor == "" {
		for _, ref := range f.Refs {
			if ref.Mode == RefAligned {
				anchor = ref.Metric
				break
			}
		}
		if anchor == "" {
			return nil, configErrorf(m.Name, "formula %q has no aligned reference to anchor on; declare an anchor", src)
		}
	}
	if err := c.checkRef(m, Ref{Ident: anchor, Metric: anchor, Mode: RefAligned}); err != nil {
		return nil, err
	}
	f.Anchor = anchor

	env := make(map[string]interface{}, len(f.Refs))
	for _, ref := range f.Refs {
		env[ref.Ident] = 0.0
	}
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, configErrorf(m.Name, "compile formula %q: %v", src, err)
	}
	f.program = program

	return f, nil
}

// checkRef enforces the single topological pass: derived formulas see base
// metrics only; aggregates see base, derived and aggregates declared earlier.
// Only base metrics carry a year series, so only they can be lagged.
func (c *Catalog) checkRef(owner *Metric, ref Ref) error {
	target, ok := c.metrics[ref.Metric]
	if !ok {
		return configErrorf(owner.Name, "formula references unknown or later metric %q", ref.Metric)
	}
	switch owner.Tier {
	case TierDerived:
		if target.Tier != TierBase {
			return configErrorf(owner.Name, "derived formula may only reference base metrics, got %s metric %q", target.Tier, target.Name)
		}
	case TierAggregate:
		if target.Tier != TierBase && ref.Mode == RefLag {
			return configErrorf(owner.Name, "only base metrics can be lagged, got %q", ref.Ident)
		}
	default:
		return configErrorf(owner.Name, "base metrics cannot reference other metrics")
	}
	return nil
}

// parseRef splits revenue, revenue__lag3 and revenue__latest
func parseRef(ident string) (Ref, error) {
	i := strings.Index(ident, "__")
	if i < 0 {
		return Ref{Ident: ident, Metric: ident, Mode: RefAligned}, nil
	}
	name, suffix := ident[:i], ident[i+2:]
	if name == "" {
		return Ref{}, fmt.Errorf("malformed reference %q", ident)
	}
	if suffix == "latest" {
		return Ref{Ident: ident, Metric: name, Mode: RefLatest}, nil
	}
	if strings.HasPrefix(suffix, "lag") {
		n, err := strconv.Atoi(suffix[3:])
		if err != nil || n < 1 || n > MaxLag {
			return Ref{}, fmt.Errorf("lag in %q must be between 1 and %d", ident, MaxLag)
		}
		return Ref{Ident: ident, Metric: name, Mode: RefLag, Lag: n}, nil
	}
	return Ref{}, fmt.Errorf("unknown reference suffix in %q", ident)
}

// scanIdentifiers returns identifiers in order of appearance, skipping
// numbers, string literals, function names and expr keywords.
func scanIdentifiers(src string) []string {
	var out []string
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '"' || r == '\'' || r == '`':
			quote := r
			i++
			for i < len(runes) && runes[i] != quote {
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			i++
		case unicode.IsDigit(r):
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E' || runes[i] == '_') {
				i++
			}
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			isCall := j < len(runes) && runes[j] == '('
			isMember := start > 0 && runes[start-1] == '.'
			if !isCall && !isMember && !exprWords[word] {
				out = append(out, word)
			}
		default:
			i++
		}
	}
	return out
}

// Eval runs the formula with every reference bound in vars
func (f *Formula) Eval(vars map[string]float64) (float64, error) {
	env := make(map[string]interface{}, len(f.Refs))
	for _, ref := range f.Refs {
		v, ok := vars[ref.Ident]
		if !ok {
			return 0, fmt.Errorf("unbound reference %q", ref.Ident)
		}
		env[ref.Ident] = v
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		return 0, fmt.Errorf("eval %q: %w", f.Source, err)
	}

	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("eval %q: non-numeric result %T", f.Source, out)
	}
}

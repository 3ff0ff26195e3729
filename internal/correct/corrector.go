package correct

import (
	"math"
	"sort"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/ppiankov/finverify/internal/extract"
	"github.com/ppiankov/finverify/internal/model"
)

// Replacement is one planned substitution, located by offsets into the original text
type Replacement struct {
	Offset int    `json:"offset"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

// End returns the offset just past the replaced substring
func (r Replacement) End() int {
	return r.Offset + len(r.Old)
}

// Correct returns text with every discrepant claim replaced by its snapshot
// value, written in the claim's own format. Unresolved claims are left alone.
func Correct(text string, results []model.VerificationResult) string {
	return Apply(text, Plan(text, results))
}

// Plan computes replacements against the original offsets, sorted by offset.
// Results whose offsets no longer match the text, or that overlap an earlier
// replacement, are skipped.
func Plan(text string, results []model.VerificationResult) []Replacement {
	var reps []Replacement
	for _, r := range results {
		if r.Status != model.StatusDiscrepant || r.Actual == nil {
			continue
		}
		c := r.Claim
		if c.Offset < 0 || c.End() > len(text) || text[c.Offset:c.End()] != c.Raw {
			continue
		}
		formatted, ok := FormatLike(c.Raw, c.Unit, *r.Actual)
		if !ok || formatted == c.Raw {
			continue
		}
		reps = append(reps, Replacement{Offset: c.Offset, Old: c.Raw, New: formatted})
	}

	sort.SliceStable(reps, func(i, j int) bool { return reps[i].Offset < reps[j].Offset })

	out := reps[:0]
	end := -1
	for _, rep := range reps {
		if rep.Offset < end {
			continue
		}
		out = append(out, rep)
		end = rep.End()
	}
	return out
}

// Apply performs replacements back to front so earlier offsets stay valid
func Apply(text string, reps []Replacement) string {
	for i := len(reps) - 1; i >= 0; i-- {
		rep := reps[i]
		text = text[:rep.Offset] + rep.New + text[rep.End():]
	}
	return text
}

// FormatLike renders a snapshot value (raw units) the way raw was written:
// same scale suffix, spacing, percent or multiple sign and thousands separators
func FormatLike(raw string, unit model.UnitKind, actual float64) (string, bool) {
	tokens := extract.Tokenize(raw)
	if len(tokens) != 1 || tokens[0].Pos().Start != 0 || tokens[0].Pos().End != len(raw) {
		return "", false
	}

	value := decimal.NewFromFloat(actual)
	switch tok := tokens[0].(type) {
	case extract.CurrencyToken:
		if tok.Accounting {
			inner, ok := FormatLike(raw[1:len(raw)-1], unit, math.Abs(actual))
			if !ok {
				return "", false
			}
			if actual < 0 {
				return "(" + inner + ")", true
			}
			return inner, true
		}
		if tok.Suffix == "" {
			return formatDollars(value, tok.Decimals), true
		}
		return reshape(raw, value.Div(tok.Scale()), tok.Decimals), true
	case extract.PercentToken:
		if unit != model.UnitPercent {
			return "", false
		}
		return reshape(raw, value.Mul(decimal.NewFromInt(100)), tok.Decimals), true
	case extract.MultipleToken:
		return reshape(raw, value, tok.Decimals), true
	}
	return "", false
}

// formatDollars writes a plain dollar amount with go-money, dropping the cents
// when the original amount had none and the value is whole
func formatDollars(value decimal.Decimal, decimals int32) string {
	cur := money.GetCurrency(money.USD)
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	s := money.New(value.Mul(factor).Round(0).IntPart(), money.USD).Display()
	if decimals == 0 {
		s = strings.TrimSuffix(s, ".00")
	}
	return s
}

// reshape swaps the number inside raw for value, keeping what surrounds it
func reshape(raw string, value decimal.Decimal, decimals int32) string {
	start := strings.IndexFunc(raw, isDigit)
	end := start
	for end < len(raw) && (isDigit(rune(raw[end])) || raw[end] == ',' || raw[end] == '.') {
		end++
	}
	// A trailing period ends the sentence, not the number
	for end > start && !isDigit(rune(raw[end-1])) {
		end--
	}
	prefix, number, tail := raw[:start], raw[start:end], raw[end:]

	if decimals < 1 {
		decimals = 1
	}
	prefix = strings.TrimPrefix(prefix, "-")
	if value.IsNegative() {
		prefix = "-" + prefix
		value = value.Abs()
	}

	formatted := value.StringFixed(decimals)
	if strings.Contains(number, ",") {
		formatted = groupThousands(formatted)
	}
	return prefix + formatted + tail
}

func groupThousands(s string) string {
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + frac
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

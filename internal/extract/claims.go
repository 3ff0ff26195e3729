package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/finverify/internal/catalog"
	"github.com/ppiankov/finverify/internal/model"
)

const (
	// DefaultWindow is how many bytes before a token are searched for context
	DefaultWindow = 120
	// trailingWindow bounds the lookahead used for "$12B in revenue" phrasing
	trailingWindow = 40
)

// abbreviations whose trailing period does not end a sentence
var abbreviations = map[string]bool{
	"inc": true, "corp": true, "co": true, "ltd": true, "plc": true, "llc": true,
	"vs": true, "etc": true, "approx": true, "est": true, "no": true,
	"mr": true, "ms": true, "dr": true, "st": true, "u.s": true, "e.g": true, "i.e": true,
}

// ClaimExtractor finds numeric claims in response text and infers what they are about
type ClaimExtractor struct {
	catalog  *catalog.Catalog
	keywords []catalog.Keyword
	resolver AliasResolver
	window   int
}

// NewClaimExtractor creates an extractor using the catalog's keywords and the
// given alias resolver. A nil resolver leaves every claim without an entity.
func NewClaimExtractor(cat *catalog.Catalog, resolver AliasResolver) *ClaimExtractor {
	return &ClaimExtractor{
		catalog:  cat,
		keywords: cat.Keywords(),
		resolver: resolver,
		window:   DefaultWindow,
	}
}

// Extract returns every numeric claim in text in order of appearance. It is
// deterministic and performs no I/O. Entities carry forward: a claim whose own
// sentence names no company inherits the last entity resolved earlier in text.
func (e *ClaimExtractor) Extract(text string) []model.ExtractedClaim {
	tokens := Tokenize(text)
	claims := make([]model.ExtractedClaim, 0, len(tokens))

	var carried string
	prevEnd := 0
	for i, tok := range tokens {
		claim, ok := claimFromToken(tok)
		if !ok {
			continue
		}
		span := tok.Pos()

		start := e.windowStart(text, span.Start)
		window := text[start:span.Start]
		claim.Context = strings.TrimSpace(window)

		// Mentions between the previous token and this window still move the carried entity
		if start > prevEnd {
			if entity, ok := e.resolveEntity(text[prevEnd:start]); ok {
				carried = entity
			}
		}

		if entity, ok := e.resolveEntity(window); ok {
			claim.Entity = entity
			carried = entity
		} else if carried != "" {
			claim.Entity = carried
			claim.CarriedEntity = true
		}

		next := len(text)
		if i+1 < len(tokens) {
			next = tokens[i+1].Pos().Start
		}
		trailing := trailingSegment(text, span.End, next)

		claim.Metric = e.resolveMetric(window, claim.Unit)
		if claim.Metric == "" {
			claim.Metric = e.resolveTrailingMetric(trailing, claim.Unit)
		}

		claim.Period = resolvePeriod(window)
		if claim.Period == "" {
			claim.Period = resolvePeriod(trailing)
		}

		claims = append(claims, claim)
		prevEnd = span.End
	}
	return claims
}

func claimFromToken(tok Token) (model.ExtractedClaim, bool) {
	span := tok.Pos()
	claim := model.ExtractedClaim{Offset: span.Start, Raw: span.Raw}

	switch t := tok.(type) {
	case CurrencyToken:
		if t.Suffix == "" {
			claim.Unit = model.UnitCurrency
			claim.Value = t.Amount.InexactFloat64()
		} else {
			claim.Unit = model.UnitCurrencyBillions
			claim.Value = t.Billions().InexactFloat64()
		}
	case PercentToken:
		claim.Unit = model.UnitPercent
		claim.Value = t.Amount.InexactFloat64()
	case MultipleToken:
		claim.Unit = model.UnitMultiple
		claim.Value = t.Amount.InexactFloat64()
	default:
		return claim, false
	}
	return claim, true
}

// windowStart returns where the context window for a token at pos begins:
// the start of its sentence, but never more than the window size back.
func (e *ClaimExtractor) windowStart(text string, pos int) int {
	start := sentenceStart(text, pos)
	if floor := pos - e.window; start < floor {
		start = floor
		for start < pos && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	return start
}

// sentenceStart scans backwards from pos for a sentence terminator followed by whitespace
func sentenceStart(text string, pos int) int {
	for i := pos - 1; i > 0; i-- {
		c := text[i]
		if c == '\n' {
			return i + 1
		}
		if c != ' ' && c != '\t' {
			continue
		}
		switch text[i-1] {
		case '!', '?':
			return i + 1
		case '.':
			if !isAbbreviation(text, i-1) {
				return i + 1
			}
		}
	}
	return 0
}

// isAbbreviation reports whether the period at dot closes a known abbreviation or a single initial
func isAbbreviation(text string, dot int) bool {
	start := dot
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	word := strings.ToLower(text[start:dot])
	if word == "" {
		return false
	}
	// "394.3B." ends a sentence: the letter belongs to a number, not an initial
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	return abbreviations[word] || utf8.RuneCountInString(word) == 1
}

// resolveEntity finds the rightmost alias in window, preferring longer names at the same position
func (e *ClaimExtractor) resolveEntity(window string) (string, bool) {
	if e.resolver == nil {
		return "", false
	}
	words := aliasWords(window)
	for end := len(words); end > 0; end-- {
		for n := 3; n >= 1; n-- {
			if end-n < 0 {
				continue
			}
			candidate := strings.Join(words[end-n:end], " ")
			if entity, ok := e.resolver.Resolve(candidate); ok {
				return entity, true
			}
		}
	}
	return "", false
}

// aliasWords splits text into words with possessives, cashtags and punctuation removed
func aliasWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' || r == '.' || r == '-' || r == '\'' || r == '’' || r == '$')
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(f, "'s")
		f = strings.TrimSuffix(f, "’s")
		f = strings.TrimLeft(f, "$")
		f = strings.Trim(f, ".-'’")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

type keywordHit struct {
	metric string
	start  int
	end    int
}

// resolveMetric picks the keyword closest to the token: the one ending last,
// then the longest. Keywords whose metric cannot be written in unit are ignored.
func (e *ClaimExtractor) resolveMetric(window string, unit model.UnitKind) string {
	lower := strings.ToLower(window)
	var best keywordHit
	found := false
	for _, kw := range e.keywords {
		if !e.accepts(kw.Metric, unit) {
			continue
		}
		start, ok := lastWordIndex(lower, kw.Phrase)
		if !ok {
			continue
		}
		end := start + len(kw.Phrase)
		// Keywords are sorted longest first, so strict comparison keeps the longer phrase on ties
		if !found || end > best.end {
			best = keywordHit{metric: kw.Metric, start: start, end: end}
			found = true
		}
	}
	return best.metric
}

// trailingSegment returns the text right after a token, up to the next token,
// the end of the sentence or clause, or the trailing window, whichever comes first
func trailingSegment(text string, from, next int) string {
	to := from + trailingWindow
	if to > next {
		to = next
	}
	if to > len(text) {
		to = len(text)
	}
	if end := sentenceEnd(text, from); end < to {
		to = end
	}
	if to <= from {
		return ""
	}
	segment := text[from:to]
	return segment[:clauseEnd(segment)]
}

// clauseBreaks end the phrase that can still describe the preceding number
var clauseBreaks = []string{" and ", " while ", " but ", " whereas ", " although ", " though ", " versus ", " vs "}

// asciiLower lower-cases ASCII letters only so byte offsets stay valid
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

// clauseEnd returns where the first clause of segment ends: at punctuation or
// at a conjunction that starts a new subject ("$2.1B, while revenue ...")
func clauseEnd(segment string) int {
	end := len(segment)
	if i := strings.IndexAny(segment, ",;:()"); i >= 0 {
		end = i
	}
	lower := asciiLower(segment[:end])
	for _, word := range clauseBreaks {
		if i := strings.Index(lower, word); i >= 0 && i < end {
			end = i
		}
	}
	return end
}

// resolveTrailingMetric handles "$394.3B in revenue": the first keyword in the trailing segment
func (e *ClaimExtractor) resolveTrailingMetric(segment string, unit model.UnitKind) string {
	lower := strings.ToLower(segment)
	var best keywordHit
	found := false
	for _, kw := range e.keywords {
		if !e.accepts(kw.Metric, unit) {
			continue
		}
		start, ok := firstWordIndex(lower, kw.Phrase)
		if !ok {
			continue
		}
		if !found || start < best.start {
			best = keywordHit{metric: kw.Metric, start: start, end: start + len(kw.Phrase)}
			found = true
		}
	}
	return best.metric
}

func sentenceEnd(text string, from int) int {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case '\n':
			return i
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				return i
			}
		}
	}
	return len(text)
}

func (e *ClaimExtractor) accepts(metric string, unit model.UnitKind) bool {
	m, ok := e.catalog.Metric(metric)
	return ok && m.Kind.Accepts(unit)
}

// lastWordIndex finds the last occurrence of phrase in s that sits on word boundaries
func lastWordIndex(s, phrase string) (int, bool) {
	for end := len(s); end > 0; {
		i := strings.LastIndex(s[:end], phrase)
		if i < 0 {
			return 0, false
		}
		if onWordBoundaries(s, i, i+len(phrase)) {
			return i, true
		}
		end = i + len(phrase) - 1
	}
	return 0, false
}

// firstWordIndex finds the first occurrence of phrase in s that sits on word boundaries
func firstWordIndex(s, phrase string) (int, bool) {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return 0, false
		}
		i += from
		if onWordBoundaries(s, i, i+len(phrase)) {
			return i, true
		}
		from = i + 1
	}
	return 0, false
}

func onWordBoundaries(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

// Period patterns, most specific first. The quarter patterns capture (quarter, year).
var (
	quarterYearRe = regexp.MustCompile(`(?i)\bQ([1-4])\s*(?:FY\s*)?(?:'|’)?(\d{4}|\d{2})\b`)
	yearQuarterRe = regexp.MustCompile(`(?i)\b(\d{4})\s*Q([1-4])\b`)
	fiscalYearRe  = regexp.MustCompile(`(?i)\b(?:FY\s*(?:'|’)?|fiscal\s+(?:year\s+)?)(\d{4}|\d{2})\b`)
	bareYearRe    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

type periodHit struct {
	end      int
	priority int
	label    string
}

// resolvePeriod returns the label of the period mentioned closest to the end of window
func resolvePeriod(window string) string {
	var best periodHit
	consider := func(h periodHit) {
		if h.end > best.end || (h.end == best.end && h.priority > best.priority) {
			best = h
		}
	}

	for _, m := range quarterYearRe.FindAllStringSubmatchIndex(window, -1) {
		q, year := window[m[2]:m[3]], expandYear(window[m[4]:m[5]])
		consider(periodHit{end: m[1], priority: 3, label: "Q" + q + " " + strconv.Itoa(year)})
	}
	for _, m := range yearQuarterRe.FindAllStringSubmatchIndex(window, -1) {
		year, q := expandYear(window[m[2]:m[3]]), window[m[4]:m[5]]
		consider(periodHit{end: m[1], priority: 3, label: "Q" + q + " " + strconv.Itoa(year)})
	}
	for _, m := range fiscalYearRe.FindAllStringSubmatchIndex(window, -1) {
		year := expandYear(window[m[2]:m[3]])
		consider(periodHit{end: m[1], priority: 2, label: model.PeriodLabel(year, model.PeriodFY)})
	}
	for _, m := range bareYearRe.FindAllStringSubmatchIndex(window, -1) {
		year := expandYear(window[m[2]:m[3]])
		consider(periodHit{end: m[1], priority: 1, label: model.PeriodLabel(year, model.PeriodFY)})
	}
	return best.label
}

func expandYear(s string) int {
	y, _ := strconv.Atoi(s)
	if len(s) == 2 {
		y += 2000
	}
	return y
}

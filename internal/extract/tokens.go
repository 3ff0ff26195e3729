package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Token is a numeric token found by Tokenize: one of CurrencyToken, PercentToken or MultipleToken
type Token interface {
	Pos() Span
	isToken()
}

// Span locates a token in the scanned text by byte offsets
type Span struct {
	Start int
	End   int
	Raw   string
}

// Pos returns the span itself so every token exposes its location
func (s Span) Pos() Span { return s }

// CurrencyToken is a dollar amount: $394.3B, $2.1 billion, -$40M, $6.13
type CurrencyToken struct {
	Span
	Amount   decimal.Decimal // Signed amount as written, before the suffix is applied
	Suffix   string          // Scale suffix as written, without leading space; empty for plain dollars
	Spaced   bool            // A space separates the amount from the suffix
	Decimals int32           // Digits after the decimal point as written

	// Accounting is set for a parenthesized amount; Amount is already negated
	Accounting bool
}

// PercentToken is a percentage: 45.9%, 12 percent
type PercentToken struct {
	Span
	Amount   decimal.Decimal
	Word     bool // Written as "percent" rather than "%"
	Decimals int32
}

// MultipleToken is a ratio: 28.5x, 3×
type MultipleToken struct {
	Span
	Amount   decimal.Decimal
	Sign     string // "x", "X" or "×"
	Decimals int32
}

func (CurrencyToken) isToken() {}
func (PercentToken) isToken()  {}
func (MultipleToken) isToken() {}

var (
	thousand = decimal.New(1, 3)
	million  = decimal.New(1, 6)
	billion  = decimal.New(1, 9)
)

// scaleSuffixes maps lower-case suffixes to their multiplier in dollars.
// Longer spellings come first so "billion" is preferred to "b".
var scaleSuffixes = []struct {
	word  string
	scale decimal.Decimal
}{
	{"trillion", billion.Mul(thousand)},
	{"thousand", thousand},
	{"billion", billion},
	{"million", million},
	{"bn", billion},
	{"mn", million},
	{"mm", million},
	{"tn", billion.Mul(thousand)},
	{"t", billion.Mul(thousand)},
	{"b", billion},
	{"m", million},
	{"k", thousand},
}

// Scale returns the dollar multiplier of the token's suffix, or one for plain dollars
func (t CurrencyToken) Scale() decimal.Decimal {
	lower := strings.ToLower(t.Suffix)
	for _, s := range scaleSuffixes {
		if s.word == lower {
			return s.scale
		}
	}
	return decimal.NewFromInt(1)
}

// Dollars returns the amount in raw dollars
func (t CurrencyToken) Dollars() decimal.Decimal {
	return t.Amount.Mul(t.Scale())
}

// Billions returns the amount in billions of dollars
func (t CurrencyToken) Billions() decimal.Decimal {
	return t.Dollars().Div(billion)
}

// Tokenize scans text left to right and returns non-overlapping numeric
// tokens. At each position the longest matching grammar wins.
func Tokenize(text string) []Token {
	var tokens []Token
	rangeStart := -1
	for i := 0; i < len(text); {
		if tok, ok := lexAt(text, i, i == rangeStart); ok {
			end := tok.Pos().End
			if rangeFollows(text, end) {
				// Lower bound of a range: only the upper bound is a claim
				rangeStart = end + 1
				i = end + 1
				continue
			}
			tokens = append(tokens, tok)
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return tokens
}

func lexAt(text string, i int, afterRange bool) (Token, bool) {
	if !afterRange && !boundaryBefore(text, i) && !(text[i] == '$' && usdPrefixBefore(text, i)) {
		return nil, false
	}
	if text[i] == '(' {
		return lexAccounting(text, i)
	}

	start := i
	negative := false
	if text[i] == '-' {
		negative = true
		i++
		if i >= len(text) {
			return nil, false
		}
	}

	if text[i] == '$' {
		return lexCurrency(text, start, i+1, negative)
	}
	if isDigit(text[i]) {
		return lexUnitAfterNumber(text, start, i, negative)
	}
	return nil, false
}

// lexAccounting reads an accounting negative: "($2.1B)" is minus 2.1 billion.
// The span covers both parentheses.
func lexAccounting(text string, i int) (Token, bool) {
	j := i + 1
	if j >= len(text) || text[j] != '$' {
		return nil, false
	}
	tok, ok := lexCurrency(text, j, j+1, true)
	if !ok {
		return nil, false
	}
	cur := tok.(CurrencyToken)
	end := cur.End
	if end >= len(text) || text[end] != ')' || !boundaryAfter(text, end+1) {
		return nil, false
	}
	cur.Span = Span{Start: i, End: end + 1, Raw: text[i : end+1]}
	cur.Accounting = true
	return cur, true
}

func lexCurrency(text string, start, i int, negative bool) (Token, bool) {
	amount, decimals, end, ok := lexNumber(text, i)
	if !ok {
		return nil, false
	}
	if negative {
		amount = amount.Neg()
	}

	tok := CurrencyToken{Amount: amount, Decimals: decimals}
	if suffix, spaced, suffixEnd, ok := lexSuffix(text, end); ok {
		tok.Suffix = suffix
		tok.Spaced = spaced
		end = suffixEnd
	} else if !boundaryAfter(text, end) {
		return nil, false
	}
	tok.Span = Span{Start: start, End: end, Raw: text[start:end]}
	return tok, true
}

func lexUnitAfterNumber(text string, start, i int, negative bool) (Token, bool) {
	amount, decimals, end, ok := lexNumber(text, i)
	if !ok {
		return nil, false
	}
	if negative {
		amount = amount.Neg()
	}

	// 45.9% or 45.9 %
	j := end
	if j < len(text) && text[j] == ' ' {
		j++
	}
	if j < len(text) && text[j] == '%' {
		return PercentToken{Span: Span{Start: start, End: j + 1, Raw: text[start : j+1]}, Amount: amount, Decimals: decimals}, true
	}

	// 12 percent, 12 per cent
	for _, word := range []string{"percent", "per cent"} {
		k := end
		if k < len(text) && text[k] == ' ' {
			k++
		}
		if hasFoldPrefix(text[k:], word) && boundaryAfter(text, k+len(word)) {
			e := k + len(word)
			return PercentToken{Span: Span{Start: start, End: e, Raw: text[start:e]}, Amount: amount, Word: true, Decimals: decimals}, true
		}
	}

	// 28.5x, 3×
	for _, sign := range []string{"x", "X", "×"} {
		if strings.HasPrefix(text[end:], sign) && boundaryAfter(text, end+len(sign)) {
			e := end + len(sign)
			return MultipleToken{Span: Span{Start: start, End: e, Raw: text[start:e]}, Amount: amount, Sign: sign, Decimals: decimals}, true
		}
	}
	return nil, false
}

// lexNumber reads 1234, 1,234,567 or 394.3 starting at i
func lexNumber(text string, i int) (decimal.Decimal, int32, int, bool) {
	j := i
	for j < len(text) && isDigit(text[j]) {
		j++
	}
	if j == i {
		return decimal.Decimal{}, 0, i, false
	}
	digits := text[i:j]

	// Thousands separators only after a leading group of at most three digits
	if j-i <= 3 {
		for j+4 <= len(text) && text[j] == ',' && allDigits(text[j+1:j+4]) && !(j+4 < len(text) && isDigit(text[j+4])) {
			digits += text[j+1 : j+4]
			j += 4
		}
	}

	var decimals int32
	if j+1 < len(text) && text[j] == '.' && isDigit(text[j+1]) {
		k := j + 1
		for k < len(text) && isDigit(text[k]) {
			k++
		}
		decimals = int32(k - j - 1)
		digits += text[j:k]
		j = k
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Decimal{}, 0, i, false
	}
	return d, decimals, j, true
}

// lexSuffix matches a scale suffix directly after the amount or after one space
func lexSuffix(text string, i int) (string, bool, int, bool) {
	for _, spaced := range []bool{false, true} {
		j := i
		if spaced {
			if j >= len(text) || text[j] != ' ' {
				continue
			}
			j++
		}
		for _, s := range scaleSuffixes {
			// A lone letter must touch the amount: "$5 M&A" is not five million
			if spaced && len(s.word) == 1 {
				continue
			}
			if hasFoldPrefix(text[j:], s.word) && boundaryAfter(text, j+len(s.word)) {
				return text[j : j+len(s.word)], spaced, j + len(s.word), true
			}
		}
	}
	return "", false, i, false
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// boundaryBefore reports whether a token may start at i
func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	if r == '-' && i >= 2 && isDigit(text[i-2]) && (isDigit(text[i]) || text[i] == '$') {
		// Upper bound of a range: the 10% in 5-10%
		return true
	}
	return !isWordRune(r) && r != '.' && r != ',' && r != '$' && r != '-'
}

// rangeFollows reports whether a token ending at end is the lower bound of a range such as $5B-$10B
func rangeFollows(text string, end int) bool {
	return end+1 < len(text) && text[end] == '-' && (isDigit(text[end+1]) || text[end+1] == '$')
}

// usdPrefixes may be written directly before a dollar sign
var usdPrefixes = []string{"US", "U.S."}

// usdPrefixBefore reports whether the $ at i follows a US dollar prefix
// such as US$394.3B. Other dollar currencies are not read as USD.
func usdPrefixBefore(text string, i int) bool {
	for _, p := range usdPrefixes {
		if !strings.HasSuffix(text[:i], p) {
			continue
		}
		if boundaryBefore(text, i-len(p)) {
			return true
		}
	}
	return false
}

// boundaryAfter reports whether a token may end at i
func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

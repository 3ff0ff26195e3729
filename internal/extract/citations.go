package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/finverify/internal/model"
)

var (
	urlRe       = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)
	sourceRe    = regexp.MustCompile(`(?i)\bsources?\s*:\s*([^\n]*?)(?:\.(?:\s|$)|\n|$)`)
	accordingRe = regexp.MustCompile(`\b[Aa]ccording to (?:the |its |their )?((?:[A-Z][A-Za-z0-9&.\-]*)(?:\s+[A-Z0-9][A-Za-z0-9&.\-]*)*)`)
	refRe       = regexp.MustCompile(`\[(\d{1,3})\]`)
)

// Citations returns the distinct sources a response cites: link hosts, named
// sources ("Source: SEC 10-K", "according to Bloomberg") and bracketed references.
func Citations(text string) []model.Citation {
	var out []model.Citation
	seen := make(map[string]bool)
	add := func(kind model.CitationKind, label string) {
		label = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(label), ".,;:"))
		if label == "" {
			return
		}
		key := string(kind) + "|" + strings.ToLower(label)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, model.Citation{Kind: kind, Label: label})
	}

	for _, raw := range urlRe.FindAllString(text, -1) {
		if host := citationHost(raw); host != "" {
			add(model.CitationURL, host)
		}
	}

	for _, m := range sourceRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ';' || r == ',' || r == '|' }) {
			part = strings.TrimSpace(part)
			if urlRe.MatchString(part) {
				continue
			}
			add(model.CitationNamed, part)
		}
	}

	for _, m := range accordingRe.FindAllStringSubmatch(text, -1) {
		add(model.CitationNamed, m[1])
	}

	for _, m := range refRe.FindAllStringSubmatch(text, -1) {
		add(model.CitationReference, "["+m[1]+"]")
	}

	return out
}

// citationHost returns the lower-case host of a cited URL without a www. prefix
func citationHost(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

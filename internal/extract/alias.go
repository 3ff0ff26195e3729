package extract

import (
	"sort"
	"strings"
	"unicode"
)

// AliasResolver maps a company name or ticker found in text to a canonical entity id
type AliasResolver interface {
	Resolve(alias string) (entity string, ok bool)
}

// StaticResolver resolves aliases from a fixed table. Upper-case aliases are
// tickers and match exactly; everything else matches case-insensitively.
type StaticResolver struct {
	tickers map[string]string
	names   map[string]string
}

// NewStaticResolver builds a resolver from entity id -> aliases. The entity id
// itself is always accepted as a ticker.
func NewStaticResolver(aliases map[string][]string) *StaticResolver {
	r := &StaticResolver{
		tickers: make(map[string]string),
		names:   make(map[string]string),
	}

	// Sorted so that a name claimed by two entities resolves the same way every run
	entities := make([]string, 0, len(aliases))
	for entity := range aliases {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		r.add(entity, entity)
		for _, alias := range aliases[entity] {
			r.add(alias, entity)
		}
	}
	return r
}

func (r *StaticResolver) add(alias, entity string) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return
	}
	if isTicker(alias) {
		if _, taken := r.tickers[alias]; !taken {
			r.tickers[alias] = entity
		}
		return
	}
	key := normalizeName(alias)
	if _, taken := r.names[key]; !taken {
		r.names[key] = entity
	}
}

// Resolve implements AliasResolver
func (r *StaticResolver) Resolve(alias string) (string, bool) {
	alias = strings.TrimSpace(alias)
	if e, ok := r.tickers[strings.TrimPrefix(alias, "$")]; ok {
		return e, true
	}
	e, ok := r.names[normalizeName(alias)]
	return e, ok
}

func isTicker(s string) bool {
	hasLetter := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasLetter = true
		case r == '.' || r == '-' || unicode.IsDigit(r):
		default:
			return false
		}
	}
	return hasLetter
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

package derive

import "strings"

// unitScales converts raw fact units to raw units: dollars, shares, fractions
var unitScales = map[string]float64{
	"usd":             1,
	"usd_thousands":   1e3,
	"usd_millions":    1e6,
	"usd_billions":    1e9,
	"usd/shares":      1,
	"usd_per_share":   1,
	"shares":          1,
	"shares_millions": 1e6,
	"percent":         0.01,
	"pure":            1,
	"ratio":           1,
}

// normalize scales value to raw units. Unknown units report false.
func normalize(value float64, unit string) (float64, bool) {
	scale, ok := unitScales[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, false
	}
	return value * scale, true
}

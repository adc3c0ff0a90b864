package sig

import (
	"regexp"
	"strings"
)

// Canonicalization rewrites pharmacy shorthand into the long forms the
// rule library matches on. Applied before any rule runs.

type rewrite struct {
	re  *regexp.Regexp
	out string
}

var rewrites = []rewrite{
	// Frequency abbreviations (Latin sig codes).
	{regexp.MustCompile(`\bq\.?d\.?\b`), "once daily"},
	{regexp.MustCompile(`\bb\.?i\.?d\.?\b`), "twice daily"},
	{regexp.MustCompile(`\bt\.?i\.?d\.?\b`), "three times daily"},
	{regexp.MustCompile(`\bq\.?i\.?d\.?\b`), "four times daily"},
	{regexp.MustCompile(`\bq\.?h\.?s\.?\b`), "at bedtime"},
	{regexp.MustCompile(`\bq\.?a\.?m\.?\b`), "every morning"},
	{regexp.MustCompile(`\bq\.?p\.?m\.?\b`), "every evening"},
	{regexp.MustCompile(`\bq\s*(\d+)\s*h(?:ours?|rs?)?\b`), "every $1 hours"},
	{regexp.MustCompile(`\bq\.?o\.?d\.?\b`), "every other day"},

	// Routes; the route does not change consumption, drop it.
	{regexp.MustCompile(`\bp\.?o\.?\b`), ""},
	{regexp.MustCompile(`\bby mouth\b`), ""},
	{regexp.MustCompile(`\bs\.?u\.?b\.?q\.?\b|\bsubq\b|\bs\.?c\.?\b`), "subcutaneously"},

	// Dose-form shorthand.
	{regexp.MustCompile(`\btabs?\b`), "tablet"},
	{regexp.MustCompile(`\bcaps?\b`), "capsule"},
	{regexp.MustCompile(`\bteaspoons?\b|\btsps?\b`), "tsp"},
	{regexp.MustCompile(`\btablespoons?\b|\btbsps?\b`), "tbsp"},
	{regexp.MustCompile(`\bmilliliters?\b|\bcc\b`), "ml"},
	{regexp.MustCompile(`\binhalations?\b`), "actuation"},
	{regexp.MustCompile(`\bpuffs?\b`), "actuation"},

	// Spelled-out small numbers. The half forms must rewrite before
	// "one" alone does.
	{regexp.MustCompile(`\bone[- ]half\b|\bhalf\b`), "0.5"},
	{regexp.MustCompile(`\bone\b`), "1"},
	{regexp.MustCompile(`\btwo\b`), "2"},
	{regexp.MustCompile(`\bthree\b`), "3"},
	{regexp.MustCompile(`\bfour\b`), "4"},
}

// Canonicalize lowercases text and expands sig shorthand.
func Canonicalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, r := range rewrites {
		s = r.re.ReplaceAllString(s, r.out)
	}
	return strings.Join(strings.Fields(s), " ")
}

package sig

import (
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// The rule library covers the regimens the deterministic path handles:
// solid doses, measured liquids, inhaler actuations, and injectable
// units, each paired with a recognized frequency phrase.

var (
	solidRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(tablet|capsule)s?\b`)
	liquidRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ml|tsp|tbsp)\b`)
	inhaleRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*actuations?\b`)
	injectRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*units?\b`)
)

// Ordered most specific first: the bare once-a-day forms come last so
// they cannot swallow a multiplied variant like "twice daily".
var frequencyPatterns = []struct {
	re     *regexp.Regexp
	perDay decimal.Decimal
}{
	{regexp.MustCompile(`\btwice daily\b|\btwice a day\b`), decimal.NewFromInt(2)},
	{regexp.MustCompile(`\bthrice daily\b`), decimal.NewFromInt(3)},
	{regexp.MustCompile(`\bevery other day\b`), decimal.NewFromFloat(0.5)},
	{regexp.MustCompile(`\bonce weekly\b|\bweekly\b|\bonce a week\b`), decimal.NewFromInt(1).Div(decimal.NewFromInt(7))},
	{regexp.MustCompile(`\bonce daily\b|\bevery day\b|\bdaily\b|\beach day\b`), decimal.NewFromInt(1)},
	{regexp.MustCompile(`\bat bedtime\b|\bevery morning\b|\bevery evening\b|\bevery night\b|\bnightly\b`), decimal.NewFromInt(1)},
}

var (
	timesDailyRe  = regexp.MustCompile(`\b(\d+) times (?:daily|a day)\b`)
	everyNHoursRe = regexp.MustCompile(`\bevery (\d+) hours\b`)
)

// parseFrequency extracts administrations per day from canonicalized
// text.
func parseFrequency(text string) (decimal.Decimal, bool) {
	if m := timesDailyRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return decimal.NewFromInt(int64(n)), true
		}
	}
	for _, p := range frequencyPatterns {
		if p.re.MatchString(text) {
			return p.perDay, true
		}
	}
	if m := everyNHoursRe.FindStringSubmatch(text); m != nil {
		hours, err := strconv.Atoi(m[1])
		if err == nil && hours > 0 && hours <= 24 {
			return decimal.NewFromInt(24).Div(decimal.NewFromInt(int64(hours))), true
		}
	}
	return decimal.Zero, false
}

// matchRules applies the rule library to canonicalized text. The dose
// patterns are tried in specificity order; a dose without a recognized
// frequency does not match.
func matchRules(text string) (*Directive, bool) {
	freq, ok := parseFrequency(text)
	if !ok {
		return nil, false
	}

	type attempt struct {
		re   *regexp.Regexp
		unit func(match string) string
		// scale converts the matched amount into dispensing units.
		scale func(amount decimal.Decimal, match string) decimal.Decimal
	}

	attempts := []attempt{
		{solidRe, func(m string) string { return m }, nil},
		{liquidRe, func(string) string { return "ml" }, func(amount decimal.Decimal, m string) decimal.Decimal {
			switch m {
			case "tsp":
				return amount.Mul(decimal.NewFromInt(5))
			case "tbsp":
				return amount.Mul(decimal.NewFromInt(15))
			default:
				return amount
			}
		}},
		{inhaleRe, func(string) string { return "actuation" }, nil},
		{injectRe, func(string) string { return "unit" }, nil},
	}

	for _, a := range attempts {
		m := a.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		amount, err := decimal.NewFromString(m[1])
		if err != nil || !amount.IsPositive() {
			continue
		}

		unitMatch := ""
		if len(m) > 2 {
			unitMatch = m[2]
		}
		if a.scale != nil {
			amount = a.scale(amount, unitMatch)
		}

		return &Directive{
			Unit:         a.unit(unitMatch),
			DosePerAdmin: amount,
			AdminsPerDay: freq,
			PerDay:       amount.Mul(freq),
			Method:       MethodRules,
		}, true
	}

	return nil, false
}

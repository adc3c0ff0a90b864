// Package quantity computes the total required dispensing quantity from
// a parsed directive and days of therapy, with unit-aware rounding.
package quantity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rxops/packfit/internal/sig"
)

// RoundingRule names the post-processing applied to a computed total.
type RoundingRule string

const (
	// RoundNone means the product was already integral.
	RoundNone RoundingRule = "none"
	// RoundNearest rounds liquids to the nearest whole dispensing unit.
	RoundNearest RoundingRule = "nearest-whole"
	// RoundUp rounds fractional solid/actuation/unit totals up, since a
	// partial tablet or actuation cannot be dispensed short.
	RoundUp RoundingRule = "round-up"
)

// RoundingTrace records a rounding decision for diagnostics.
type RoundingTrace struct {
	Rule   RoundingRule    `json:"rule"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

// Required is the computed quantity for one request.
type Required struct {
	Unit     string          `json:"unit"`
	PerDay   decimal.Decimal `json:"per_day"`
	Total    decimal.Decimal `json:"total"`
	Days     int             `json:"days_of_therapy"`
	Rounding RoundingTrace   `json:"rounding"`
}

// Compute multiplies per-day consumption by days of therapy and applies
// the unit's rounding rule. unitOverride, when non-empty, relabels the
// unit without altering the numbers.
func Compute(d *sig.Directive, days int, unitOverride string) (*Required, error) {
	if d == nil {
		return nil, fmt.Errorf("quantity: nil directive")
	}
	if days <= 0 {
		return nil, fmt.Errorf("quantity: days of therapy must be positive, got %d", days)
	}

	raw := d.PerDay.Mul(decimal.NewFromInt(int64(days)))

	unit := d.Unit
	if unitOverride != "" {
		unit = unitOverride
	}

	total, rule := round(raw, d.Unit)
	return &Required{
		Unit:   unit,
		PerDay: d.PerDay,
		Total:  total,
		Days:   days,
		Rounding: RoundingTrace{
			Rule:   rule,
			Before: raw,
			After:  total,
		},
	}, nil
}

// round applies the rounding rule keyed on the parsed unit, not the
// override: the override relabels, it never changes arithmetic.
func round(raw decimal.Decimal, unit string) (decimal.Decimal, RoundingRule) {
	if raw.Equal(raw.Truncate(0)) {
		return raw, RoundNone
	}
	if unit == "ml" {
		return raw.Round(0), RoundNearest
	}
	return raw.Ceil(), RoundUp
}

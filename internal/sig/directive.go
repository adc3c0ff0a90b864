// Package sig parses free-text dosing directions into a structured
// per-day consumption rate. Deterministic pattern rules run first; an
// external language-model interpreter is consulted only when no rule
// matches.
package sig

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Method tags how a directive was parsed.
type Method string

const (
	MethodRules  Method = "rules"
	MethodAI     Method = "ai"
	MethodFailed Method = "failed"
)

// ErrUnparsed is returned when both the rule library and the fallback
// interpreter fail. This is terminal for a request: a rewrite of the
// directive text, not a retry, is what would fix it.
var ErrUnparsed = errors.New("sig: directive matched no rule and fallback produced no result")

// Directive is the structured reading of one sig text.
type Directive struct {
	// Unit is the dispensing unit: tablet, capsule, ml, actuation, unit.
	Unit string
	// DosePerAdmin is the quantity consumed per administration.
	DosePerAdmin decimal.Decimal
	// AdminsPerDay is the number of administrations per day.
	AdminsPerDay decimal.Decimal
	// PerDay is DosePerAdmin times AdminsPerDay.
	PerDay decimal.Decimal
	// Method records which path produced this directive.
	Method Method
}

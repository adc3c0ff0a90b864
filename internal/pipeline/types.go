package pipeline

import (
	"strings"

	"github.com/rxops/packfit/internal/apperr"
	"github.com/rxops/packfit/internal/packselect"
	"github.com/rxops/packfit/internal/quantity"
	"github.com/rxops/packfit/internal/rxnorm"
	"github.com/rxops/packfit/internal/sig"
)

// ComputeRequest is one validated dispensing computation. Immutable and
// request-scoped.
type ComputeRequest struct {
	// Drug is a free-text name or an NDC code.
	Drug string `json:"drug"`
	// Directions is the free-text sig.
	Directions string `json:"directions"`
	// DaysOfTherapy is the length of treatment in days.
	DaysOfTherapy int `json:"days_of_therapy"`
	// PreferredNDCs bias selection tie-breaks; they never filter.
	PreferredNDCs []string `json:"preferred_ndcs,omitempty"`
	// UnitOverride relabels the dispensing unit without changing math.
	UnitOverride string `json:"unit_override,omitempty"`
}

// Validate applies the trivial schema checks. Full validation happens
// upstream of this core.
func (r *ComputeRequest) Validate() *apperr.Error {
	switch {
	case strings.TrimSpace(r.Drug) == "":
		return apperr.Validation("drug is required")
	case strings.TrimSpace(r.Directions) == "":
		return apperr.Validation("directions is required")
	case r.DaysOfTherapy <= 0:
		return apperr.Validation("days_of_therapy must be a positive integer")
	}
	return nil
}

// Flags carries the diagnostic signals of one computation.
type Flags struct {
	// InactiveNDCs lists catalog codes no longer marketed.
	InactiveNDCs []string `json:"inactive_ndcs,omitempty"`
	// Mismatch is set when the two data sources disagree about shared
	// codes.
	Mismatch bool `json:"mismatch"`
	// Notes are human-readable explanations of degraded or partial data.
	Notes []string `json:"notes,omitempty"`
}

// ComputeResult is the externally visible aggregate.
type ComputeResult struct {
	Drug        *rxnorm.NormalizedDrug `json:"drug,omitempty"`
	ParseMethod sig.Method             `json:"parse_method"`
	Quantity    *quantity.Required     `json:"quantity"`
	Selection   *packselect.Result     `json:"selection"`
	Flags       Flags                  `json:"flags"`
}

func (f *Flags) note(msg string) {
	f.Notes = append(f.Notes, msg)
}

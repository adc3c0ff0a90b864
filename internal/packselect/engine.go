// Package packselect chooses the retail package combination that
// satisfies a required quantity with minimal waste under fixed business
// constraints.
package packselect

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rxops/packfit/internal/ndc"
	"github.com/rxops/packfit/internal/quantity"
)

// Policy holds the fixed selection constraints.
type Policy struct {
	// MaxOverfillPct is the largest acceptable overfill percentage.
	MaxOverfillPct decimal.Decimal
	// MaxPacks bounds how many packs of the same code may be combined.
	MaxPacks int
}

// DefaultPolicy returns the standard constraints: 10% overfill, up to
// three packs of one code.
func DefaultPolicy() Policy {
	return Policy{
		MaxOverfillPct: decimal.NewFromInt(10),
		MaxPacks:       3,
	}
}

// Option is one candidate (code, pack count) combination. Invariant:
// any option eligible to be chosen has OverfillPct >= 0 — a combination
// may never under-supply the required quantity.
type Option struct {
	NDC11       string          `json:"ndc11"`
	Name        string          `json:"name,omitempty"`
	Size        int             `json:"package_size"`
	Packs       int             `json:"packs"`
	Provided    int             `json:"provided"`
	OverfillPct decimal.Decimal `json:"overfill_pct"`
	Active      bool            `json:"active"`
	Preferred   bool            `json:"preferred,omitempty"`
}

// Result is the selection outcome. Chosen is nil when no combination
// survives the constraints.
type Result struct {
	Chosen     *Option  `json:"chosen,omitempty"`
	Alternates []Option `json:"alternates,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// Select enumerates pack counts 1..MaxPacks for every catalog code,
// rejects under-supply and excess overfill, and ranks survivors:
// active codes first, then fewer packs, lower overfill, larger package
// size. Preferred codes win only exact ties — preference never
// overrides an outright-better active or overfill match.
func Select(required *quantity.Required, catalog []ndc.PackageRecord, preferred []string, policy Policy) *Result {
	if required == nil || !required.Total.IsPositive() {
		return &Result{Note: "nothing to dispense"}
	}
	if len(catalog) == 0 {
		return &Result{Note: "no packages available for this drug"}
	}

	preferredSet := make(map[string]bool, len(preferred))
	for _, code := range preferred {
		preferredSet[ndc.NormalizeNDC11(code)] = true
	}

	anyActive := false
	var options []Option
	for _, rec := range catalog {
		if rec.Size <= 0 {
			continue
		}
		if rec.Active {
			anyActive = true
		}
		for packs := 1; packs <= policy.MaxPacks; packs++ {
			provided := decimal.NewFromInt(int64(rec.Size * packs))
			over := provided.Sub(required.Total)
			if over.IsNegative() {
				continue
			}
			pct := over.Div(required.Total).Mul(decimal.NewFromInt(100))
			if pct.GreaterThan(policy.MaxOverfillPct) {
				// Larger pack counts only overfill further.
				break
			}
			options = append(options, Option{
				NDC11:       rec.NDC11,
				Name:        rec.Name,
				Size:        rec.Size,
				Packs:       packs,
				Provided:    rec.Size * packs,
				OverfillPct: pct.Round(2),
				Active:      rec.Active,
				Preferred:   preferredSet[rec.NDC11],
			})
		}
	}

	if len(options) == 0 {
		return &Result{Note: "no suitable package found within overfill and pack limits"}
	}

	sort.Slice(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if a.Active != b.Active {
			return a.Active
		}
		if a.Packs != b.Packs {
			return a.Packs < b.Packs
		}
		if !a.OverfillPct.Equal(b.OverfillPct) {
			return a.OverfillPct.LessThan(b.OverfillPct)
		}
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		if a.Preferred != b.Preferred {
			return a.Preferred
		}
		return a.NDC11 < b.NDC11
	})

	if !anyActive {
		// Inactive-only catalogs never produce a dispensing choice; the
		// caller reports the inactive codes instead.
		return &Result{
			Alternates: options,
			Note:       "only inactive packages matched; nothing chosen",
		}
	}

	chosen := options[0]
	return &Result{
		Chosen:     &chosen,
		Alternates: options[1:],
	}
}

package ndc

import "time"

// PackageRecord is one retail package as described by the package-data
// source. NDC11 is the canonical 5-4-2 zero-padded code; records are
// de-duplicated on it.
type PackageRecord struct {
	NDC11       string `json:"ndc11"`
	PackageNDC  string `json:"package_ndc"`
	Size        int    `json:"size"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	DosageForm  string `json:"dosage_form"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// SizeInferred marks sizes produced by the injectable volume and
	// concentration heuristics rather than an explicit count.
	SizeInferred bool `json:"size_inferred,omitempty"`
}

// Catalog is the outcome of one package-data lookup.
type Catalog struct {
	Records  []PackageRecord
	Degraded bool
	StaleAge time.Duration
}

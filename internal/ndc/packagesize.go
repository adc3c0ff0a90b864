package ndc

import (
	"regexp"
	"strconv"
	"strings"
)

// Package sizes arrive in heterogeneous shapes: an explicit numeric
// field on nested packaging sub-records, a free-text description such
// as "30 TABLET in 1 BOTTLE", nested chains joined by ">", or, for
// injectables, only a concentration and container hint. normalizeSize
// resolves them in that priority order and reports whether the result
// came from the heuristic injectable path.

var (
	segmentCountRe  = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s+([A-Za-z]+)`)
	fillVolumeRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*m[lL]`)
	concentrationRe = regexp.MustCompile(`(?i)(\d+)\s*(?:unit|u)\s*/\s*m[lL]`)
	uDashRe         = regexp.MustCompile(`(?i)\bU-?(\d{2,3})\b`)
)

const defaultUnitsPerML = 100

// Container fill-volume defaults when the description names the
// container but not its volume.
const (
	defaultVialFillML = 10
	defaultPenFillML  = 3
)

// normalizeSize returns the total dispensable units for one packaging
// record, the dispensing unit, and whether the injectable heuristics
// were applied. Returns size 0 when nothing usable was found.
func normalizeSize(explicit int, description, dosageForm, strength string) (size int, unit string, inferred bool) {
	if explicit > 0 {
		return explicit, unitFromForm(dosageForm), false
	}

	if size, unit, ok := sizeFromDescription(description); ok {
		if isInjectable(dosageForm, description) {
			if strings.EqualFold(unit, "ml") && mentionsUnits(description, strength) {
				// Insulin-style products dispense in units, not milliliters.
				conc := detectConcentration(description, strength)
				return size * conc, "unit", true
			}
			if isContainerUnit(unit) {
				// A container count is not a dispensable quantity; size
				// each container by concentration and fill volume.
				if per, ok := inferInjectableSize(description, strength); ok {
					return size * per, "unit", true
				}
			}
		}
		return size, unit, false
	}

	if isInjectable(dosageForm, description) {
		if size, ok := inferInjectableSize(description, strength); ok {
			return size, "unit", true
		}
	}

	return 0, unitFromForm(dosageForm), false
}

// sizeFromDescription parses counts out of a packaging description.
// Nested chains multiply: "5 SYRINGE in 1 CARTON > 3 ML in 1 SYRINGE"
// yields 15 ML.
func sizeFromDescription(description string) (int, string, bool) {
	segments := strings.Split(description, ">")
	product := 1.0
	unit := ""
	matched := false

	for _, seg := range segments {
		m := segmentCountRe.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil || n <= 0 {
			continue
		}
		product *= n
		unit = strings.ToLower(m[2])
		matched = true
	}

	if !matched {
		return 0, "", false
	}
	return int(product + 0.5), unit, true
}

// inferInjectableSize estimates total dispensable units for vials and
// pens: concentration (default 100 units/mL) times fill volume, where
// the volume falls back to a container-typical default when the
// description does not state it.
func inferInjectableSize(description, strength string) (int, bool) {
	conc := detectConcentration(description, strength)

	volume := 0.0
	if m := fillVolumeRe.FindStringSubmatch(description); m != nil {
		volume, _ = strconv.ParseFloat(m[1], 64)
	}
	if volume == 0 {
		switch {
		case containsFold(description, "pen"), containsFold(description, "cartridge"):
			volume = defaultPenFillML
		case containsFold(description, "vial"), containsFold(description, "syringe"):
			volume = defaultVialFillML
		default:
			return 0, false
		}
	}

	return int(float64(conc)*volume + 0.5), true
}

func detectConcentration(description, strength string) int {
	for _, text := range []string{description, strength} {
		if m := concentrationRe.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n
			}
		}
		if m := uDashRe.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n
			}
		}
	}
	return defaultUnitsPerML
}

func isContainerUnit(unit string) bool {
	switch strings.ToLower(unit) {
	case "vial", "pen", "syringe", "cartridge", "carton", "kit":
		return true
	}
	return false
}

func isInjectable(dosageForm, description string) bool {
	return containsFold(dosageForm, "inject") ||
		containsFold(description, "vial") ||
		containsFold(description, "pen injector") ||
		containsFold(description, "prefilled")
}

func mentionsUnits(description, strength string) bool {
	return concentrationRe.MatchString(description) ||
		concentrationRe.MatchString(strength) ||
		uDashRe.MatchString(description) ||
		uDashRe.MatchString(strength)
}

func unitFromForm(dosageForm string) string {
	form := strings.ToLower(dosageForm)
	switch {
	case strings.Contains(form, "tablet"):
		return "tablet"
	case strings.Contains(form, "capsule"):
		return "capsule"
	case strings.Contains(form, "aerosol"), strings.Contains(form, "inhal"):
		return "actuation"
	case strings.Contains(form, "inject"):
		return "unit"
	case strings.Contains(form, "solution"), strings.Contains(form, "suspension"),
		strings.Contains(form, "syrup"), strings.Contains(form, "elixir"):
		return "ml"
	default:
		return "each"
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// NormalizeNDC11 converts the dashed NDC-10 variants (4-4-2, 5-3-2,
// 5-4-1) to the canonical 11-digit 5-4-2 form by zero-padding the short
// segment. Undashed input is zero-padded on the left.
func NormalizeNDC11(code string) string {
	code = strings.TrimSpace(code)
	parts := strings.Split(code, "-")

	if len(parts) == 3 {
		labeler, product, pkg := parts[0], parts[1], parts[2]
		switch {
		case len(labeler) == 4 && len(product) == 4 && len(pkg) == 2:
			labeler = "0" + labeler
		case len(labeler) == 5 && len(product) == 3 && len(pkg) == 2:
			product = "0" + product
		case len(labeler) == 5 && len(product) == 4 && len(pkg) == 1:
			pkg = "0" + pkg
		}
		return labeler + product + pkg
	}

	digits := strings.ReplaceAll(code, "-", "")
	for len(digits) < 11 {
		digits = "0" + digits
	}
	return digits
}

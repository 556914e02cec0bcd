// Package seeds validates promotion hazard parameters and age/tenure band
// partitions, and writes the seed CSV files the simulation engine reads.
// Validation functions are pure: inputs are config mappings, outputs are
// structured issues, no I/O.
package seeds

import (
	"fmt"
	"sort"
	"strings"
)

// Issue codes.
const (
	CodeNotNumeric    = "not_numeric"
	CodeOutOfRange    = "out_of_range"
	CodeMissing       = "missing"
	CodeCountMismatch = "count_mismatch"
	CodeInvalidRange  = "invalid_range"
	CodeCoverage      = "coverage"
	CodeGap           = "gap"
	CodeOverlap       = "overlap"
)

// Issue is one structured validation failure.
type Issue struct {
	Field   string   `json:"field"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	BandIDs []string `json:"band_ids,omitempty"`
}

// Issues is a validation result; empty means valid. It implements error so
// the store can reject a write with the full issue list attached.
type Issues []Issue

func (is Issues) Error() string {
	if len(is) == 0 {
		return "no validation issues"
	}
	parts := make([]string, 0, len(is))
	for _, i := range is {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", i.Field, i.Message, i.Code))
	}
	return strings.Join(parts, "; ")
}

// CountExpectation optionally pins the number of multiplier entries.
// Zero means any count >= 1 is accepted.
type CountExpectation struct {
	AgeEntries    int
	TenureEntries int
}

// DefaultExpectation matches the engine's stock seed files: six age bands
// and five tenure bands.
var DefaultExpectation = CountExpectation{AgeEntries: 6, TenureEntries: 5}

// ValidatePromotionHazard checks a promotion_hazard mapping:
// base_rate and level_dampener_factor numeric in [0,1], every multiplier
// numeric and >= 0, entry counts matching the expectation when pinned.
func ValidatePromotionHazard(m map[string]interface{}, expect CountExpectation) Issues {
	var issues Issues

	issues = append(issues, checkUnitInterval(m, "base_rate")...)
	issues = append(issues, checkUnitInterval(m, "level_dampener_factor")...)
	issues = append(issues, checkMultipliers(m, "age_multipliers", "age_band", expect.AgeEntries)...)
	issues = append(issues, checkMultipliers(m, "tenure_multipliers", "tenure_band", expect.TenureEntries)...)

	return issues
}

func checkUnitInterval(m map[string]interface{}, field string) Issues {
	v, ok := m[field]
	if !ok {
		return Issues{{Field: field, Code: CodeMissing, Message: "required value missing"}}
	}
	f, ok := asFloat(v)
	if !ok {
		return Issues{{Field: field, Code: CodeNotNumeric, Message: fmt.Sprintf("expected a number, got %T", v)}}
	}
	if f < 0 || f > 1 {
		return Issues{{Field: field, Code: CodeOutOfRange, Message: fmt.Sprintf("%v outside [0, 1]", f)}}
	}
	return nil
}

func checkMultipliers(m map[string]interface{}, field, bandKey string, expected int) Issues {
	var issues Issues

	raw, ok := m[field]
	if !ok {
		return Issues{{Field: field, Code: CodeMissing, Message: "required list missing"}}
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return Issues{{Field: field, Code: CodeCountMismatch, Message: "at least one entry required"}}
	}
	if expected > 0 && len(list) != expected {
		issues = append(issues, Issue{
			Field:   field,
			Code:    CodeCountMismatch,
			Message: fmt.Sprintf("expected %d entries, got %d", expected, len(list)),
		})
	}
	for i, entry := range list {
		em, ok := asMapping(entry)
		if !ok {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Code:    CodeNotNumeric,
				Message: "entry is not a mapping",
			})
			continue
		}
		mv, ok := asFloat(em["multiplier"])
		if !ok {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("%s[%d].multiplier", field, i),
				Code:    CodeNotNumeric,
				Message: "multiplier must be numeric",
			})
			continue
		}
		if mv < 0 {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("%s[%d].multiplier", field, i),
				Code:    CodeOutOfRange,
				Message: fmt.Sprintf("multiplier %v must be >= 0", mv),
			})
		}
		if _, ok := asString(em[bandKey]); !ok {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("%s[%d].%s", field, i, bandKey),
				Code:    CodeMissing,
				Message: "band label missing",
			})
		}
	}
	return issues
}

// ValidateBands checks a band partition: non-empty, every min < max, sorted
// by min, first min = 0, and consecutive max_i = min_{i+1}. kind names the
// partition in issue fields ("age" or "tenure").
func ValidateBands(kind string, raw []interface{}) Issues {
	field := kind + "_bands"
	if len(raw) == 0 {
		return Issues{{Field: field, Code: CodeCoverage, Message: "partition must not be empty"}}
	}

	bands := make([]Band, 0, len(raw))
	var issues Issues
	for i, entry := range raw {
		b, ok := bandFrom(entry)
		if !ok {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Code:    CodeNotNumeric,
				Message: "band must be a mapping with numeric min_value and max_value",
			})
			continue
		}
		bands = append(bands, b)
	}
	if len(issues) > 0 {
		return issues
	}

	sort.Slice(bands, func(i, j int) bool { return bands[i].MinValue < bands[j].MinValue })

	for _, b := range bands {
		if b.MinValue >= b.MaxValue {
			issues = append(issues, Issue{
				Field:   field,
				Code:    CodeInvalidRange,
				Message: fmt.Sprintf("band %s has min_value %v >= max_value %v", b.BandID, b.MinValue, b.MaxValue),
				BandIDs: []string{b.BandID},
			})
		}
	}

	if bands[0].MinValue != 0 {
		issues = append(issues, Issue{
			Field:   field,
			Code:    CodeCoverage,
			Message: fmt.Sprintf("first band must start at 0, got %v", bands[0].MinValue),
			BandIDs: []string{bands[0].BandID},
		})
	}

	for i := 0; i+1 < len(bands); i++ {
		cur, next := bands[i], bands[i+1]
		switch {
		case cur.MaxValue < next.MinValue:
			issues = append(issues, Issue{
				Field:   field,
				Code:    CodeGap,
				Message: fmt.Sprintf("gap between %v and %v", cur.MaxValue, next.MinValue),
				BandIDs: []string{cur.BandID, next.BandID},
			})
		case cur.MaxValue > next.MinValue:
			issues = append(issues, Issue{
				Field:   field,
				Code:    CodeOverlap,
				Message: fmt.Sprintf("bands overlap between %v and %v", next.MinValue, cur.MaxValue),
				BandIDs: []string{cur.BandID, next.BandID},
			})
		}
	}

	return issues
}

// ValidateConfigSections validates whichever seed-bearing sections are
// present in a config mapping. Stored base configs and scenario overrides
// are partial by design, so within promotion_hazard only the fields present
// are checked; band lists replace wholesale on merge and so must form a
// complete partition whenever they appear. Updates mixing valid and invalid
// sections are rejected wholesale by returning every issue found.
func ValidateConfigSections(cfg map[string]interface{}) Issues {
	var issues Issues

	if raw, ok := cfg["promotion_hazard"]; ok {
		if m, ok := asMapping(raw); ok {
			issues = append(issues, validatePresentHazardFields(m)...)
		} else {
			issues = append(issues, Issue{Field: "promotion_hazard", Code: CodeNotNumeric, Message: "section is not a mapping"})
		}
	}
	if raw, ok := cfg["age_bands"]; ok {
		if list, ok := raw.([]interface{}); ok {
			issues = append(issues, ValidateBands("age", list)...)
		} else {
			issues = append(issues, Issue{Field: "age_bands", Code: CodeInvalidRange, Message: "section is not a list"})
		}
	}
	if raw, ok := cfg["tenure_bands"]; ok {
		if list, ok := raw.([]interface{}); ok {
			issues = append(issues, ValidateBands("tenure", list)...)
		} else {
			issues = append(issues, Issue{Field: "tenure_bands", Code: CodeInvalidRange, Message: "section is not a list"})
		}
	}

	return issues
}

// validatePresentHazardFields checks only the hazard fields the mapping
// carries, unlike ValidatePromotionHazard which demands a complete section.
func validatePresentHazardFields(m map[string]interface{}) Issues {
	var issues Issues
	for _, field := range []string{"base_rate", "level_dampener_factor"} {
		if _, ok := m[field]; ok {
			issues = append(issues, checkUnitInterval(m, field)...)
		}
	}
	if _, ok := m["age_multipliers"]; ok {
		issues = append(issues, checkMultipliers(m, "age_multipliers", "age_band", 0)...)
	}
	if _, ok := m["tenure_multipliers"]; ok {
		issues = append(issues, checkMultipliers(m, "tenure_multipliers", "tenure_band", 0)...)
	}
	return issues
}

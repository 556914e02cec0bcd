package seeds

import "testing"

func band(id string, min, max float64) map[string]interface{} {
	return map[string]interface{}{
		"band_id":   id,
		"min_value": min,
		"max_value": max,
	}
}

func validHazard() map[string]interface{} {
	return map[string]interface{}{
		"base_rate":             0.1,
		"level_dampener_factor": 0.15,
		"age_multipliers": []interface{}{
			map[string]interface{}{"age_band": "<30", "multiplier": 1.4},
			map[string]interface{}{"age_band": "30-40", "multiplier": 1.1},
		},
		"tenure_multipliers": []interface{}{
			map[string]interface{}{"tenure_band": "<2", "multiplier": 0.8},
		},
	}
}

func TestValidatePromotionHazard_Clean(t *testing.T) {
	issues := ValidatePromotionHazard(validHazard(), CountExpectation{})
	if len(issues) != 0 {
		t.Errorf("expected clean, got %v", issues)
	}
}

func TestValidatePromotionHazard_BaseRateOutOfRange(t *testing.T) {
	h := validHazard()
	h["base_rate"] = 1.5
	issues := ValidatePromotionHazard(h, CountExpectation{})
	if !hasIssue(issues, "base_rate", CodeOutOfRange) {
		t.Errorf("expected out_of_range on base_rate, got %v", issues)
	}
}

func TestValidatePromotionHazard_NonNumeric(t *testing.T) {
	h := validHazard()
	h["level_dampener_factor"] = "fast"
	issues := ValidatePromotionHazard(h, CountExpectation{})
	if !hasIssue(issues, "level_dampener_factor", CodeNotNumeric) {
		t.Errorf("expected not_numeric, got %v", issues)
	}
}

func TestValidatePromotionHazard_NegativeMultiplier(t *testing.T) {
	h := validHazard()
	h["age_multipliers"] = []interface{}{
		map[string]interface{}{"age_band": "<30", "multiplier": -0.2},
	}
	issues := ValidatePromotionHazard(h, CountExpectation{})
	if !hasIssue(issues, "age_multipliers[0].multiplier", CodeOutOfRange) {
		t.Errorf("expected out_of_range on multiplier, got %v", issues)
	}
}

func TestValidatePromotionHazard_PinnedCounts(t *testing.T) {
	issues := ValidatePromotionHazard(validHazard(), DefaultExpectation)
	if !hasIssue(issues, "age_multipliers", CodeCountMismatch) {
		t.Errorf("expected count_mismatch for pinned age entries, got %v", issues)
	}
	if !hasIssue(issues, "tenure_multipliers", CodeCountMismatch) {
		t.Errorf("expected count_mismatch for pinned tenure entries, got %v", issues)
	}
}

// Gap rejection: [0,25) then [30,40) leaves ages 25-29 uncovered; the issue
// must reference both bands.
func TestValidateBands_Gap(t *testing.T) {
	issues := ValidateBands("age", []interface{}{
		band("b1", 0, 25),
		band("b2", 30, 40),
	})
	var gap *Issue
	for i := range issues {
		if issues[i].Code == CodeGap {
			gap = &issues[i]
		}
	}
	if gap == nil {
		t.Fatalf("expected a gap issue, got %v", issues)
	}
	if len(gap.BandIDs) != 2 || gap.BandIDs[0] != "b1" || gap.BandIDs[1] != "b2" {
		t.Errorf("gap should reference both bands, got %v", gap.BandIDs)
	}

	clean := ValidateBands("age", []interface{}{
		band("b1", 0, 25),
		band("b2", 25, 40),
	})
	if len(clean) != 0 {
		t.Errorf("corrected input should validate clean, got %v", clean)
	}
}

func TestValidateBands_Overlap(t *testing.T) {
	issues := ValidateBands("tenure", []interface{}{
		band("t1", 0, 5),
		band("t2", 3, 10),
	})
	if !hasCode(issues, CodeOverlap) {
		t.Errorf("expected overlap, got %v", issues)
	}
}

func TestValidateBands_FirstNotZero(t *testing.T) {
	issues := ValidateBands("age", []interface{}{
		band("b1", 5, 25),
		band("b2", 25, 40),
	})
	if !hasCode(issues, CodeCoverage) {
		t.Errorf("expected coverage issue, got %v", issues)
	}
}

func TestValidateBands_InvalidRange(t *testing.T) {
	issues := ValidateBands("age", []interface{}{
		band("b1", 0, 0),
	})
	if !hasCode(issues, CodeInvalidRange) {
		t.Errorf("expected invalid_range, got %v", issues)
	}
}

func TestValidateBands_Empty(t *testing.T) {
	issues := ValidateBands("age", nil)
	if !hasCode(issues, CodeCoverage) {
		t.Errorf("expected coverage issue for empty partition, got %v", issues)
	}
}

func TestValidateBands_UnsortedInputAccepted(t *testing.T) {
	// The validator sorts by min_value before checking adjacency.
	issues := ValidateBands("age", []interface{}{
		band("b2", 25, 40),
		band("b1", 0, 25),
	})
	if len(issues) != 0 {
		t.Errorf("unsorted but complete partition should be clean, got %v", issues)
	}
}

func TestValidateConfigSections(t *testing.T) {
	cfg := map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025},
		"age_bands": []interface{}{
			band("b1", 0, 25),
			band("b2", 30, 40),
		},
	}
	issues := ValidateConfigSections(cfg)
	if !hasCode(issues, CodeGap) {
		t.Errorf("expected gap from age_bands section, got %v", issues)
	}

	// Sections absent entirely: nothing to validate.
	if got := ValidateConfigSections(map[string]interface{}{"simulation": 1}); len(got) != 0 {
		t.Errorf("no seed sections should mean no issues, got %v", got)
	}
}

func hasIssue(issues Issues, field, code string) bool {
	for _, i := range issues {
		if i.Field == field && i.Code == code {
			return true
		}
	}
	return false
}

func hasCode(issues Issues, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

package seeds

import (
	"fmt"
	"strconv"
)

// Band is one element of an age or tenure partition. Intervals are
// half-open: [MinValue, MaxValue).
type Band struct {
	BandID       string  `json:"band_id"`
	BandLabel    string  `json:"band_label"`
	MinValue     float64 `json:"min_value"`
	MaxValue     float64 `json:"max_value"`
	DisplayOrder int     `json:"display_order"`
}

// Multiplier scales the promotion hazard for one band.
type Multiplier struct {
	Band  string  `json:"band"`
	Value float64 `json:"multiplier"`
}

// PromotionHazard is the parameter bundle behind the promotion seed CSVs.
type PromotionHazard struct {
	BaseRate          float64      `json:"base_rate"`
	LevelDampener     float64      `json:"level_dampener_factor"`
	AgeMultipliers    []Multiplier `json:"age_multipliers"`
	TenureMultipliers []Multiplier `json:"tenure_multipliers"`
}

// HazardFromConfig extracts a typed promotion hazard from a config mapping.
// Call after validation; extraction is best-effort.
func HazardFromConfig(cfg map[string]interface{}) (*PromotionHazard, bool) {
	raw, ok := cfg["promotion_hazard"]
	if !ok {
		return nil, false
	}
	m, ok := asMapping(raw)
	if !ok {
		return nil, false
	}

	h := &PromotionHazard{}
	h.BaseRate, _ = asFloat(m["base_rate"])
	h.LevelDampener, _ = asFloat(m["level_dampener_factor"])
	h.AgeMultipliers = multipliersFrom(m["age_multipliers"], "age_band")
	h.TenureMultipliers = multipliersFrom(m["tenure_multipliers"], "tenure_band")
	return h, true
}

// BandsFromConfig extracts a typed band list from cfg[key].
func BandsFromConfig(cfg map[string]interface{}, key string) ([]Band, bool) {
	raw, ok := cfg[key]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	bands := make([]Band, 0, len(list))
	for _, entry := range list {
		if b, ok := bandFrom(entry); ok {
			bands = append(bands, b)
		}
	}
	return bands, len(bands) > 0
}

func multipliersFrom(raw interface{}, bandKey string) []Multiplier {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Multiplier, 0, len(list))
	for _, entry := range list {
		m, ok := asMapping(entry)
		if !ok {
			continue
		}
		band, _ := asString(m[bandKey])
		value, _ := asFloat(m["multiplier"])
		out = append(out, Multiplier{Band: band, Value: value})
	}
	return out
}

func bandFrom(entry interface{}) (Band, bool) {
	m, ok := asMapping(entry)
	if !ok {
		return Band{}, false
	}
	min, okMin := asFloat(m["min_value"])
	max, okMax := asFloat(m["max_value"])
	if !okMin || !okMax {
		return Band{}, false
	}
	id, ok := asString(m["band_id"])
	if !ok {
		if n, isNum := asFloat(m["band_id"]); isNum {
			id = strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	label, _ := asString(m["band_label"])
	order := 0
	if n, ok := asFloat(m["display_order"]); ok {
		order = int(n)
	}
	return Band{BandID: id, BandLabel: label, MinValue: min, MaxValue: max, DisplayOrder: order}, true
}

// --- mapping coercion helpers (YAML and JSON decoders differ) ---

func asMapping(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Label renders the band for CSV output, preferring the explicit label.
func (b Band) Label() string {
	if b.BandLabel != "" {
		return b.BandLabel
	}
	return fmt.Sprintf("%g-%g", b.MinValue, b.MaxValue)
}

package workspace

// Config mappings are decoded from YAML into map[string]interface{} trees.
// DeepMerge implements the effective-config rule: overrides win leaf by
// leaf, nested mappings merge recursively, lists replace wholesale.

// DeepMerge returns a new mapping combining base and override. Neither input
// is modified. merge(base, nil) copies base.
func DeepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, baseIsMap := asMapping(bv)
		om, overrideIsMap := asMapping(ov)
		if baseIsMap && overrideIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		// Lists and mismatched types replace wholesale.
		out[k] = ov
	}
	return out
}

// asMapping normalizes the two map shapes yaml.v3 can produce.
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

// GetPath walks nested mappings by key sequence.
func GetPath(m map[string]interface{}, keys ...string) (interface{}, bool) {
	var cur interface{} = m
	for _, k := range keys {
		mm, ok := asMapping(cur)
		if !ok {
			return nil, false
		}
		cur, ok = mm[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetInt resolves a nested integer, tolerating the numeric types YAML and
// JSON decoders produce.
func GetInt(m map[string]interface{}, keys ...string) (int, bool) {
	v, ok := GetPath(m, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

// GetFloat resolves a nested float.
func GetFloat(m map[string]interface{}, keys ...string) (float64, bool) {
	v, ok := GetPath(m, keys...)
	if !ok {
		return 0, false
	}
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

// GetString resolves a nested string.
func GetString(m map[string]interface{}, keys ...string) (string, bool) {
	v, ok := GetPath(m, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetMapping resolves a nested mapping.
func GetMapping(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	v, ok := GetPath(m, keys...)
	if !ok {
		return nil, false
	}
	return asMapping(v)
}

// GetSlice resolves a nested list.
func GetSlice(m map[string]interface{}, keys ...string) ([]interface{}, bool) {
	v, ok := GetPath(m, keys...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]interface{})
	return s, ok
}

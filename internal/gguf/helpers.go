package gguf

func GetString(kv map[string]Value, key string) (string, bool) {
	v, ok := kv[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

func GetBool(kv map[string]Value, key string) (bool, bool) {
	v, ok := kv[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value.(bool)
	return b, ok
}

func GetUint64(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	return asUint64(v.Value)
}

func GetFloat64(kv map[string]Value, key string) (float64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// GetArrayLen reports the element count of an array value.
func GetArrayLen(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	arr, ok := v.Value.(ArrayValue)
	if !ok {
		return 0, false
	}
	return arr.Len, true
}

func asUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case int8:
		return signed(int64(t))
	case int16:
		return signed(int64(t))
	case int32:
		return signed(int64(t))
	case int64:
		return signed(t)
	default:
		return 0, false
	}
}

func signed(v int64) (uint64, bool) {
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

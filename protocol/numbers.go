package protocol

// AsUint returns v as an unsigned integer if it is any non negative integer
// type. Property lists decode integers as uint64, other codecs differ.
func AsUint(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int64:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int:
		return uint64(n), n >= 0
	default:
		return 0, false
	}
}

// AsReal returns v as a float64 if it is a real number.
func AsReal(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

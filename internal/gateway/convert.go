package gateway

import (
	"strconv"
	"time"
)

// NormalizeValue converts a driver value into a JSON-friendly form.
// The MySQL driver returns []byte for strings and DECIMAL columns,
// and the integer width varies by column type; callers downstream
// (cache, JSON encoders, both transports) expect stable shapes.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// ToInt64 converts a normalized driver value to int64, tolerating the
// string form the driver uses for unsized numeric columns. Returns 0
// for anything non-numeric.
func ToInt64(v interface{}) int64 {
	switch i := v.(type) {
	case int64:
		return i
	case int:
		return int64(i)
	case uint64:
		return int64(i)
	case float64:
		return int64(i)
	case []byte:
		n, _ := strconv.ParseInt(string(i), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(i, 10, 64)
		return n
	default:
		return 0
	}
}

// ToString converts a normalized driver value to a string, mapping
// NULL to the empty string so raw nulls never propagate into
// metadata objects.
func ToString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

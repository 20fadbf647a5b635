package inspector

import (
	"sort"
	"strings"
)

// cacheKey builds the deterministic cache key for an operation:
// "op:k1:v1:k2:v2" with parameter names sorted for stability, so the
// same logical request always coalesces onto the same key.
func cacheKey(op string, params map[string]string) string {
	if len(params) == 0 {
		return op
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(op)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(params[name])
	}
	return b.String()
}

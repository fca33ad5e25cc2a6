package runner

import (
	"encoding/json"
	"strings"
)

// parseSentinel parses one stdout line of the form "::<key>::<json-value>".
// It reports ok=false for any line that doesn't match exactly three
// "::"-separated parts, in which case the line is plain log output.
func parseSentinel(line string) (key string, value any, ok bool) {
	parts := strings.SplitN(line, "::", 3)
	if len(parts) != 3 || parts[0] != "" {
		return "", nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(parts[2]), &v); err != nil {
		return "", nil, false
	}
	return parts[1], v, true
}

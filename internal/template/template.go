// Package template renders "${{ scope.key }}" expressions against a
// layered variable snapshot. It recognizes the source's three Jinja-style
// delimiter families — "${{ }}" for expressions, "${% %}" for blocks, and
// "${# #}" for comments — but implements only the narrow subset the agent
// actually needs: dotted-path variable lookup. Comments are stripped;
// blocks are not evaluated (no action manifest in the wild uses them) and
// are passed through as literal text, matching the source's behavior for
// inputs that never touch block syntax.
package template

import (
	"strconv"
	"strings"

	"github.com/datatorch/agent/internal/variables"
)

// Render substitutes every "${{ expr }}" occurrence in s against the
// snapshot from vars. Unresolved identifiers render to the empty string;
// Render never returns an error, per spec.md §4.1.
func Render(s string, vars *variables.Store) string {
	return RenderSnapshot(s, vars.Snapshot())
}

// RenderSnapshot is Render over an already-captured snapshot, so a single
// snapshot can back many Render calls without re-locking the store.
func RenderSnapshot(s string, snapshot map[string]map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${#")
		comment := start >= 0
		exprAt := strings.Index(s[i:], "${{")
		if !comment || (exprAt >= 0 && exprAt < start) {
			start = exprAt
			comment = false
		}
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+start])
		i += start

		if comment {
			end := strings.Index(s[i:], "#}")
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			i += end + len("#}")
			continue
		}

		end := strings.Index(s[i:], "}}")
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		expr := strings.TrimSpace(s[i+len("${{") : i+end])
		b.WriteString(renderExpr(expr, snapshot))
		i += end + len("}}")
	}
	return b.String()
}

// RenderAny renders v if it is a string; any other type passes through
// unchanged, per spec.md §4.1 ("Non-string inputs pass through
// unchanged").
func RenderAny(v any, vars *variables.Store) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return Render(s, vars)
}

func renderExpr(expr string, snapshot map[string]map[string]any) string {
	parts := strings.Split(expr, ".")
	if len(parts) < 2 {
		return ""
	}
	section, ok := snapshot[parts[0]]
	if !ok {
		return ""
	}
	var cur any = section
	for _, key := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[key]
		if !ok {
			return ""
		}
	}
	return stringify(cur)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

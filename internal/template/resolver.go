// Package template implements dataflow template substitution:
// "{{path.to.value}}" tokens resolved against a run context.
//
// The token-scanning technique (a maximal "{{...}}" span, trimmed inner
// path) is grounded on a conventional internal/engine/template.go, which
// scans the same way before handing the result to pongo2 for rendering.
// This resolver cannot reuse pongo2 itself: pongo2 (like any general
// string-templating engine) always renders to a string, but a value which
// is *exactly* one template token must resolve to the referenced value's
// native type (map, number, slice, ...), not its string form. That
// invariant only holds if path resolution walks the context structurally
// instead of going through a string-only renderer, so this package
// resolves paths by hand with the standard library (strings/strconv)
// rather than depending on a templating package for a job no templating
// package can do natively. See DESIGN.md.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches a single "{{ ... }}" span, capturing the inner path.
var tokenPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// fullTokenPattern matches a string that is *exactly* one template token.
var fullTokenPattern = regexp.MustCompile(`^\{\{([^{}]*)\}\}$`)

// Context is the per-run dataflow mapping: node id (plus the reserved key
// "input") to that node's output.
type Context map[string]any

// Resolve substitutes every "{{path}}" token found in v against ctx.
//
//   - A non-string, non-map, non-slice value round-trips unchanged.
//   - A string value that is *exactly* one token resolves to the referenced
//     value's native type when the path is found; the literal string is
//     left untouched when the path is missing.
//   - A string value containing a token amid other text has each found
//     token stringified and spliced back in; missing tokens are left as
//     the literal "{{...}}" text.
//   - Maps and slices are walked recursively, returning a structurally
//     identical value with every leaf string processed this way.
func Resolve(v any, ctx Context) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = Resolve(inner, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Resolve(inner, ctx)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, ctx Context) any {
	if m := fullTokenPattern.FindStringSubmatch(s); m != nil {
		path := strings.TrimSpace(m[1])
		if path == "" {
			// "{{}}" (empty path) is treated as a literal token.
			return s
		}
		resolved, ok := lookup(path, ctx)
		if !ok {
			return s
		}
		return resolved
	}

	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := tokenPattern.FindStringSubmatch(match)
		path := strings.TrimSpace(sub[1])
		if path == "" {
			return match
		}
		resolved, ok := lookup(path, ctx)
		if !ok {
			return match
		}
		return stringify(resolved)
	})
}

// lookup walks path (dot-separated, whitespace-trimmed segments) through
// ctx, treating each segment as a map key or, for slices, an index.
func lookup(path string, ctx Context) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = map[string]any(ctx)
	for _, raw := range segments {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			return nil, false
		}
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, segment string) (any, bool) {
	switch container := current.(type) {
	case map[string]any:
		v, ok := container[segment]
		return v, ok
	case Context:
		v, ok := container[segment]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(container) {
			return nil, false
		}
		return container[idx], true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// HasUnresolvedToken reports whether s still contains a "{{...}}" span,
// used by callers that need to treat a leftover token as an
// input-resolution error.
func HasUnresolvedToken(s string) bool {
	return tokenPattern.MatchString(s)
}

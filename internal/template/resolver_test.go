package template

import (
	"reflect"
	"testing"
)

func TestResolveRoundTripsNonTemplatedValue(t *testing.T) {
	ctx := Context{"a": map[string]any{"x": 1}}
	cases := []any{42, true, "plain text", nil, []any{1, 2, 3}}
	for _, v := range cases {
		got := Resolve(v, ctx)
		if s, ok := v.(string); ok {
			if got != s {
				t.Fatalf("Resolve(%v) = %v, want unchanged", v, got)
			}
			continue
		}
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("Resolve(%v) = %v, want unchanged", v, got)
		}
	}
}

func TestResolvePreservesNativeTypeForWholeStringToken(t *testing.T) {
	ctx := Context{"a": map[string]any{"x": 7}}
	got := Resolve("{{a.x}}", ctx)
	n, ok := got.(int)
	if !ok || n != 7 {
		t.Fatalf("Resolve(\"{{a.x}}\") = %#v, want int 7", got)
	}
}

func TestResolveInterpolatesPartialToken(t *testing.T) {
	ctx := Context{"p": 7}
	got := Resolve("x-{{p}}-y", ctx)
	if got != "x-7-y" {
		t.Fatalf("Resolve(\"x-{{p}}-y\") = %v, want x-7-y", got)
	}
}

func TestResolveLeavesMissingPathUntouched(t *testing.T) {
	ctx := Context{}
	got := Resolve("{{missing.path}}", ctx)
	if got != "{{missing.path}}" {
		t.Fatalf("Resolve with missing path = %v, want literal token", got)
	}
}

func TestResolveTreatsEmptyTokenAsLiteral(t *testing.T) {
	ctx := Context{}
	got := Resolve("{{}}", ctx)
	if got != "{{}}" {
		t.Fatalf("Resolve(\"{{}}\") = %v, want literal", got)
	}
}

func TestResolveWalksNestedStructures(t *testing.T) {
	ctx := Context{"input": map[string]any{"m": "hi"}}
	v := map[string]any{
		"message": "{{input.m}}",
		"nested":  []any{"{{input.m}}", "literal"},
	}
	got := Resolve(v, ctx).(map[string]any)
	if got["message"] != "hi" {
		t.Fatalf("nested map resolution = %v, want hi", got["message"])
	}
	nested := got["nested"].([]any)
	if nested[0] != "hi" || nested[1] != "literal" {
		t.Fatalf("nested slice resolution = %v", nested)
	}
}

func TestResolveTrimsWhitespaceAroundPathSegments(t *testing.T) {
	ctx := Context{"a": map[string]any{"x": "v"}}
	got := Resolve("{{ a . x }}", ctx)
	if got != "v" {
		t.Fatalf("Resolve with whitespace = %v, want v", got)
	}
}

func TestHasUnresolvedToken(t *testing.T) {
	if !HasUnresolvedToken("{{foo}}") {
		t.Fatal("expected unresolved token to be detected")
	}
	if HasUnresolvedToken("no tokens here") {
		t.Fatal("expected no token detected")
	}
}

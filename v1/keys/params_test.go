package keys

import (
	"reflect"
	"testing"
)

type listRequest struct {
	ProjectID string `json:"projectId"`
	Page      int
	Filter    string `json:"filter,omitempty"`
	secret    string
}

func TestRelevantParamsNoNames(t *testing.T) {
	args := []any{"a", 1}
	if got := RelevantParams(args, nil); !reflect.DeepEqual(got, args) {
		t.Fatalf("expected args unchanged, got %v", got)
	}
}

func TestRelevantParamsSingleMap(t *testing.T) {
	args := []any{map[string]any{"id": 7, "page": 2, "noise": "x"}}
	got := RelevantParams(args, []string{"id", "page", "missing"})
	want := []any{map[string]any{"id": 7, "page": 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRelevantParamsSingleStruct(t *testing.T) {
	req := &listRequest{ProjectID: "p1", Page: 3, Filter: "open", secret: "s"}
	got := RelevantParams([]any{req}, []string{"projectId", "Page", "secret"})
	want := []any{map[string]any{"projectId": "p1", "Page": 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRelevantParamsPositional(t *testing.T) {
	got := RelevantParams([]any{"tenant", 42, true}, []string{"name", "", "flag"})
	want := []any{"tenant", true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	// A single scalar argument falls back to positional selection.
	if got := RelevantParams([]any{"only"}, []string{"id"}); !reflect.DeepEqual(got, []any{"only"}) {
		t.Fatalf("unexpected %v", got)
	}
	// More arguments than names: the extra ones are dropped.
	if got := RelevantParams([]any{"a", "b"}, []string{"x"}); !reflect.DeepEqual(got, []any{"a"}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestRelevantParamsNilSingleArgument(t *testing.T) {
	var req *listRequest
	got := RelevantParams([]any{req}, []string{"projectId"})
	if len(got) != 1 || got[0] != any(req) {
		t.Fatalf("nil pointer should be selected positionally, got %v", got)
	}
}

func TestRelevantParamsSingleSlice(t *testing.T) {
	got := RelevantParams([]any{[]string{"a", "b", "c"}}, []string{"0", "2", "length", "5", "01", "x"})
	want := []any{map[string]any{"0": "a", "2": "c", "length": 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	// A nil slice is not an object.
	var ids []string
	if got := RelevantParams([]any{ids}, []string{"id"}); len(got) != 1 {
		t.Fatalf("nil slice should be selected positionally, got %v", got)
	}
}

package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"

	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
)

var testScope = Scope{TenantID: "t1", ProjectID: "p1", UserID: "u1"}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestDeriveFullScope(t *testing.T) {
	got, err := Derive(Spec{Key: "test-key"}, testScope, []any{"param1"})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	want := "cache-manager:tenant:t1:project:p1:user:u1:test-key:" + sha(`["param1"]`)
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDeriveScopeToggles(t *testing.T) {
	cases := []struct {
		name string
		opts ScopeOptions
		want string
	}{
		{"default", ScopeOptions{}, "cache-manager:tenant:t1:project:p1:user:u1:k"},
		{"disabled", ScopeOptions{Disabled: true}, "cache-manager:k"},
		{"no project", ScopeOptions{SkipProject: true}, "cache-manager:tenant:t1:user:u1:k"},
		{"no user", ScopeOptions{SkipUser: true}, "cache-manager:tenant:t1:project:p1:k"},
		{"tenant only", ScopeOptions{SkipProject: true, SkipUser: true}, "cache-manager:tenant:t1:k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Derive(Spec{Key: "k", Scope: tc.opts}, testScope, nil)
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDeriveDisabledScopeHasNoSegments(t *testing.T) {
	got, _ := Derive(Spec{Key: "k", Scope: ScopeOptions{Disabled: true}}, testScope, []any{1})
	for _, seg := range []string{"tenant:", "project:", "user:"} {
		if strings.Contains(got, seg) {
			t.Fatalf("%q should not contain %q", got, seg)
		}
	}
}

func TestDeriveDataVersionAndEmptyParams(t *testing.T) {
	got, err := Derive(Spec{Key: "k", DataVersion: "v2"}, testScope, []any{})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if want := "cache-manager:tenant:t1:project:p1:user:u1:k:v2"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	params := []any{map[string]any{"b": 2, "a": []int{1, 2}}, "x"}
	first, err := Derive(Spec{Key: "k"}, testScope, params)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	again, _ := Derive(Spec{Key: "k"}, testScope, []any{map[string]any{"a": []int{1, 2}, "b": 2}, "x"})
	if first != again {
		t.Fatalf("equal params produced different keys: %q vs %q", first, again)
	}
	changed, _ := Derive(Spec{Key: "k"}, testScope, []any{map[string]any{"b": 3, "a": []int{1, 2}}, "x"})
	if changed == first {
		t.Fatal("different params produced the same key")
	}
}

func TestDeriveDoesNotEscapeHTML(t *testing.T) {
	got, _ := Derive(Spec{Key: "k", Scope: ScopeOptions{Disabled: true}}, Scope{}, []any{"a<b>&"})
	if want := "cache-manager:k:" + sha(`["a<b>&"]`); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDeriveErrors(t *testing.T) {
	if _, err := Derive(Spec{}, testScope, nil); !errors.Is(err, warperrors.ErrMisconfigured) {
		t.Fatalf("expected misconfigured for empty key, got %v", err)
	}
	if _, err := Derive(Spec{Key: "k"}, Scope{}, nil); !errors.Is(err, warperrors.ErrMisconfigured) {
		t.Fatalf("expected misconfigured for missing tenant, got %v", err)
	}
	if _, err := Derive(Spec{Key: "k"}, testScope, []any{make(chan int)}); !errors.Is(err, warperrors.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestDeriveWithPrefix(t *testing.T) {
	got, _ := DeriveWithPrefix("svc", Spec{Key: "k", Scope: ScopeOptions{Disabled: true}}, Scope{}, nil)
	if got != "svc:k" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestClearSpecSpecs(t *testing.T) {
	if _, err := (ClearSpec{}).Specs(); !errors.Is(err, warperrors.ErrMisconfigured) {
		t.Fatalf("expected misconfigured, got %v", err)
	}
	specs, err := ClearSpec{Keys: []string{"a", "b"}, DataVersion: "v1", Scope: ScopeOptions{SkipUser: true}}.Specs()
	if err != nil {
		t.Fatalf("Specs: %v", err)
	}
	if len(specs) != 2 || specs[1].Key != "b" || specs[1].DataVersion != "v1" || !specs[1].Scope.SkipUser {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestScopeContext(t *testing.T) {
	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no scope")
	}
	ctx := WithScope(context.Background(), testScope)
	if got, ok := ScopeFromContext(ctx); !ok || !reflect.DeepEqual(got, testScope) {
		t.Fatalf("unexpected scope %+v ok=%v", got, ok)
	}
}

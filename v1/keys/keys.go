package keys

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
)

// DefaultPrefix is the namespace every derived cache key starts with.
const DefaultPrefix = "cache-manager"

// Separator joins the segments of a derived key.
const Separator = ":"

// Scope identifies the logical partition of the caller.
type Scope struct {
	TenantID  string
	ProjectID string
	UserID    string
}

// ScopeOptions controls which scope segments end up in a key. The zero value
// includes tenant, project and user.
type ScopeOptions struct {
	// Disabled drops every scope segment.
	Disabled bool
	// SkipProject drops the project segment.
	SkipProject bool
	// SkipUser drops the user segment.
	SkipUser bool
}

// Spec describes how a cache entry is keyed and stored.
type Spec struct {
	// Key is the logical key and is required.
	Key         string
	Scope       ScopeOptions
	DataVersion string
	TTL         time.Duration
	// ParamNames selects the arguments that take part in the key, see
	// RelevantParams.
	ParamNames []string
}

// ClearSpec names the logical keys dropped by an invalidation. Every key is
// derived with the same scope options and data version.
type ClearSpec struct {
	Keys        []string
	Scope       ScopeOptions
	DataVersion string
	ParamNames  []string
}

// Specs expands c into one Spec per logical key.
func (c ClearSpec) Specs() ([]Spec, error) {
	if len(c.Keys) == 0 {
		return nil, warperrors.Misconfigured("invalidation names no keys")
	}
	specs := make([]Spec, 0, len(c.Keys))
	for _, k := range c.Keys {
		specs = append(specs, Spec{
			Key:         k,
			Scope:       c.Scope,
			DataVersion: c.DataVersion,
			ParamNames:  c.ParamNames,
		})
	}
	return specs, nil
}

// Derive builds the cache key for spec, scope and params under DefaultPrefix.
//
// Params are hashed from their JSON encoding. Map keys are encoded in sorted
// order so equal params always give the same key, but params must not carry
// values that change between calls such as fresh timestamps.
func Derive(spec Spec, scope Scope, params []any) (string, error) {
	return DeriveWithPrefix(DefaultPrefix, spec, scope, params)
}

// DeriveWithPrefix is Derive with a custom namespace prefix.
func DeriveWithPrefix(prefix string, spec Spec, scope Scope, params []any) (string, error) {
	if spec.Key == "" {
		return "", warperrors.Misconfigured("cache spec has an empty key")
	}
	var b strings.Builder
	b.WriteString(prefix)
	if !spec.Scope.Disabled {
		if scope.TenantID == "" {
			return "", warperrors.Misconfigured("key %q is tenant scoped but no tenant was resolved", spec.Key)
		}
		b.WriteString(":tenant:")
		b.WriteString(scope.TenantID)
		if !spec.Scope.SkipProject {
			b.WriteString(":project:")
			b.WriteString(scope.ProjectID)
		}
		if !spec.Scope.SkipUser {
			b.WriteString(":user:")
			b.WriteString(scope.UserID)
		}
	}
	b.WriteString(Separator)
	b.WriteString(spec.Key)
	if spec.DataVersion != "" {
		b.WriteString(Separator)
		b.WriteString(spec.DataVersion)
	}
	if len(params) > 0 {
		sum, err := HashParams(params)
		if err != nil {
			return "", err
		}
		b.WriteString(Separator)
		b.WriteString(sum)
	}
	return b.String(), nil
}

// HashParams returns the hex sha256 of the JSON encoding of params.
func HashParams(params []any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		return "", warperrors.Serialization("cache params", err)
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:]), nil
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying scope.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope stored by WithScope.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

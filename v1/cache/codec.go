package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	warperrors "github.com/mirkobrombin/go-warden/v1/errors"
)

// mapMarker flags a JSON object that was encoded from a Map.
const mapMarker = "__isMap"

// Map is a map-typed container. It survives a round trip through the store
// as a Map, where a plain map[string]any or struct comes back as an ordinary
// object.
type Map map[string]any

// MarshalJSON writes m as an object carrying the map marker.
func (m Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[mapMarker] = true
	return marshal(out)
}

// UnmarshalJSON reads an object written by MarshalJSON. Nested marked
// objects are restored as Map too.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, mapMarker)
	out := make(Map, len(raw))
	for k, v := range raw {
		out[k] = restoreMaps(v)
	}
	*m = out
	return nil
}

// Codec converts values to and from the strings held by the store.
type Codec interface {
	// Encode serializes v.
	Encode(v any) (string, error)
	// Decode restores a value read from a store. Input that is not a string
	// is returned unchanged.
	Decode(raw any) (any, error)
	// DecodeInto restores raw into dst, which must be a non-nil pointer.
	DecodeInto(raw string, dst any) error
}

// JSONCodec encodes scalars as their literal text and everything else as
// JSON with Map containers marked.
//
// Decoding is deliberately conservative: only strings starting with '{' or
// '[' are parsed, so a cached "true" or "42" comes back as a string from
// Decode. Use DecodeInto with a typed destination to recover scalars.
type JSONCodec struct{}

// Encode implements Codec.Encode.
func (JSONCodec) Encode(v any) (string, error) {
	if v == nil {
		return "", warperrors.Serialization("value", fmt.Errorf("nil value"))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", warperrors.Serialization("value", fmt.Errorf("unsupported float %v", f))
		}
		return strconv.FormatFloat(f, 'f', -1, rv.Type().Bits()), nil
	}
	data, err := marshal(v)
	if err != nil {
		return "", warperrors.Serialization("value", err)
	}
	return string(data), nil
}

// Decode implements Codec.Decode.
func (JSONCodec) Decode(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if !structural(s) {
		return s, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, warperrors.Serialization("cached value", err)
	}
	return restoreMaps(v), nil
}

// DecodeInto implements Codec.DecodeInto.
func (c JSONCodec) DecodeInto(raw string, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return warperrors.Serialization("cached value", fmt.Errorf("destination must be a non-nil pointer, got %T", dst))
	}
	elem := rv.Elem()
	switch {
	case elem.Kind() == reflect.String:
		elem.SetString(raw)
		return nil
	case elem.Kind() == reflect.Interface && elem.NumMethod() == 0:
		v, err := c.Decode(raw)
		if err != nil {
			return err
		}
		if v != nil {
			elem.Set(reflect.ValueOf(v))
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return warperrors.Serialization("cached value", err)
	}
	return nil
}

func structural(s string) bool {
	return len(s) > 0 && (s[0] == '{' || s[0] == '[')
}

// restoreMaps turns marked objects back into Map, at any depth.
func restoreMaps(v any) any {
	switch t := v.(type) {
	case map[string]any:
		marked, _ := t[mapMarker].(bool)
		for k, inner := range t {
			t[k] = restoreMaps(inner)
		}
		if marked {
			delete(t, mapMarker)
			return Map(t)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = restoreMaps(inner)
		}
		return t
	}
	return v
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

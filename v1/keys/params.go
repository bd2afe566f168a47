package keys

import (
	"reflect"
	"strconv"
	"strings"
)

// RelevantParams picks the values of args that take part in a cache key.
//
// With no names every argument is relevant. A single object-shaped argument
// (a map with string keys, a struct, or a non-nil slice or array) is reduced
// to a map holding only the named fields it actually has. Otherwise
// arguments are selected by position: args[i] is kept when names[i] is
// non-empty.
//
// A slice or array has a field for every index, named by its decimal form,
// and a "length" field. The single-argument rule wins whenever it applies,
// even if the names were meant positionally.
func RelevantParams(args []any, names []string) []any {
	if names == nil {
		return args
	}
	if len(args) == 1 {
		if fields, ok := pickFields(args[0], names); ok {
			return []any{fields}
		}
	}
	out := make([]any, 0, len(args))
	for i, arg := range args {
		if i < len(names) && names[i] != "" {
			out = append(out, arg)
		}
	}
	return out
}

func pickFields(arg any, names []string) (map[string]any, bool) {
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, len(names))
		for _, name := range names {
			mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
			if mv.IsValid() {
				out[name] = mv.Interface()
			}
		}
		return out, true
	case reflect.Struct:
		out := make(map[string]any, len(names))
		for _, name := range names {
			if fv, ok := structField(v, name); ok {
				out[name] = fv.Interface()
			}
		}
		return out, true
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, false
		}
		out := make(map[string]any, len(names))
		for _, name := range names {
			if name == "length" {
				out[name] = v.Len()
				continue
			}
			if i, ok := index(name); ok && i < v.Len() {
				out[name] = v.Index(i).Interface()
			}
		}
		return out, true
	}
	return nil, false
}

// index parses name as a canonical decimal index such as "0" or "12".
func index(name string) (int, bool) {
	if name == "" || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(name)
	return i, err == nil
}

// structField finds the exported field called name, matching the JSON tag
// name first and the Go field name second.
func structField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() && f.Name == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

package model

import "reflect"

// Context is an ordered-by-precedence metadata layer merged into outgoing records.
// Values are scalars, slices or nested maps; nested maps are merged recursively by Merge.
//
// [NORMALIZATION] Copies turn every string-keyed map (map[string]string included) into
// map[string]any. Slices, arrays and other maps keep their type but are copied deeply.
type Context map[string]any

// Merge combines layers into a single Context. Later layers win key-by-key.
//
// [POLICY] Nested maps present in both layers are merged recursively; every other value
// (slices included) replaces the earlier one wholesale. Inputs are never mutated and the
// result shares no mutable map with any input.
func Merge(layers ...Context) Context {
	res := make(Context)
	for _, layer := range layers {
		mergeInto(res, layer)
	}
	return res
}

// Clone returns a deep copy of c. A nil Context clones to nil.
func Clone(c Context) Context {
	if c == nil {
		return nil
	}
	res := make(Context, len(c))
	for k, v := range c {
		res[k] = cloneValue(v)
	}
	return res
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		mergeValue(dst, k, cloneValue(v))
	}
}

// mergeValue merges an already copied value into dst. Values held by dst are private
// copies, so nested objects are merged in place.
func mergeValue(dst map[string]any, k string, v any) {
	next, ok := v.(map[string]any)
	if !ok || next == nil {
		dst[k] = v
		return
	}
	// [RECURSIVE_MERGE] Only when both sides hold an object at the same key.
	if prev, ok := dst[k].(map[string]any); ok && prev != nil {
		for nk, nv := range next {
			mergeValue(prev, nk, nv)
		}
		return
	}
	dst[k] = next
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Context:
		return m, m != nil
	case map[string]any:
		return m, m != nil
	}
	return nil, false
}

func cloneMap(m map[string]any) map[string]any {
	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = cloneValue(v)
	}
	return res
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	case Context:
		if t == nil {
			return nil
		}
		return cloneMap(t)
	case map[string]any:
		if t == nil {
			return nil
		}
		return cloneMap(t)
	case []any:
		if t == nil {
			return nil
		}
		res := make([]any, len(t))
		for i, item := range t {
			res[i] = cloneValue(item)
		}
		return res
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		if rv.Type().Key().Kind() == reflect.String {
			res := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				res[iter.Key().String()] = cloneValue(iter.Value().Interface())
			}
			return res
		}
		return deepCopy(rv).Interface()
	case reflect.Slice, reflect.Array:
		return deepCopy(rv).Interface()
	}
	return v
}

// deepCopy copies maps, slices and arrays reachable from rv and keeps their types.
// Pointers, channels and functions are shared.
func deepCopy(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		res := reflect.New(rv.Type()).Elem()
		res.Set(deepCopy(rv.Elem()))
		return res
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		res := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			res.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return res
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		res := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			res.Index(i).Set(deepCopy(rv.Index(i)))
		}
		return res
	case reflect.Array:
		res := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			res.Index(i).Set(deepCopy(rv.Index(i)))
		}
		return res
	}
	return rv
}

// Object returns the nested object stored under key, or nil when the value is absent or
// not an object. The result aliases c.
func (c Context) Object(key string) Context {
	m, ok := asMap(c[key])
	if !ok {
		return nil
	}
	return m
}

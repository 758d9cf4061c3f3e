package core

import (
	"encoding/json"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/r3labs/diff/v3"
)

// equalValues compares by value. Slices are order sensitive and a nil slice
// or map differs from an empty one.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if nilMismatch(reflect.ValueOf(a), reflect.ValueOf(b)) {
		return false
	}
	changelog, err := diff.Diff(a, b, diff.SliceOrdering(true), diff.AllowTypeMismatch(true))
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	return len(changelog) == 0
}

// nilMismatch reports whether a and b disagree on nil-ness anywhere both
// hold a slice, map or pointer of the same type.
func nilMismatch(a, b reflect.Value) bool {
	for a.Kind() == reflect.Interface && !a.IsNil() {
		a = a.Elem()
	}
	for b.Kind() == reflect.Interface && !b.IsNil() {
		b = b.Elem()
	}
	aNil, bNil := a.Kind() == reflect.Interface, b.Kind() == reflect.Interface
	if aNil || bNil {
		return aNil != bNil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch a.Kind() {
	case reflect.Slice:
		if a.IsNil() != b.IsNil() {
			return true
		}
		for i := 0; i < min(a.Len(), b.Len()); i++ {
			if nilMismatch(a.Index(i), b.Index(i)) {
				return true
			}
		}
	case reflect.Map:
		if a.IsNil() != b.IsNil() {
			return true
		}
		iter := a.MapRange()
		for iter.Next() {
			if other := b.MapIndex(iter.Key()); other.IsValid() && nilMismatch(iter.Value(), other) {
				return true
			}
		}
	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() != b.IsNil()
		}
		return nilMismatch(a.Elem(), b.Elem())
	}
	return false
}

// signatureHash buckets a (url, payload) pair. Collisions are resolved by
// equalValues, so a payload that cannot be marshalled hashes on url alone.
func signatureHash(url string, payload any) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(url)
	_, _ = h.Write([]byte{0})
	switch p := payload.(type) {
	case nil:
	case string:
		_, _ = h.WriteString(p)
	case []byte:
		_, _ = h.Write(p)
	default:
		if data, err := json.Marshal(p); err == nil {
			_, _ = h.Write(data)
		}
	}
	return h.Sum64()
}

func isNilPayload(payload any) bool {
	if payload == nil {
		return true
	}
	rv := reflect.ValueOf(payload)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

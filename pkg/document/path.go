package document

import (
	"strings"
	"time"
)

// Get walks a dotted path through nested maps. The boolean is false when
// any segment is missing or an intermediate value is not a map. An empty
// path returns v itself.
func Get(v Value, path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, segment := range strings.Split(path, ".") {
		next, ok := cur.Field(segment)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// IsNullish reports whether a lookup result is absent or an explicit null.
func IsNullish(v Value, ok bool) bool {
	return !ok || v.IsNull()
}

// FirstString returns the first path that resolves to a non-empty scalar,
// rendered as a string.
func FirstString(v Value, paths ...string) string {
	for _, path := range paths {
		got, ok := Get(v, path)
		if !ok || !got.IsScalar() {
			continue
		}
		if s := got.String(); s != "" {
			return s
		}
	}
	return ""
}

// FirstTime returns the first path that parses as a timestamp.
func FirstTime(v Value, paths ...string) (time.Time, bool) {
	for _, path := range paths {
		got, ok := Get(v, path)
		if !ok {
			continue
		}
		if t, isTime := got.Time(); isTime {
			return t, true
		}
	}
	return time.Time{}, false
}

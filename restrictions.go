package gda

import (
	"fmt"
	"reflect"
	"sort"
)

// =====================================
// Restriction Map
// =====================================

// Restrictions maps field names to expected values. A scalar value means
// "field equals value"; a slice or array value means "field is one of these".
// A nil value, alone or among the candidates, matches records with no stored
// value for the field. Entries combine with AND. An absent key imposes no
// constraint and an empty or nil map matches all records.
type Restrictions map[string]any

// Fields returns the restricted field names in sorted order, so that the
// rendered predicate is deterministic. Ordering never changes the result set.
func (r Restrictions) Fields() []string {
	return SortedKeys(r)
}

// Match reports whether a decoded record satisfies every restriction, using
// the same exact-or-membership semantics the backend translators render.
// Values compare by their fmt representation, so numbers that lost their Go
// type on a JSON round trip still match.
func (r Restrictions) Match(record map[string]any) bool {
	for field, want := range r {
		// A field the record does not carry reads as nil, so nil
		// candidates match stored nulls and absent fields alike.
		got := record[field]
		candidates, _ := Candidates(want)
		matched := false
		for _, c := range candidates {
			if looselyEqual(got, c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// SortedKeys returns the keys of a restriction or update map in sorted order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Candidates normalizes a restriction value into its candidate set. Slices
// and arrays of any element type become a candidate set (multi == true);
// strings and []byte stay scalars, as does any other value. A value that is
// neither scalar nor sequence is treated as scalar, never rejected.
func Candidates(value any) ([]any, bool) {
	switch value.(type) {
	case nil:
		return []any{nil}, false
	case string:
		return []any{value}, false
	case []byte:
		return []any{value}, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return []any{value}, false
}

// looselyEqual compares a stored value against a candidate. JSON decoding
// turns every number into float64, so 2 and float64(2) must compare equal.
func looselyEqual(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

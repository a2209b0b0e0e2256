package store

import (
	"fmt"
	"sort"
	"strings"
)

// applyQuery applies filters, sort and pagination to records. Both engines
// share this so query semantics cannot drift between them.
func applyQuery(records []*Record, q Query) []*Record {
	out := records

	if len(q.Filter) > 0 {
		filtered := make([]*Record, 0, len(out))
		for _, r := range out {
			if matchesFilter(r, q.Filter) {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}

	if len(q.Search) > 0 {
		filtered := make([]*Record, 0, len(out))
		for _, r := range out {
			if matchesSearch(r, q.Search) {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}

	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			if q.SortDesc {
				return lessByField(out[j], out[i], q.SortBy)
			}
			return lessByField(out[i], out[j], q.SortBy)
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*Record{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func matchesFilter(r *Record, filter map[string]any) bool {
	for field, want := range filter {
		if !valuesEqual(fieldValue(r, field), want) {
			return false
		}
	}
	return true
}

func matchesSearch(r *Record, search map[string]string) bool {
	for field, needle := range search {
		v, ok := fieldValue(r, field).(string)
		if !ok {
			return false
		}
		if !strings.Contains(strings.ToLower(v), strings.ToLower(needle)) {
			return false
		}
	}
	return true
}

// fieldValue resolves a field by name; "id" addresses the envelope id.
func fieldValue(r *Record, field string) any {
	switch field {
	case "id":
		return r.ID
	case "createdAt":
		return r.CreatedAt
	case "updatedAt":
		return r.UpdatedAt
	}
	return r.Fields[field]
}

// valuesEqual compares two field values with JSON number coercion: values
// read back from either engine arrive as float64, while callers often pass
// int.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := asFloat(a); aok {
		fb, bok := asFloat(b)
		return bok && fa == fb
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func lessByField(a, b *Record, field string) bool {
	va, vb := fieldValue(a, field), fieldValue(b, field)

	if fa, ok := asFloat(va); ok {
		if fb, ok := asFloat(vb); ok {
			return fa < fb
		}
	}
	switch x := va.(type) {
	case string:
		if y, ok := vb.(string); ok {
			return x < y
		}
	case bool:
		if y, ok := vb.(bool); ok {
			return !x && y
		}
	}
	if ta, ok := va.(interface{ UnixNano() int64 }); ok {
		if tb, ok := vb.(interface{ UnixNano() int64 }); ok {
			return ta.UnixNano() < tb.UnixNano()
		}
	}
	// Incomparable values fall back to their string forms so sort stays
	// deterministic.
	return fmt.Sprint(va) < fmt.Sprint(vb)
}

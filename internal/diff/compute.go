package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultInternalMarker prefixes field names that are never audited.
const DefaultInternalMarker = "_"

// ErrMalformedSnapshot is returned when a snapshot has no JSON value form.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Filter holds the exclusion rules applied to computed descriptors.
type Filter struct {
	// Exclude lists field names dropped wherever they appear in a path.
	Exclude []string

	// InternalMarker drops any path segment starting with it.
	// Empty disables the check.
	InternalMarker string
}

// Compute compares two snapshots with the default internal marker.
func Compute(previous, current map[string]any, exclude []string) ([]ChangeDescriptor, error) {
	return Filter{Exclude: exclude, InternalMarker: DefaultInternalMarker}.Compute(previous, current)
}

// Compute returns the filtered descriptors turning previous into current,
// or nil when nothing survives filtering. Map keys are visited in sorted
// order so the result is deterministic.
func (f Filter) Compute(previous, current map[string]any) ([]ChangeDescriptor, error) {
	lhs, err := normalize(previous)
	if err != nil {
		return nil, fmt.Errorf("previous: %w", err)
	}
	rhs, err := normalize(current)
	if err != nil {
		return nil, fmt.Errorf("current: %w", err)
	}

	var all []ChangeDescriptor
	walk(lhs, rhs, nil, &all)

	var kept []ChangeDescriptor
	for _, d := range all {
		if f.dropped(d.Path) {
			continue
		}
		kept = append(kept, d)
	}
	return kept, nil
}

func (f Filter) dropped(p Path) bool {
	for _, seg := range p {
		name, ok := seg.(string)
		if !ok {
			continue
		}
		if f.InternalMarker != "" && strings.HasPrefix(name, f.InternalMarker) {
			return true
		}
		for _, x := range f.Exclude {
			if name == x {
				return true
			}
		}
	}
	return false
}

// normalize converts a snapshot to its JSON value form (map[string]any,
// []any, string, json.Number, bool, nil). A nil map becomes an empty one.
func normalize(snapshot map[string]any) (map[string]any, error) {
	if snapshot == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return out, nil
}

func walk(lhs, rhs any, path Path, out *[]ChangeDescriptor) {
	switch l := lhs.(type) {
	case map[string]any:
		if r, ok := rhs.(map[string]any); ok {
			walkMap(l, r, path, out)
			return
		}
	case []any:
		if r, ok := rhs.([]any); ok {
			walkSlice(l, r, path, out)
			return
		}
	}
	if !equal(lhs, rhs) {
		*out = append(*out, ChangeDescriptor{Kind: KindUpdated, Path: path, Lhs: lhs, Rhs: rhs})
	}
}

func walkMap(l, r map[string]any, path Path, out *[]ChangeDescriptor) {
	keys := make([]string, 0, len(l)+len(r))
	for k := range l {
		keys = append(keys, k)
	}
	for k := range r {
		if _, ok := l[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		lv, inL := l[k]
		rv, inR := r[k]
		child := extend(path, k)
		switch {
		case inL && !inR:
			*out = append(*out, ChangeDescriptor{Kind: KindDeleted, Path: child, Lhs: lv})
		case !inL && inR:
			*out = append(*out, ChangeDescriptor{Kind: KindAdded, Path: child, Rhs: rv})
		default:
			walk(lv, rv, child, out)
		}
	}
}

// walkSlice compares the shared prefix element-wise and reports extra
// elements as array edits, trailing removals first.
func walkSlice(l, r []any, path Path, out *[]ChangeDescriptor) {
	n := len(l)
	if len(r) < n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		walk(l[i], r[i], extend(path, i), out)
	}
	for i := len(l) - 1; i >= n; i-- {
		idx := i
		*out = append(*out, ChangeDescriptor{
			Kind:  KindArrayEdit,
			Path:  path,
			Index: &idx,
			Item:  &ChangeDescriptor{Kind: KindDeleted, Lhs: l[i]},
		})
	}
	for i := n; i < len(r); i++ {
		idx := i
		*out = append(*out, ChangeDescriptor{
			Kind:  KindArrayEdit,
			Path:  path,
			Index: &idx,
			Item:  &ChangeDescriptor{Kind: KindAdded, Rhs: r[i]},
		})
	}
}

// extend copies the path so sibling descriptors never share a backing array.
func extend(path Path, seg any) Path {
	out := make(Path, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// equal compares two scalar JSON values. Containers reach here only when
// their kinds differ, which always counts as a change.
func equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && av == bv
	default:
		return false
	}
}

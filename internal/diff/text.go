package diff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/roach88/revtrail/internal/audit"
)

// ToString renders a descriptor value as the text fed to the character diff.
//
//	nil        ""
//	true       "1"
//	false      "0"
//	string     itself
//	number     decimal form
//	map/slice  JSON
//	other      ""
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "1"
		}
		return "0"
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// CharDiff computes a character-level diff from previous to next.
func CharDiff(previous, next string) []audit.TextOp {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(previous, next, false)

	ops := make([]audit.TextOp, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		op := audit.TextOp{Value: d.Text, Count: utf8.RuneCountInString(d.Text)}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op.Added = true
		case diffmatchpatch.DiffDelete:
			op.Removed = true
		}
		ops = append(ops, op)
	}
	return ops
}

// TextDiff returns the stored diff for a descriptor: the JSON encoding of
// CharDiff over both stringified values, or "" when both sides are empty.
func TextDiff(d ChangeDescriptor) (string, error) {
	previous := ToString(d.Previous())
	next := ToString(d.Next())
	if previous == "" && next == "" {
		return "", nil
	}
	data, err := json.Marshal(CharDiff(previous, next))
	if err != nil {
		return "", fmt.Errorf("marshal text diff: %w", err)
	}
	return string(data), nil
}

package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies a ChangeDescriptor.
type Kind string

const (
	KindAdded     Kind = "N"
	KindUpdated   Kind = "E"
	KindDeleted   Kind = "D"
	KindArrayEdit Kind = "A"
)

// Path locates a changed value inside a snapshot.
// Segments are string map keys or int slice indices.
type Path []any

// UnmarshalJSON restores integer indices that JSON decoding would
// otherwise turn into float64.
func (p *Path) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal path: %w", err)
	}
	out := make(Path, 0, len(raw))
	for _, seg := range raw {
		if len(seg) > 0 && seg[0] == '"' {
			var s string
			if err := json.Unmarshal(seg, &s); err != nil {
				return fmt.Errorf("unmarshal path segment: %w", err)
			}
			out = append(out, s)
			continue
		}
		var i int
		if err := json.Unmarshal(seg, &i); err != nil {
			return fmt.Errorf("unmarshal path segment %s: %w", seg, err)
		}
		out = append(out, i)
	}
	*p = out
	return nil
}

// Field returns the first path segment as a string, the coarse field name
// stored on a Change. Returns "" for an empty path.
func (p Path) Field() string {
	if len(p) == 0 {
		return ""
	}
	return fmt.Sprint(p[0])
}

// String renders the path as dotted keys with bracketed indices,
// e.g. "tags[1].name".
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if idx, ok := seg.(int); ok {
			fmt.Fprintf(&b, "[%d]", idx)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprint(&b, seg)
	}
	return b.String()
}

// ChangeDescriptor is one structural difference between two snapshots.
type ChangeDescriptor struct {
	Kind  Kind              `json:"kind"`
	Path  Path              `json:"path,omitempty"`
	Lhs   any               `json:"lhs,omitempty"`
	Rhs   any               `json:"rhs,omitempty"`
	Index *int              `json:"index,omitempty"`
	Item  *ChangeDescriptor `json:"item,omitempty"`
}

// Previous returns the value before the change.
// For array edits this is the nested item's value.
func (d ChangeDescriptor) Previous() any {
	if d.Item != nil {
		return d.Item.Lhs
	}
	return d.Lhs
}

// Next returns the value after the change.
// For array edits this is the nested item's value.
func (d ChangeDescriptor) Next() any {
	if d.Item != nil {
		return d.Item.Rhs
	}
	return d.Rhs
}

// MarshalDocument serialises the descriptor for Change.Document.
// HTML escaping is disabled so stored text matches the recorded values.
func (d ChangeDescriptor) MarshalDocument() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", fmt.Errorf("marshal change descriptor: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// UnmarshalDocument parses a stored Change.Document back into a descriptor.
// Numbers decode as json.Number, matching Compute's value form.
func UnmarshalDocument(doc string) (ChangeDescriptor, error) {
	var d ChangeDescriptor
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return ChangeDescriptor{}, fmt.Errorf("unmarshal change descriptor: %w", err)
	}
	return d, nil
}

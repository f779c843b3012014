package audit

import "time"

// Actor identifies who performed a mutation.
// Resolved from the mutation's operation descriptor or context.
type Actor struct {
	ID string `json:"id"`
}

// Revision is an immutable snapshot of a tracked record after one
// audit-worthy mutation.
type Revision struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	DocumentID string    `json:"document_id"`
	Number     int64     `json:"revision"`
	Snapshot   string    `json:"document"` // JSON of the committed record
	UserID     *string   `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Change is one field-level difference belonging to a Revision.
type Change struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`     // first segment of the descriptor path
	Document   string    `json:"document"` // JSON of the full change descriptor
	Diff       string    `json:"diff"`     // JSON []TextOp, or "" when both sides are empty
	RevisionID string    `json:"revision_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// RevisionInput carries everything the recorder needs to build a Revision.
// Built by the post-commit hook from the committed record.
type RevisionInput struct {
	Model      string
	DocumentID string
	Number     int64
	Snapshot   map[string]any
	Actor      *Actor
}

// TextOp is one operation of a character-level diff.
// Exactly one of Added/Removed is set, or neither for unchanged text.
type TextOp struct {
	Value   string `json:"value"`
	Count   int    `json:"count"`
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

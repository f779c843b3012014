package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable identifiers for golden comparisons.
//
// IDs are 32 lowercase hex characters, so they are accepted by both the
// compact and the uuid key policies:
//
//	00000000000070008000000000000001
//	00000000000070008000000000000002
//
// Thread-safety: safe for concurrent use. Concurrent callers receive
// distinct ids but their order follows scheduling.
type SequentialIDs struct {
	mu  sync.Mutex
	seq uint64
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("000000000000700080%014x", g.seq)
}

// NewID returns the next id. Same as Generate.
func (g *SequentialIDs) NewID() string {
	return g.Generate()
}

// Reset restarts the sequence.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

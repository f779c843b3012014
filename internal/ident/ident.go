package ident

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Policy selects the identifier representation.
type Policy string

const (
	PolicyCompact Policy = "compact"
	PolicyUUID    Policy = "uuid"
)

// ErrInvalidKey is returned when an identifier cannot be encoded under the
// active policy.
var ErrInvalidKey = errors.New("invalid key")

// Generator produces new identifiers in their string form.
// Implemented by CompactGenerator, RandomGenerator and FixedGenerator.
type Generator interface {
	Generate() string
}

// Codec converts string identifiers to and from their stored form.
type Codec interface {
	// ColumnType is the SQL column type holding keys.
	ColumnType() string
	// Encode returns the value bound to SQL parameters.
	Encode(id string) (any, error)
	// Decode converts a scanned column value back to the string form.
	Decode(src any) (string, error)
	// Bytes returns the key bytes used by key-value stores.
	Bytes(id string) ([]byte, error)
}

// Strategy pairs a generator with the codec of its policy.
// Safe for concurrent use when the generator is.
type Strategy struct {
	policy Policy
	gen    Generator
	codec  Codec
}

// Option customises a Strategy.
type Option func(*Strategy)

// WithGenerator replaces the policy's default generator.
// Tests use it with FixedGenerator for deterministic keys.
func WithGenerator(g Generator) Option {
	return func(s *Strategy) {
		s.gen = g
	}
}

// New returns the Strategy for a policy. An empty policy means compact.
func New(p Policy, opts ...Option) (*Strategy, error) {
	s := &Strategy{policy: p}
	switch p {
	case PolicyCompact, "":
		s.policy = PolicyCompact
		s.gen = CompactGenerator{}
		s.codec = compactCodec{}
	case PolicyUUID:
		s.gen = RandomGenerator{}
		s.codec = uuidCodec{}
	default:
		return nil, fmt.Errorf("unknown id policy %q", p)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MustNew is New for policies known to be valid.
func MustNew(p Policy, opts ...Option) *Strategy {
	s, err := New(p, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Policy returns the active policy.
func (s *Strategy) Policy() Policy { return s.policy }

// NewID returns a fresh identifier.
func (s *Strategy) NewID() string { return s.gen.Generate() }

// ColumnType implements Codec.
func (s *Strategy) ColumnType() string { return s.codec.ColumnType() }

// Encode implements Codec.
func (s *Strategy) Encode(id string) (any, error) { return s.codec.Encode(id) }

// Decode implements Codec.
func (s *Strategy) Decode(src any) (string, error) { return s.codec.Decode(src) }

// Bytes implements Codec.
func (s *Strategy) Bytes(id string) ([]byte, error) { return s.codec.Bytes(id) }

// CompactGenerator generates time-ordered UUIDv7 keys as 32 hex characters.
//
// Thread-safety: stateless and safe for concurrent use.
type CompactGenerator struct{}

// Generate creates a new UUIDv7 without hyphens.
// Panics if UUID generation fails (should never happen in practice).
func (CompactGenerator) Generate() string {
	id := uuid.Must(uuid.NewV7())
	return hex.EncodeToString(id[:])
}

// RandomGenerator generates random UUIDv4 keys in canonical form.
//
// Thread-safety: stateless and safe for concurrent use.
type RandomGenerator struct{}

// Generate creates a new UUIDv4.
func (RandomGenerator) Generate() string {
	return uuid.NewString()
}

// FixedGenerator returns predetermined identifiers for testing.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics when all ids have been consumed, which catches a test that
// writes more records than it planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

type compactCodec struct{}

func (compactCodec) ColumnType() string { return "BLOB" }

func (c compactCodec) Encode(id string) (any, error) {
	return c.Bytes(id)
}

// Bytes accepts hex with or without UUID hyphens.
func (compactCodec) Bytes(id string) ([]byte, error) {
	raw := strings.ReplaceAll(id, "-", "")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not hex: %v", ErrInvalidKey, id, err)
	}
	return b, nil
}

func (compactCodec) Decode(src any) (string, error) {
	switch v := src.(type) {
	case []byte:
		return hex.EncodeToString(v), nil
	case string:
		return strings.ToLower(strings.ReplaceAll(v, "-", "")), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: unexpected column type %T", ErrInvalidKey, src)
	}
}

type uuidCodec struct{}

func (uuidCodec) ColumnType() string { return "TEXT" }

func (uuidCodec) Encode(id string) (any, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return id, nil
}

// Bytes returns the 16 UUID bytes when id parses, else the raw text.
func (uuidCodec) Bytes(id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if u, err := uuid.Parse(id); err == nil {
		return u[:], nil
	}
	return []byte(id), nil
}

func (uuidCodec) Decode(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: unexpected column type %T", ErrInvalidKey, src)
	}
}

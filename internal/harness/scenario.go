package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/revtrail/internal/config"
	"github.com/roach88/revtrail/internal/ident"
)

// Scenario defines an audit-trail scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the default configuration.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps are the mutations to perform, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the resulting audit trail and records.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig holds the configuration fields a scenario may override.
type ScenarioConfig struct {
	Exclude           []string     `yaml:"exclude,omitempty"`
	RevisionAttribute string       `yaml:"revision_attribute,omitempty"`
	IDPolicy          ident.Policy `yaml:"id_policy,omitempty"`
	UserModel         string       `yaml:"user_model,omitempty"`
	InternalMarker    string       `yaml:"internal_marker,omitempty"`

	// Driver selects the audit store backend (sqlite or badger).
	Driver string `yaml:"driver,omitempty"`
}

// apply overlays the scenario's overrides on cfg and points the stores at
// memory.
func (c ScenarioConfig) apply(cfg *config.Config) {
	if c.Exclude != nil {
		cfg.Exclude = c.Exclude
	}
	if c.RevisionAttribute != "" {
		cfg.RevisionAttribute = c.RevisionAttribute
	}
	if c.IDPolicy != "" {
		cfg.IDPolicy = c.IDPolicy
	}
	if c.UserModel != "" {
		cfg.UserModel = c.UserModel
	}
	if c.InternalMarker != "" {
		cfg.InternalMarker = c.InternalMarker
	}
	if c.Driver != "" {
		cfg.Store.Driver = c.Driver
	}
	switch cfg.Store.Driver {
	case config.DriverBadger:
		cfg.Store.Path = ""
		cfg.Store.InMemory = true
	default:
		cfg.Store.Path = ":memory:"
		cfg.Store.InMemory = false
	}
}

// Step operations.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpBulkDelete = "bulk_delete"
)

// Step is one record mutation.
type Step struct {
	// Op is create, update, delete or bulk_delete.
	Op string `yaml:"op"`

	// Model is required for create. Other ops take it from the ref.
	Model string `yaml:"model,omitempty"`

	// Ref names the record. Bound on create.
	Ref string `yaml:"ref,omitempty"`

	// Refs lists the records of a bulk_delete.
	Refs []string `yaml:"refs,omitempty"`

	// Attrs are the created attributes or the update patch.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// User attributes the mutation to a user id.
	User string `yaml:"user,omitempty"`

	// ExpectError marks a step that must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Assertion validates the audit trail or final record state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "revision_count": Ref has exactly Count revisions
	// - "revision_numbers": Ref's revisions carry Numbers in order
	// - "change_paths": revision Revision of Ref has changes at Paths
	// - "record_state": Ref's stored attributes include Expect
	// - "record_absent": Ref no longer exists
	// - "revision_user": revision Revision of Ref is attributed to User
	Type string `yaml:"type"`

	Ref      string         `yaml:"ref"`
	Count    int            `yaml:"count,omitempty"`
	Numbers  []int64        `yaml:"numbers,omitempty"`
	Revision int64          `yaml:"revision,omitempty"`
	Paths    []string       `yaml:"paths,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	User     string         `yaml:"user,omitempty"`
}

// Assertion type constants.
const (
	AssertRevisionCount   = "revision_count"
	AssertRevisionNumbers = "revision_numbers"
	AssertChangePaths     = "change_paths"
	AssertRecordState     = "record_state"
	AssertRecordAbsent    = "record_absent"
	AssertRevisionUser    = "revision_user"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	bound := map[string]bool{}
	for i, step := range s.Steps {
		switch step.Op {
		case OpCreate:
			if step.Model == "" {
				return fmt.Errorf("steps[%d]: model is required for create", i)
			}
			if step.Ref == "" {
				return fmt.Errorf("steps[%d]: ref is required", i)
			}
			if bound[step.Ref] {
				return fmt.Errorf("steps[%d]: ref %q already bound", i, step.Ref)
			}
			bound[step.Ref] = true
		case OpUpdate, OpDelete:
			if !bound[step.Ref] {
				return fmt.Errorf("steps[%d]: unknown ref %q", i, step.Ref)
			}
			if step.Op == OpUpdate && step.Attrs == nil {
				return fmt.Errorf("steps[%d]: attrs is required for update", i)
			}
		case OpBulkDelete:
			if len(step.Refs) == 0 {
				return fmt.Errorf("steps[%d]: refs is required for bulk_delete", i)
			}
			for _, ref := range step.Refs {
				if !bound[ref] {
					return fmt.Errorf("steps[%d]: unknown ref %q", i, ref)
				}
			}
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], bound); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, bound map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if !bound[a.Ref] {
		return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
	}

	switch a.Type {
	case AssertRevisionCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for revision_count", index)
		}
	case AssertRevisionNumbers:
		if a.Numbers == nil {
			return fmt.Errorf("assertions[%d]: numbers is required for revision_numbers", index)
		}
	case AssertChangePaths:
		if a.Revision < 1 {
			return fmt.Errorf("assertions[%d]: revision is required for change_paths", index)
		}
	case AssertRecordState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record_state", index)
		}
	case AssertRecordAbsent:
	case AssertRevisionUser:
		if a.Revision < 1 {
			return fmt.Errorf("assertions[%d]: revision is required for revision_user", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

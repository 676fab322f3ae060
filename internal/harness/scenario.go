package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a fill scenario: a schema, seed rows, a sequence of
// create and fill steps, and assertions on the resulting database.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path to the CUE schema (a .cue file or a directory).
	// Relative paths are resolved against the scenario file's directory.
	Schema string `yaml:"schema"`

	// MaxDepth bounds payload nesting. Zero keeps the engine default.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// Seed rows are inserted directly through the store before any step.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Steps run in order, each in its own transaction.
	Steps []Step `yaml:"steps"`

	// Assertions validate the database after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRow is one row inserted before the steps run.
type SeedRow struct {
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields"`
}

// Step is one Create or Fill call. Exactly one of Create and Fill is set.
type Step struct {
	// Create names the entity type to create.
	Create string `yaml:"create,omitempty"`

	// Fill addresses the stored entity to fill.
	Fill *EntityRef `yaml:"fill,omitempty"`

	// Payload is the nested attribute payload.
	Payload map[string]any `yaml:"payload"`

	// Expect validates the outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// EntityRef addresses a stored entity by type and key.
type EntityRef struct {
	Type string `yaml:"type"`
	Key  int64  `yaml:"key"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.Key)
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code, e.g. "NOT_FOUND". Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	// Reports maps relation paths to the expected change report.
	Reports map[string]ExpectedReport `yaml:"reports,omitempty"`
}

// ExpectedReport is a partial change report: only lists that are present
// are compared. Write an empty list to require no keys.
type ExpectedReport struct {
	Attached []int64 `yaml:"attached,omitempty"`
	Detached []int64 `yaml:"detached,omitempty"`
	Created  []int64 `yaml:"created,omitempty"`
	Updated  []int64 `yaml:"updated,omitempty"`
}

// Assertion validates database state after the steps ran.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Entity and Key address a stored entity (row, absent, related_keys, pivot).
	Entity string `yaml:"entity,omitempty"`
	Key    int64  `yaml:"key,omitempty"`

	// Relation names the relation (related_keys, pivot).
	Relation string `yaml:"relation,omitempty"`

	// Related is the related key of a join row (pivot).
	Related int64 `yaml:"related,omitempty"`

	// Table is the SQL table to count (row_count).
	Table string `yaml:"table,omitempty"`

	// Expect holds expected column values, subset match (row, pivot).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Keys is the expected related key set (related_keys).
	Keys []int64 `yaml:"keys,omitempty"`

	// Count is the expected number of rows (row_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRow         = "row"
	AssertAbsent      = "absent"
	AssertRelatedKeys = "related_keys"
	AssertPivot       = "pivot"
	AssertRowCount    = "row_count"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative schema path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}
	if _, err := os.Stat(scenario.Schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: schema not found: %s", scenario.Schema)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Schema paths are left
// as written.
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
	if !validIdentifier.MatchString(s.Name) {
		return fmt.Errorf("name %q must be an identifier (it names the golden file)", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, row := range s.Seed {
		if row.Type == "" {
			return fmt.Errorf("seed[%d]: type is required", i)
		}
	}

	for i, step := range s.Steps {
		if (step.Create == "") == (step.Fill == nil) {
			return fmt.Errorf("steps[%d]: exactly one of create and fill is required", i)
		}
		if step.Fill != nil && (step.Fill.Type == "" || step.Fill.Key <= 0) {
			return fmt.Errorf("steps[%d].fill: type and a positive key are required", i)
		}
		if step.Payload == nil {
			return fmt.Errorf("steps[%d]: payload is required (use {} for an empty payload)", i)
		}
		if step.Expect != nil && step.Expect.Error != "" && len(step.Expect.Reports) > 0 {
			return fmt.Errorf("steps[%d].expect: a failing step has no reports", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needEntity := func() error {
		if a.Entity == "" || a.Key <= 0 {
			return fmt.Errorf("assertions[%d]: entity and a positive key are required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertRow:
		if err := needEntity(); err != nil {
			return err
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	case AssertAbsent:
		return needEntity()
	case AssertRelatedKeys:
		if err := needEntity(); err != nil {
			return err
		}
		if a.Relation == "" {
			return fmt.Errorf("assertions[%d]: relation is required for related_keys", index)
		}
		if a.Keys == nil {
			return fmt.Errorf("assertions[%d]: keys is required for related_keys (use [] for none)", index)
		}
	case AssertPivot:
		if err := needEntity(); err != nil {
			return err
		}
		if a.Relation == "" || a.Related <= 0 {
			return fmt.Errorf("assertions[%d]: relation and a positive related key are required for pivot", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if !validIdentifier.MatchString(a.Table) {
			return fmt.Errorf("assertions[%d]: invalid table name %q", index, a.Table)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: a non-negative count is required for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

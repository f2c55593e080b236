package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ndmesh/internal/gridspec"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Grid is an optional inline grid definition.
	Grid *gridspec.Spec `yaml:"grid,omitempty"`

	// Arrays are built in order before assertions run.
	Arrays []ArraySpec `yaml:"arrays,omitempty"`

	// Assertions validate the grid and arrays.
	Assertions []Assertion `yaml:"assertions"`
}

// ArraySpec defines a named int64 array. Exactly one of Arange, Values,
// CopyOf, ViewOf or Reverse is set.
type ArraySpec struct {
	Name    string  `yaml:"name"`
	Arange  *int    `yaml:"arange,omitempty"`
	Values  []int64 `yaml:"values,omitempty"`
	CopyOf  string  `yaml:"copy_of,omitempty"`
	ViewOf  string  `yaml:"view_of,omitempty"`
	Reverse string  `yaml:"reverse,omitempty"`
	Shape   []int   `yaml:"shape,omitempty"`
}

// source returns the array's construction op and its operand.
func (a ArraySpec) source() (op, ref string, count int) {
	if a.Arange != nil {
		op, count = "arange", count+1
	}
	if a.Values != nil {
		op, count = "values", count+1
	}
	if a.CopyOf != "" {
		op, ref, count = "copy_of", a.CopyOf, count+1
	}
	if a.ViewOf != "" {
		op, ref, count = "view_of", a.ViewOf, count+1
	}
	if a.Reverse != "" {
		op, ref, count = "reverse", a.Reverse, count+1
	}
	return op, ref, count
}

// Assertion validates grid outputs or arrays.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by mesh_count and store_count.
	Count int `yaml:"count,omitempty"`

	// Index selects a grid output (mesh_shape, mesh_values).
	// Nil means every output for mesh_shape.
	Index *int `yaml:"index,omitempty"`

	// Shape is the expected shape (mesh_shape).
	Shape []int `yaml:"shape,omitempty"`

	// Values are the expected row-major elements (mesh_values).
	Values []float64 `yaml:"values,omitempty"`

	// Tolerance is the absolute tolerance for mesh_values. Default 1e-9.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Arrays names the arrays compared (fingerprint_*, shares_memory,
	// values_equal).
	Arrays []string `yaml:"arrays,omitempty"`

	// Expect is the expected outcome for shares_memory and values_equal.
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertMeshCount          = "mesh_count"
	AssertMeshShape          = "mesh_shape"
	AssertMeshValues         = "mesh_values"
	AssertFingerprintEqual   = "fingerprint_equal"
	AssertFingerprintDiffers = "fingerprint_differs"
	AssertSharesMemory       = "shares_memory"
	AssertValuesEqual        = "values_equal"
	AssertStoreCount         = "store_count"
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
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Grid != nil {
		scenario.Grid.Name = scenario.Name
		scenario.Grid.ApplyDefaults()
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir (not recursive),
// sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	scenarios := make([]*Scenario, 0, len(files))
	for _, path := range files {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Grid != nil {
		if err := s.Grid.Validate(); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
	}

	defined := make(map[string]bool)
	for i, a := range s.Arrays {
		if a.Name == "" {
			return fmt.Errorf("arrays[%d]: name is required", i)
		}
		if defined[a.Name] {
			return fmt.Errorf("arrays[%d]: duplicate name %q", i, a.Name)
		}
		_, ref, count := a.source()
		if count != 1 {
			return fmt.Errorf("arrays[%d]: exactly one of arange, values, copy_of, view_of or reverse is required", i)
		}
		if ref != "" && !defined[ref] {
			return fmt.Errorf("arrays[%d]: %q refers to undefined array %q", i, a.Name, ref)
		}
		if a.Arange != nil && *a.Arange < 0 {
			return fmt.Errorf("arrays[%d]: arange must be non-negative", i)
		}
		if a.Arange != nil && *a.Arange > gridspec.MaxPoints {
			return fmt.Errorf("arrays[%d]: arange %d exceeds the limit of %d elements", i, *a.Arange, gridspec.MaxPoints)
		}
		defined[a.Name] = true
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s, defined); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario, defined map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMeshCount, AssertMeshShape, AssertMeshValues:
		if s.Grid == nil {
			return fmt.Errorf("assertions[%d]: %s requires a grid", index, a.Type)
		}
		if a.Type == AssertMeshShape && a.Shape == nil {
			return fmt.Errorf("assertions[%d]: shape is required for mesh_shape", index)
		}
		if a.Type == AssertMeshValues && a.Index == nil {
			return fmt.Errorf("assertions[%d]: index is required for mesh_values", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFingerprintEqual, AssertFingerprintDiffers:
		if len(a.Arrays) < 2 {
			return fmt.Errorf("assertions[%d]: at least two arrays are required for %s", index, a.Type)
		}
	case AssertSharesMemory, AssertValuesEqual:
		if len(a.Arrays) != 2 {
			return fmt.Errorf("assertions[%d]: exactly two arrays are required for %s", index, a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertStoreCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	for _, name := range a.Arrays {
		if !defined[name] {
			return fmt.Errorf("assertions[%d]: undefined array %q", index, name)
		}
	}
	return nil
}

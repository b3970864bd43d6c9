package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against a fresh registry and ledger.
// Steps execute in order; the trace they produce is what golden files
// capture.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declare registers symbols before the steps run. Setup declarations
	// must succeed and are not traced.
	Declare []Declaration `yaml:"declare,omitempty"`

	// Steps are the traced operations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Declaration is one setup declaration. Value is a string, a number, or a
// list of numbers.
type Declaration struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// Step is one operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	Owner string `yaml:"owner,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Value any    `yaml:"value,omitempty"`

	Entity  string         `yaml:"entity,omitempty"`
	Metric  *float64       `yaml:"metric,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Field and Seq select the record a tamper step rewrites.
	Field string `yaml:"field,omitempty"`
	Seq   int64  `yaml:"seq,omitempty"`

	// Expect validates the step outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome of one step. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code (see ErrorCode). Empty means success.
	Error string `yaml:"error,omitempty"`

	// Value is the expected lookup result.
	Value any `yaml:"value,omitempty"`

	// Seq is the expected sequence number of an evolve.
	Seq *int64 `yaml:"seq,omitempty"`

	ChainOK              *bool  `yaml:"chain_ok,omitempty"`
	MonotonicOK          *bool  `yaml:"monotonic_ok,omitempty"`
	FirstFailingSequence *int64 `yaml:"first_failing_sequence,omitempty"`
}

// Step operations.
const (
	OpDeclare   = "declare"
	OpLookup    = "lookup"
	OpOpen      = "open"
	OpOpenTyped = "open_typed"
	OpEvolve    = "evolve"
	OpVerify    = "verify"
	OpTamper    = "tamper"
	OpReload    = "reload"
)

// Tamper fields.
const (
	FieldPayloadDigest = "payload_digest"
	FieldChainDigest   = "chain_digest"
	FieldMetric        = "metric"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Entity string `yaml:"entity,omitempty"`
	Owner  string `yaml:"owner,omitempty"`
	Op     string `yaml:"op,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Digest string `yaml:"digest,omitempty"`
	Count  int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryLength = "history_length"
	AssertHead          = "head"
	AssertNonDecreasing = "metrics_nondecreasing"
	AssertDeclarations  = "declarations"
	AssertEntities      = "entities"
	AssertTraceCount    = "trace_count"
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
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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

	for i, d := range s.Declare {
		if d.Owner == "" || d.Name == "" {
			return fmt.Errorf("declare[%d]: owner and name are required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, s *Step) error {
	switch s.Op {
	case OpDeclare, OpLookup:
		if s.Owner == "" {
			return fmt.Errorf("steps[%d]: owner is required for %s", index, s.Op)
		}
		if s.Op == OpDeclare && s.Value == nil {
			return fmt.Errorf("steps[%d]: value is required for declare", index)
		}
	case OpOpen, OpVerify:
		if s.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for %s", index, s.Op)
		}
	case OpOpenTyped:
		if s.Owner == "" || s.Entity == "" {
			return fmt.Errorf("steps[%d]: owner and entity are required for open_typed", index)
		}
	case OpEvolve:
		if s.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for evolve", index)
		}
		if s.Metric == nil {
			return fmt.Errorf("steps[%d]: metric is required for evolve", index)
		}
	case OpTamper:
		if s.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for tamper", index)
		}
		switch s.Field {
		case FieldPayloadDigest, FieldChainDigest:
		case FieldMetric:
			if s.Metric == nil {
				return fmt.Errorf("steps[%d]: metric is required to tamper with metric", index)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown tamper field %q", index, s.Field)
		}
	case OpReload:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertHistoryLength, AssertNonDecreasing:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for %s", index, a.Type)
		}
	case AssertHead:
		if a.Entity == "" || a.Digest == "" {
			return fmt.Errorf("assertions[%d]: entity and digest are required for head", index)
		}
	case AssertDeclarations, AssertEntities:
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}

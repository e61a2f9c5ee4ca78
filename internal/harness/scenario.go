package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultDevice runs steps that name no device.
const DefaultDevice = "main"

// Scenario is a scripted session across one or more devices sharing a
// database. Steps refer to users, groups and invitations by alias; the
// harness maps aliases to generated tags.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Device is the default device for steps. Defaults to DefaultDevice.
	Device string `yaml:"device,omitempty"`

	// Setup steps establish initial state. Any failure aborts the run.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow holds the steps under test, each with an optional expectation.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and entity state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a setup action.
type ActionStep struct {
	// Action is the action URI (e.g., "User.create").
	Action string `yaml:"action"`

	// Device overrides the scenario's default device.
	Device string `yaml:"device,omitempty"`

	// Args are the action's arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep is one step of the main flow.
type FlowStep struct {
	// Invoke is the action URI to run.
	Invoke string `yaml:"invoke"`

	// Device overrides the scenario's default device.
	Device string `yaml:"device,omitempty"`

	// Args are the action's arguments.
	Args map[string]any `yaml:"args"`

	// Expect checks the outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected outcome.
type ExpectClause struct {
	// Case is the expected output case: ok, invalid_argument,
	// unauthorized, consistency, insufficient_funds or error.
	Case string `yaml:"case"`

	// Result is matched as a subset of the action's result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an action appears in the trace with args
	// - "trace_order": actions appear in order
	// - "trace_count": an action appears exactly N times
	// - "final_state": a live entity has the expected fields
	Type string `yaml:"type"`

	// Action is the action URI (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Table is users, groups or members (final_state).
	Table string `yaml:"table,omitempty"`

	// Where names the entity by alias: user, group, or both for members
	// (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is matched as a subset of the entity's state (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Device reads state as this device sees it (final_state).
	Device string `yaml:"device,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Output cases.
const (
	CaseOK                = "ok"
	CaseInvalidArgument   = "invalid_argument"
	CaseUnauthorized      = "unauthorized"
	CaseConsistency       = "consistency"
	CaseInsufficientFunds = "insufficient_funds"
	CaseError             = "error"
)

var validCases = map[string]bool{
	CaseOK:                true,
	CaseInvalidArgument:   true,
	CaseUnauthorized:      true,
	CaseConsistency:       true,
	CaseInsufficientFunds: true,
	CaseError:             true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if _, ok := actions[step.Action]; !ok {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if _, ok := actions[step.Invoke]; !ok {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil && !validCases[step.Expect.Case] {
			return fmt.Errorf("flow[%d].expect: unknown case %q", i, step.Expect.Case)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
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

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableUsers, TableGroups, TableMembers:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

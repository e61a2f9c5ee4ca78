package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/mutual/internal/ir"
)

// Snapshot renders a trace as canonical JSON, the form golden files hold.
func Snapshot(scenarioName string, trace []TraceEvent) ([]byte, error) {
	events := make(ir.IRArray, len(trace))
	for i, event := range trace {
		events[i] = event.snapshot()
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario_name": ir.IRString(scenarioName),
		"trace":         events,
	})
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The returned result lets callers check expectations and assertions too.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against the golden file
// for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

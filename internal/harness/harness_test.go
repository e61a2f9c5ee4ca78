package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
)

func userSteps(aliases ...string) []ActionStep {
	steps := make([]ActionStep, len(aliases))
	for i, alias := range aliases {
		steps[i] = ActionStep{Action: "User.create", Args: map[string]any{"as": alias, "title": alias}}
	}
	return steps
}

func TestRun_TracesEveryStep(t *testing.T) {
	result, err := Run(t.Context(), &Scenario{
		Name:  "trace",
		Setup: userSteps("alice"),
		Flow: []FlowStep{
			{Invoke: "User.edit", Args: map[string]any{"user": "alice", "title": "Alicia"}},
			{Invoke: "Clock.advance", Args: map[string]any{"hours": 24}},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 6)
	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
	}
	edit := result.Trace[2]
	assert.Equal(t, EventInvocation, edit.Type)
	assert.Equal(t, "User.edit", edit.ActionURI)
	assert.Equal(t, DefaultDevice, edit.Device)

	done := result.Trace[3]
	assert.Equal(t, EventCompletion, done.Type)
	assert.Equal(t, CaseOK, done.OutputCase)
	assert.Equal(t, ir.IRString("Alicia"), done.Result["title"])

	assert.Equal(t, ir.IRString("2024-01-02T00:00:00Z"), result.Trace[5].Result["now"])
}

func TestRun_ReportsUnexpectedOutcomes(t *testing.T) {
	result, err := Run(t.Context(), &Scenario{
		Name:  "mismatch",
		Setup: userSteps("alice", "bob"),
		Flow: []FlowStep{
			// Succeeds, but the expectation says otherwise.
			{
				Invoke: "Group.create",
				Args:   map[string]any{"as": "coop", "user": "alice", "name": "Co-op"},
				Expect: &ExpectClause{Case: CaseUnauthorized},
			},
			// Fails without an expect clause.
			{Invoke: "Group.send", Args: map[string]any{"user": "bob", "group": "coop", "text": "hi"}},
			// Right case, wrong result.
			{
				Invoke: "Group.send",
				Args:   map[string]any{"user": "alice", "group": "coop", "text": "hi"},
				Expect: &ExpectClause{Case: CaseOK, Result: map[string]any{"messages": 5}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: TableGroups, Where: map[string]any{"group": "coop"}, Expect: map[string]any{"messages": 1, "title": "Co-op"}},
			{Type: AssertFinalState, Table: TableGroups, Where: map[string]any{"group": "coop"}, Expect: map[string]any{"members": 2}},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "flow[0] Group.create: expected case unauthorized, got ok")
	assert.Contains(t, result.Errors[1], "flow[1] Group.send: expected case ok, got unauthorized")
	assert.Contains(t, result.Errors[2], "flow[2] Group.send: messages: got 1, want 5")
	assert.Contains(t, result.Errors[3], "members: got 1, want 2")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	_, err := Run(t.Context(), &Scenario{
		Name: "setup",
		Setup: []ActionStep{
			{Action: "Group.create", Args: map[string]any{"as": "coop", "user": "nobody"}},
		},
		Flow: []FlowStep{{Invoke: "Clock.advance", Args: map[string]any{"hours": 1}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0 (Group.create): error")
	assert.Contains(t, err.Error(), `unknown user "nobody"`)
}

func TestRun_RejectsNullArguments(t *testing.T) {
	_, err := Run(t.Context(), &Scenario{
		Name: "null",
		Flow: []FlowStep{{Invoke: "User.create", Args: map[string]any{"as": "alice", "title": nil}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "title": null values are not allowed`)
}

func TestRun_DevicesShareOneDatabase(t *testing.T) {
	result, err := Run(t.Context(), &Scenario{
		Name:   "devices",
		Device: "laptop",
		Setup:  userSteps("alice"),
		Flow: []FlowStep{
			{Invoke: "User.open", Device: "phone", Args: map[string]any{"user": "alice"}, Expect: &ExpectClause{Case: CaseUnauthorized}},
			{Invoke: "User.recover", Device: "phone", Args: map[string]any{"user": "alice", "answer": "Max"}, Expect: &ExpectClause{Case: CaseUnauthorized}},
			{Invoke: "User.recover", Device: "phone", Args: map[string]any{"user": "alice"}, Expect: &ExpectClause{Case: CaseOK, Result: map[string]any{"devices": 2}}},
			{Invoke: "User.deauthorize", Device: "phone", Args: map[string]any{"user": "alice", "name": "laptop"}, Expect: &ExpectClause{Case: CaseOK, Result: map[string]any{"devices": 1}}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: TableUsers, Device: "phone", Where: map[string]any{"user": "alice"}, Expect: map[string]any{"devices": 1, "exists": true, "owned": true}},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CaseOK},
		{persist.InvalidArgument("pay", "g", "amount %s is not positive", "0"), CaseInvalidArgument},
		{persist.Unauthorized("open", "u", assert.AnError), CaseUnauthorized},
		{economy.ErrInsufficientFunds, CaseInsufficientFunds},
		{assert.AnError, CaseError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err), "%v", tt.err)
	}
}

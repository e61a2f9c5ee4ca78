package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/ir"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddInvocationTrace("User.create", "main", ir.IRObject{"as": ir.IRString("alice")}, 1)
	r.AddCompletionTrace(CaseOK, ir.IRObject{"groups": ir.IRInt(1)}, 2)
	r.AddInvocationTrace("Group.pay", "main", ir.IRObject{
		"to":     ir.IRString("bob"),
		"amount": ir.IRString("5"),
	}, 3)
	r.AddCompletionTrace(CaseOK, nil, 4)
	r.AddInvocationTrace("Group.send", "phone", ir.IRObject{"text": ir.IRString("hi")}, 5)
	r.AddCompletionTrace(CaseUnauthorized, nil, 6)
	r.AddInvocationTrace("Group.pay", "main", ir.IRObject{"amount": ir.IRString("7")}, 7)
	r.AddCompletionTrace(CaseInsufficientFunds, nil, 8)
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "Group.pay"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Action: "Group.pay",
		Args:   map[string]any{"amount": "7"},
	}), "any matching invocation satisfies the assertion")

	err := assertTraceContains(trace, Assertion{
		Action: "Group.pay",
		Args:   map[string]any{"amount": 5},
	})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "Full trace:")
	assert.Contains(t, err.Error(), "Group.send@phone")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"User.create", "Group.send"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"Group.pay", "Group.send"}}),
		"first occurrences decide the order")

	err := assertTraceOrder(trace, Assertion{Actions: []string{"Group.send", "User.create"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"User.create", "User.destroy"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: User.destroy")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "Group.pay", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "User.destroy", Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: "Group.pay", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestSubsetMismatches(t *testing.T) {
	actual := ir.IRObject{
		"title":   ir.IRString("Co-op"),
		"members": ir.IRInt(2),
		"texts":   ir.IRArray{ir.IRString("a"), ir.IRString("b")},
	}

	assert.Empty(t, subsetMismatches(ir.IRObject{}, actual))
	assert.Empty(t, subsetMismatches(ir.IRObject{"members": ir.IRInt(2)}, actual))
	assert.Empty(t, subsetMismatches(ir.IRObject{
		"texts": ir.IRArray{ir.IRString("a"), ir.IRString("b")},
	}, actual))

	got := subsetMismatches(ir.IRObject{
		"members": ir.IRInt(3),
		"stipend": ir.IRString("10"),
		"title":   ir.IRString("Co-op"),
	}, actual)
	assert.Equal(t, []string{
		"members: got 2, want 3",
		"stipend: missing, want 10",
	}, got)

	assert.NotEmpty(t, subsetMismatches(ir.IRObject{"members": ir.IRString("2")}, actual),
		"types must match")
}

func TestEvaluateAssertions_CollectsEveryFailure(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errs := EvaluateAssertions(t.Context(), result, []Assertion{
		{Type: AssertTraceCount, Action: "Group.pay", Count: 2},
		{Type: AssertTraceCount, Action: "Group.send", Count: 3},
		{Type: AssertTraceContains, Action: "User.destroy"},
		{Type: AssertFinalState, Table: TableUsers},
		{Type: "eventually"},
	}, nil)

	require.Len(t, errs, 4)
	assert.Contains(t, errs[0], "3 occurrences of Group.send")
	assert.Contains(t, errs[1], "User.destroy")
	assert.Contains(t, errs[2], "final_state requires a session")
	assert.Contains(t, errs[3], `unknown assertion type "eventually"`)
}

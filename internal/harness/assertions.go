package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/mutual/internal/ir"
)

// Tables readable by final_state assertions.
const (
	TableUsers   = "users"
	TableGroups  = "groups"
	TableMembers = "members"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventInvocation {
				fmt.Fprintf(&buf, "  [%d] %s@%s %v\n", i+1, event.ActionURI, event.Device, event.Args)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	want, err := convertArgsToIRObject(assertion.Args)
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}
	for _, event := range trace {
		if event.Type == EventInvocation && event.ActionURI == assertion.Action {
			if len(subsetMismatches(want, event.Args)) == 0 {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		for _, expected := range assertion.Actions {
			if event.ActionURI == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.ActionURI == assertion.Action {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads one entity as a device sees it and matches the
// expected fields as a subset.
func (s *session) assertFinalState(ctx context.Context, assertion Assertion) error {
	where, err := convertArgsToIRObject(assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state where: %w", err)
	}
	want, err := convertArgsToIRObject(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	var state ir.IRObject
	switch assertion.Table {
	case TableUsers:
		state, err = s.userState(ctx, assertion.Device, ir.AsString(where["user"]))
	case TableGroups:
		state, err = s.groupState(ctx, assertion.Device, ir.AsString(where["group"]))
	case TableMembers:
		state, err = s.memberState(ctx, assertion.Device, ir.AsString(where["group"]), ir.AsString(where["user"]))
	default:
		err = fmt.Errorf("unknown table %q", assertion.Table)
	}
	if err != nil {
		return fmt.Errorf("final_state %s %v: %w", assertion.Table, where, err)
	}

	if mismatches := subsetMismatches(want, state); len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %v has %v", assertion.Table, where, want),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

func (s *session) userState(ctx context.Context, device, alias string) (ir.IRObject, error) {
	tag, ok := s.users[alias]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", alias)
	}
	a, err := s.device(ctx, device)
	if err != nil {
		return nil, err
	}
	u, ok := a.Realm.Users.Lookup(nil, tag)
	if !ok {
		if u, err = a.Realm.User(ctx, tag); err != nil {
			return nil, err
		}
	}
	return ir.IRObject{
		"exists":  ir.IRBool(u.Record().Verified() != nil),
		"title":   ir.IRString(u.Title(nil)),
		"groups":  ir.IRInt(len(u.Groups(nil))),
		"devices": ir.IRInt(len(u.Devices(nil))),
		"owned":   ir.IRBool(u.Owned(nil)),
		"bank":    ir.IRString(reverse(s.groups, u.Bank(nil))),
	}, nil
}

func (s *session) groupState(ctx context.Context, device, alias string) (ir.IRObject, error) {
	tag, ok := s.groups[alias]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", alias)
	}
	a, err := s.device(ctx, device)
	if err != nil {
		return nil, err
	}
	g, ok := a.Realm.Groups.Lookup(nil, tag)
	if !ok {
		if g, err = a.Realm.Group(ctx, tag); err != nil {
			return nil, err
		}
	}
	state := ir.IRObject{
		"exists":       ir.IRBool(g.Record().Verified() != nil),
		"title":        ir.IRString(g.Title(nil)),
		"name":         ir.IRString(g.Name(nil)),
		"members":      ir.IRInt(len(g.Members(nil))),
		"messages":     ir.IRInt(len(g.History(nil))),
		"private_only": ir.IRBool(g.PrivateOnly()),
	}
	if rate, ok := g.Rate(nil); ok {
		state["rate"] = ir.IRString(rate.String())
	}
	if stipend, ok := g.Stipend(nil); ok {
		state["stipend"] = ir.IRString(stipend.String())
	}
	return state, nil
}

func (s *session) memberState(ctx context.Context, device, groupAlias, userAlias string) (ir.IRObject, error) {
	user, ok := s.users[userAlias]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", userAlias)
	}
	group, ok := s.groups[groupAlias]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", groupAlias)
	}
	a, err := s.device(ctx, device)
	if err != nil {
		return nil, err
	}
	g, ok := a.Realm.Groups.Lookup(nil, group)
	if !ok {
		if g, err = a.Realm.Group(ctx, group); err != nil {
			return nil, err
		}
	}
	m, err := g.Member(ctx, user)
	if err != nil {
		return nil, err
	}
	state := ir.IRObject{
		"exists":  ir.IRBool(m.Record().Verified() != nil),
		"balance": ir.IRString(m.Balance(nil).String()),
	}
	if last := m.LastStipend(nil); !last.IsZero() {
		state["last_stipend"] = ir.IRString(last.Format(time.RFC3339))
	}
	return state, nil
}

// reverse finds the alias bound to tag.
func reverse(aliases map[string]string, tag string) string {
	if tag == "" {
		return ""
	}
	for alias, t := range aliases {
		if t == tag {
			return alias
		}
	}
	return ""
}

// subsetMismatches lists every key of want that actual lacks or holds a
// different value for. Extra keys in actual are ignored.
func subsetMismatches(want, actual ir.IRObject) []string {
	var out []string
	for _, key := range want.SortedKeys() {
		got, ok := actual[key]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: missing, want %v", key, want[key]))
		case !ir.Equal(got, want[key]):
			out = append(out, fmt.Sprintf("%s: got %v, want %v", key, got, want[key]))
		}
	}
	return out
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, s *session) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if s == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a session", i)
			} else {
				err = s.assertFinalState(ctx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

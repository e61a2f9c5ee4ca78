package harness

import (
	"github.com/roach88/mutual/internal/ir"
)

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// TraceEvent is one entry of a scenario trace: an action as invoked, or
// the outcome it completed with. Nothing in a trace depends on generated
// keys, so traces compare byte for byte across runs.
type TraceEvent struct {
	Type       string      `json:"type"`
	ActionURI  string      `json:"action_uri,omitempty"`
	Device     string      `json:"device,omitempty"`
	Args       ir.IRObject `json:"args,omitempty"`
	OutputCase string      `json:"output_case,omitempty"`
	Result     ir.IRObject `json:"result,omitempty"`
	Seq        int64       `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds invocations and completions in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace appends an invocation.
func (r *Result) AddInvocationTrace(actionURI, device string, args ir.IRObject, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      EventInvocation,
		ActionURI: actionURI,
		Device:    device,
		Args:      args,
		Seq:       seq,
	})
}

// AddCompletionTrace appends a completion.
func (r *Result) AddCompletionTrace(outputCase string, result ir.IRObject, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:       EventCompletion,
		OutputCase: outputCase,
		Result:     result,
		Seq:        seq,
	})
}

// snapshot renders the event for canonical serialization. Empty fields
// are left out.
func (e TraceEvent) snapshot() ir.IRObject {
	obj := ir.IRObject{
		"type": ir.IRString(e.Type),
		"seq":  ir.IRInt(e.Seq),
	}
	if e.ActionURI != "" {
		obj["action_uri"] = ir.IRString(e.ActionURI)
	}
	if e.Device != "" {
		obj["device"] = ir.IRString(e.Device)
	}
	if len(e.Args) > 0 {
		obj["args"] = e.Args
	}
	if e.OutputCase != "" {
		obj["output_case"] = ir.IRString(e.OutputCase)
	}
	if len(e.Result) > 0 {
		obj["result"] = e.Result
	}
	return obj
}

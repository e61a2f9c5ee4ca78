// Package harness runs scripted multi-device sessions against a shared
// database and checks their outcomes.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: pay_within_bank
//	description: "A member pays another out of their stipend"
//	device: laptop
//	setup:
//	  - action: User.create
//	    args: { as: alice, title: Alice }
//	flow:
//	  - invoke: Group.pay
//	    args: { group: coop, user: alice, to: bob, amount: "5" }
//	    expect:
//	      case: ok
//	      result: { payer: "5", payee: "5" }
//	assertions:
//	  - type: trace_count
//	    action: Group.pay
//	    count: 1
//	  - type: final_state
//	    table: members
//	    device: phone
//	    where: { group: coop, user: bob }
//	    expect: { balance: "5" }
//
// Steps name users, groups and invitations by alias. The "as" argument of
// a creating step binds an alias to the generated tag; later steps and
// assertions resolve it. Steps on different devices open separate sessions
// on the same database, and a Device.sync step applies what other devices
// wrote.
//
// # Assertion Types
//
//   - trace_contains: an action appears in the trace with matching args
//   - trace_order: actions appear in the specified order
//   - trace_count: an action appears exactly N times
//   - final_state: a user, group or member has the expected fields as a
//     device sees it
//
// # Deterministic Testing
//
// Every run starts a fake clock at testutil.Epoch and draws invitation
// secrets from a numbered sequence. Traces carry aliases, never tags, so
// they compare byte for byte against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/pay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness

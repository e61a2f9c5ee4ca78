package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/config"
	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/testutil"
)

// scryptWorkFactor keeps recovery-key sealing fast; scenarios never face
// an offline attacker.
const scryptWorkFactor = 10

// session is the state of one scenario run: the devices opened so far and
// the aliases steps have bound.
type session struct {
	path          string
	defaultDevice string
	clock         *testutil.FakeClock
	secrets       *testutil.SequenceSecrets
	logger        *slog.Logger

	devices     map[string]*app.App
	users       map[string]string
	groups      map[string]string
	invitations map[string]entity.Invitation
	seq         int64
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh database in a temporary directory. Every device
// named by a step opens its own session on it, so cross-device steps go
// through the change feed exactly as separate installations would. Time
// and invitation secrets are deterministic.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "mutual-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	s := &session{
		path:          filepath.Join(dir, "mutual.db"),
		defaultDevice: scenario.Device,
		clock:         testutil.NewFakeClock(testutil.Epoch),
		secrets:       testutil.NewSequenceSecrets("invite"),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices:       make(map[string]*app.App),
		users:         make(map[string]string),
		groups:        make(map[string]string),
		invitations:   make(map[string]entity.Invitation),
	}
	if s.defaultDevice == "" {
		s.defaultDevice = DefaultDevice
	}
	defer s.close()

	result := NewResult()
	if err := s.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := s.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, s) {
		result.AddError(msg)
	}
	return result, nil
}

func (s *session) close() {
	for name, a := range s.devices {
		if err := a.Close(); err != nil {
			s.logger.Warn("device close failed", "device", name, "error", err)
		}
	}
}

// device returns the session for name, opening it on first use.
func (s *session) device(ctx context.Context, name string) (*app.App, error) {
	name = s.deviceName(name)
	if a, ok := s.devices[name]; ok {
		return a, nil
	}
	cfg := config.Defaults()
	cfg.Database = s.path
	cfg.Device = name
	cfg.ScryptWorkFactor = scryptWorkFactor
	a, err := app.Open(ctx, app.Options{
		Config:  cfg,
		Clock:   s.clock,
		Secrets: s.secrets,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", name, err)
	}
	s.devices[name] = a
	return a, nil
}

func (s *session) deviceName(name string) string {
	if name == "" {
		return s.defaultDevice
	}
	return name
}

// outcome is what one action completed with.
type outcome struct {
	Case   string
	Result ir.IRObject
	Err    error
}

// step runs one action and traces it. The action's own failure is part of
// the outcome; the error return is for failures of the harness itself.
func (s *session) step(ctx context.Context, action, device string, raw map[string]any, result *Result) (outcome, error) {
	device = s.deviceName(device)
	args, err := convertArgsToIRObject(raw)
	if err != nil {
		return outcome{}, err
	}

	s.seq++
	result.AddInvocationTrace(action, device, args, s.seq)

	a, err := s.device(ctx, device)
	if err != nil {
		return outcome{}, err
	}
	out, runErr := actions[action](ctx, &call{s: s, app: a, device: device, args: args})
	o := outcome{Case: classify(runErr), Result: out, Err: runErr}

	s.seq++
	result.AddCompletionTrace(o.Case, o.Result, s.seq)

	s.logger.Info("step completed",
		"action", action,
		"device", device,
		"output_case", o.Case,
		"error", runErr,
	)
	return o, nil
}

// executeSetup runs the setup steps. They must all succeed.
func (s *session) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		o, err := s.step(ctx, step.Action, step.Device, step.Args, result)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if o.Case != CaseOK {
			return fmt.Errorf("setup step %d (%s): %s: %w", i, step.Action, o.Case, o.Err)
		}
	}
	return nil
}

// executeFlow runs the flow steps and checks each against its expect
// clause. A step without one must succeed.
func (s *session) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		o, err := s.step(ctx, step.Invoke, step.Device, step.Args, result)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		expectedCase := CaseOK
		if step.Expect != nil {
			expectedCase = step.Expect.Case
		}
		if o.Case != expectedCase {
			msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Invoke, expectedCase, o.Case)
			if o.Err != nil {
				msg += ": " + o.Err.Error()
			}
			result.AddError(msg)
			continue
		}

		if step.Expect == nil || len(step.Expect.Result) == 0 {
			continue
		}
		want, err := convertArgsToIRObject(step.Expect.Result)
		if err != nil {
			return fmt.Errorf("flow step %d: expected result: %w", i, err)
		}
		for _, mismatch := range subsetMismatches(want, o.Result) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, mismatch))
		}
	}
	return nil
}

// classify maps an action error to its output case.
func classify(err error) string {
	switch {
	case err == nil:
		return CaseOK
	case errors.Is(err, economy.ErrInsufficientFunds):
		return CaseInsufficientFunds
	case persist.IsInvalidArgument(err):
		return CaseInvalidArgument
	case persist.IsUnauthorized(err):
		return CaseUnauthorized
	case persist.IsConsistency(err):
		return CaseConsistency
	default:
		return CaseError
	}
}

// convertArgsToIRObject converts YAML-decoded arguments to IR values.
// Nulls and floats are rejected; canonical JSON carries neither.
func convertArgsToIRObject(args map[string]any) (ir.IRObject, error) {
	result := make(ir.IRObject, len(args))
	for key, val := range args {
		if val == nil {
			return nil, fmt.Errorf("field %q: null values are not allowed", key)
		}
		irVal, err := ir.FromAny(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

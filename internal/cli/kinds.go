package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/compiler"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/ir"
)

// KindsOptions holds flags for the kinds command.
type KindsOptions struct {
	*RootOptions
	Output string // output file path
}

// KindsResult holds the compiled kinds.
type KindsResult struct {
	Source string        `json:"source"`
	Kinds  []ir.KindSpec `json:"kinds"`
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KindsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "kinds [file.cue]",
		Short: "Compile and validate kind declarations",
		Long: `Compile the CUE declarations of the persisted kinds and validate them.

Without an argument the built-in declarations are checked. With a file,
that file is compiled instead, which is useful when editing kinds.

Example:
  mutual kinds
  mutual kinds ./kinds.cue --format json -o kinds.json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKinds(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled kinds as JSON to this file")

	return cmd
}

func runKinds(opts *KindsOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	source, src := "kinds.cue", entity.KindFile
	if len(args) == 1 {
		source = args[0]
		data, err := os.ReadFile(source)
		if err != nil {
			code := ErrCodeGeneric
			if errors.Is(err, os.ErrNotExist) {
				code = ErrCodeNotFound
			}
			_ = formatter.Error(code, fmt.Sprintf("reading %s: %v", source, err), nil)
			return WrapExitError(ExitCommandError, "failed to read kinds", err)
		}
		src = data
	}
	formatter.VerboseLog("Compiling %s", source)

	specs, err := compiler.CompileSource(source, src)
	if err != nil {
		return outputKindsErrors(formatter, []error{err})
	}
	if verrs := compiler.Validate(specs); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return outputKindsErrors(formatter, errs)
	}

	result := KindsResult{Source: source, Kinds: specs}
	if opts.Output != "" {
		if err := writeKinds(result, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to write kinds", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d kind(s) from %s\n\n", len(specs), source)
	for _, k := range specs {
		fmt.Fprintf(formatter.Writer, "  %s: %s store, %d public, %d private\n",
			k.Name, k.Store, len(k.Public), len(k.Private))
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote kinds to %s\n", opts.Output)
	}
	return nil
}

// outputKindsErrors reports compile or validation errors.
func outputKindsErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			cliErrors[i] = CLIError{Code: ErrCodeKinds, Message: err.Error()}
		}
		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}
		if err := json.NewEncoder(formatter.Writer).Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("kinds failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Kinds failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", ErrCodeKinds, err.Error())
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("kinds failed with %d error(s)", len(errs)))
}

func writeKinds(result KindsResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling kinds: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

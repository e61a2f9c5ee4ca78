package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is resolved before any subcommand runs: defaults, then the
	// file at ConfigPath, then flags set on the command line.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mutual CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mutual",
		Short: "mutual - groups, balances and messages on a local signed store",
		Long: `mutual keeps users, groups, balances and message histories in a
content-addressed, signed and partly encrypted SQLite store. Several devices
may share one database; each acts under its own device keys.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return WrapExitError(ExitCommandError, "invalid flags", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	config.BindFlags(pf)

	cmd.AddCommand(NewKindsCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewGroupCommand(opts))
	cmd.AddCommand(NewPayCommand(opts))
	cmd.AddCommand(NewMessageCommand(opts))
	cmd.AddCommand(NewInviteCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

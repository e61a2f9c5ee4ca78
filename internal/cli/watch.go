package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	As []string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply other devices' writes as they land",
		Long: `Keep a session open and apply writes made by other devices sharing the
database to this device's live users and groups, until interrupted.

Users named with --as are opened first so their groups stay current.

Example:
  mutual watch --db ./shared.db --device laptop --as 3f9c...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.As, "as", nil, "tag of a user to open (repeatable)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(parentCtx context.Context, a *app.App, f *OutputFormatter) error {
		for _, tag := range opts.As {
			if _, err := a.Realm.Open(parentCtx, tag); err != nil {
				return f.Fail("open user", err)
			}
			f.VerboseLog("Opened user %s", tag)
		}

		ctx, cancel := context.WithCancel(parentCtx)
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		fmt.Fprintf(f.GetErrWriter(), "Watching %s as device %s. Press Ctrl-C to stop.\n",
			opts.Config.Database, opts.Config.Device)

		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		return nil
	})
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/ir"
)

// UserOptions holds flags for the user commands.
type UserOptions struct {
	*RootOptions
	Title    string
	Picture  string
	Question string
	Answer   string
	Name     string // device name for deauthorize
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create, inspect and manage users",
		Long: `Manage user identities on this device.

A user is created on one device and may be recovered on others with the
answer to its security question. Every device acting for the user holds
the user's keys.`,
	}

	cmd.AddCommand(newUserCreateCommand(rootOpts))
	cmd.AddCommand(newUserShowCommand(rootOpts))
	cmd.AddCommand(newUserEditCommand(rootOpts))
	cmd.AddCommand(newUserRecoverCommand(rootOpts))
	cmd.AddCommand(newUserDeauthorizeCommand(rootOpts))
	cmd.AddCommand(newUserDestroyCommand(rootOpts))

	return cmd
}

func newUserCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user owned by this device",
		Long: `Create a user together with its personal bank group.

Example:
  mutual user create --title Alice --question "First pet?" --answer Rex`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "display name")
	cmd.Flags().StringVar(&opts.Picture, "picture", "", "picture reference")
	addAnswerFlags(cmd, &opts.Question, &opts.Answer)

	return cmd
}

func runUserCreate(opts *UserOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.CreateUser(ctx, entity.UserOptions{
			Title:    opts.Title,
			Picture:  opts.Picture,
			Question: opts.Question,
			Answer:   opts.Answer,
			Device:   opts.Config.Device,
		})
		if err != nil {
			return f.Fail("create user", err)
		}
		return f.Success(userView(u))
	})
}

func newUserShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:           "show <user>",
		Short:         "Show a user",
		Long:          `Show a user's public fields, and its private fields when this device owns it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserShow(opts, args[0], cmd)
		},
	}
}

func runUserShow(opts *UserOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.User(ctx, tag)
		if err != nil {
			return f.Fail("show user", err)
		}
		return f.Success(userView(u))
	})
}

func newUserEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "edit <user>",
		Short:         "Change a user's title or picture",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "new display name")
	cmd.Flags().StringVar(&opts.Picture, "picture", "", "new picture reference")
	cmd.MarkFlagsOneRequired("title", "picture")

	return cmd
}

func runUserEdit(opts *UserOptions, tag string, cmd *cobra.Command) error {
	changes := make(map[string]ir.IRValue)
	if cmd.Flags().Changed("title") {
		changes["title"] = ir.IRString(opts.Title)
	}
	if cmd.Flags().Changed("picture") {
		changes["picture"] = ir.IRString(opts.Picture)
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.Open(ctx, tag)
		if err != nil {
			return f.Fail("open user", err)
		}
		if err := u.Edit(ctx, changes); err != nil {
			return f.Fail("edit user", err)
		}
		return f.Success(userView(u))
	})
}

func newUserRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover <user>",
		Short: "Authorize this device for an existing user",
		Long: `Unseal a user's keys with the answer to its security question and add
this device to the user's devices.

Example:
  mutual user recover 3f9c... --device phone --question "First pet?" --answer Rex`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserRecover(opts, args[0], cmd)
		},
	}

	addAnswerFlags(cmd, &opts.Question, &opts.Answer)

	return cmd
}

func runUserRecover(opts *UserOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.RecoverUser(ctx, tag, opts.Question, opts.Answer, opts.Config.Device)
		if err != nil {
			return f.Fail("recover user", err)
		}
		return f.Success(userView(u))
	})
}

func newUserDeauthorizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "deauthorize <user>",
		Short:         "Remove a device from a user",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDeauthorize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the device to remove (required)")
	_ = cmd.MarkFlagRequired("name")
	addAnswerFlags(cmd, &opts.Question, &opts.Answer)

	return cmd
}

func runUserDeauthorize(opts *UserOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.Open(ctx, tag)
		if err != nil {
			return f.Fail("open user", err)
		}
		if err := u.Deauthorize(ctx, opts.Question, opts.Answer, opts.Name); err != nil {
			return f.Fail("deauthorize device", err)
		}
		return f.Success(userView(u))
	})
}

func newUserDestroyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "destroy <user>",
		Short: "Destroy a user",
		Long: `Leave every group the user belongs to and delete the user's records.
The answer to the security question is required.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDestroy(opts, args[0], cmd)
		},
	}

	addAnswerFlags(cmd, &opts.Question, &opts.Answer)

	return cmd
}

// DestroyedView confirms a deletion.
type DestroyedView struct {
	Tag       string `json:"tag"`
	Destroyed bool   `json:"destroyed"`
}

func (v DestroyedView) String() string { return "Destroyed " + v.Tag }

func runUserDestroy(opts *UserOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.Open(ctx, tag)
		if err != nil {
			return f.Fail("open user", err)
		}
		if err := u.Destroy(ctx, opts.Question, opts.Answer); err != nil {
			return f.Fail("destroy user", err)
		}
		return f.Success(DestroyedView{Tag: tag, Destroyed: true})
	})
}

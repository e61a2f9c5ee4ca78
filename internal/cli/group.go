package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/ir"
)

// GroupOptions holds flags for the group commands.
type GroupOptions struct {
	*RootOptions
	As          string
	Name        string
	Picture     string
	Members     []string
	PrivateOnly bool
}

// NewGroupCommand creates the group command group.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create groups and manage membership, votes and balances",
		Long: `Manage groups as one of this device's users.

Every group command acts as the user named by --as, which must be owned
by this device.`,
	}

	cmd.AddCommand(newGroupCreateCommand(rootOpts))
	cmd.AddCommand(newGroupShowCommand(rootOpts))
	cmd.AddCommand(newGroupJoinCommand(rootOpts))
	cmd.AddCommand(newGroupLeaveCommand(rootOpts))
	cmd.AddCommand(newGroupAdmitCommand(rootOpts))
	cmd.AddCommand(newGroupEditCommand(rootOpts))
	cmd.AddCommand(newGroupVoteCommand(rootOpts))
	cmd.AddCommand(newGroupUnvoteCommand(rootOpts))
	cmd.AddCommand(newGroupBalanceCommand(rootOpts))

	return cmd
}

func newGroupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		Long: `Create a group founded by --as. Users named with --member are admitted
to the group's team and listed as members.

Example:
  mutual group create --as 3f9c... --name "Co-op" --member 81ad...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupCreate(opts, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)
	cmd.Flags().StringVar(&opts.Name, "name", "", "group name")
	cmd.Flags().StringVar(&opts.Picture, "picture", "", "picture reference")
	cmd.Flags().StringArrayVar(&opts.Members, "member", nil, "tag of a user to add (repeatable)")
	cmd.Flags().BoolVar(&opts.PrivateOnly, "private", false, "keep no public record of the group")

	return cmd
}

func runGroupCreate(opts *GroupOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		founder, err := a.Realm.Open(ctx, opts.As)
		if err != nil {
			return f.Fail("open user", err)
		}
		g, err := a.Realm.CreateGroup(ctx, founder, entity.GroupOptions{
			Name:        opts.Name,
			Picture:     opts.Picture,
			PrivateOnly: opts.PrivateOnly,
			Members:     opts.Members,
		})
		if err != nil {
			return f.Fail("create group", err)
		}
		return f.Success(groupView(g))
	})
}

func newGroupShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "show <group>",
		Short:         "Show a group",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupShow(opts, args[0], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupShow(opts *GroupOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		_, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		return f.Success(groupView(g))
	})
}

func newGroupJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <group>",
		Short: "Join a group the user was admitted to",
		Long: `Add --as to the group's member list and open its balance. The user must
already be on the group's team; see "group admit".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupJoin(opts, args[0], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupJoin(opts *GroupOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := u.AdoptGroup(ctx, g); err != nil {
			return f.Fail("join group", err)
		}
		return f.Success(groupView(g))
	})
}

func newGroupLeaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "leave <group>",
		Short:         "Drop a group from the user's list",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupLeave(opts, args[0], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupLeave(opts *GroupOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := u.AbandonGroup(ctx, g); err != nil {
			return f.Fail("leave group", err)
		}
		return f.Success(userView(u))
	})
}

func newGroupAdmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "admit <group> <user>",
		Short:         "Add a user to a group's team",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupAdmit(opts, args[0], args[1], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

// AdmittedView confirms an admission.
type AdmittedView struct {
	Group string `json:"group"`
	User  string `json:"user"`
}

func (v AdmittedView) String() string { return fmt.Sprintf("Admitted %s to %s", v.User, v.Group) }

func runGroupAdmit(opts *GroupOptions, tag, user string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := g.Admit(ctx, u, user); err != nil {
			return f.Fail("admit user", err)
		}
		return f.Success(AdmittedView{Group: tag, User: user})
	})
}

func newGroupEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "edit <group>",
		Short:         "Rename a group or change its picture",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupEdit(opts, args[0], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)
	cmd.Flags().StringVar(&opts.Name, "name", "", "new name")
	cmd.Flags().StringVar(&opts.Picture, "picture", "", "new picture reference")
	cmd.MarkFlagsOneRequired("name", "picture")

	return cmd
}

func runGroupEdit(opts *GroupOptions, tag string, cmd *cobra.Command) error {
	changes := make(map[string]ir.IRValue)
	if cmd.Flags().Changed("name") {
		changes["name"] = ir.IRString(opts.Name)
	}
	if cmd.Flags().Changed("picture") {
		changes["picture"] = ir.IRString(opts.Picture)
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := g.Edit(ctx, u, changes); err != nil {
			return f.Fail("edit group", err)
		}
		return f.Success(groupView(g))
	})
}

// parseParameter maps a command argument to a voted parameter.
func parseParameter(s string) (entity.Parameter, error) {
	switch s {
	case "rate", string(entity.ParamRate):
		return entity.ParamRate, nil
	case "stipend", string(entity.ParamStipend):
		return entity.ParamStipend, nil
	}
	return "", fmt.Errorf("unknown parameter %q: must be rate or stipend", s)
}

func newGroupVoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vote <group> <rate|stipend> <amount>",
		Short: "Vote on a group's rate or stipend",
		Long: `Record the acting user's vote. A group's rate and stipend are the means
of its current members' votes.

Example:
  mutual group vote 77e0... stipend 10 --as 3f9c...`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupVote(opts, args, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupVote(opts *GroupOptions, args []string, cmd *cobra.Command) error {
	p, err := parseParameter(args[1])
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	amount, err := economy.ParseAmount(args[2])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, args[0])
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := g.Vote(ctx, u, p, amount); err != nil {
			return f.Fail("vote", err)
		}
		return f.Success(groupView(g))
	})
}

func newGroupUnvoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "unvote <group> <rate|stipend>",
		Short:         "Withdraw a vote",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupUnvote(opts, args, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupUnvote(opts *GroupOptions, args []string, cmd *cobra.Command) error {
	p, err := parseParameter(args[1])
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, args[0])
		if err != nil {
			return f.Fail("open group", err)
		}
		if err := g.Unvote(ctx, u, p); err != nil {
			return f.Fail("unvote", err)
		}
		return f.Success(groupView(g))
	})
}

func newGroupBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "balance <group> [user]",
		Short: "Show a member's balance",
		Long: `Show the balance of a user in a group. Without a user, the acting user's
own balance is shown.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupBalance(opts, args, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runGroupBalance(opts *GroupOptions, args []string, cmd *cobra.Command) error {
	user := opts.As
	if len(args) == 2 {
		user = args[1]
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		_, g, err := openGroup(ctx, a, opts.As, args[0])
		if err != nil {
			return f.Fail("open group", err)
		}
		m, err := g.Member(ctx, user)
		if err != nil {
			return f.Fail("read balance", err)
		}
		return f.Success(memberView(g.Tag(), user, m))
	})
}

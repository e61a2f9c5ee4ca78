package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/entity"
)

// InviteOptions holds flags for the invite commands.
type InviteOptions struct {
	*RootOptions
	As       string
	Bank     string
	Title    string
	Picture  string
	Question string
	Answer   string
}

// InvitationView is an invitation as it is handed to the invitee.
type InvitationView struct {
	Tag    string `json:"tag"`
	Secret string `json:"secret"`
	Bank   string `json:"bank"`
}

func (v InvitationView) String() string {
	return fmt.Sprintf("Invitation %s\n  secret: %s\n  bank:   %s", v.Tag, v.Secret, v.Bank)
}

// NewInviteCommand creates the invite command group.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Invite new users and claim invitations",
		Long: `An invitation prepares an identity for someone who has none yet. The
invitee claims it on their own device with the invitation's tag and secret.`,
	}

	cmd.AddCommand(newInviteCreateCommand(rootOpts))
	cmd.AddCommand(newInviteClaimCommand(rootOpts))

	return cmd
}

func newInviteCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InviteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create an invitation into a bank group",
		Example:       `  mutual invite create --as 3f9c... --bank 77e0...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInviteCreate(opts, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)
	cmd.Flags().StringVar(&opts.Bank, "bank", "", "bank group the invitee joins (required)")
	_ = cmd.MarkFlagRequired("bank")

	return cmd
}

func runInviteCreate(opts *InviteOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		inviter, bank, err := openGroup(ctx, a, opts.As, opts.Bank)
		if err != nil {
			return f.Fail("open bank", err)
		}
		inv, err := a.Realm.CreateInvitation(ctx, inviter, bank)
		if err != nil {
			return f.Fail("create invitation", err)
		}
		return f.Success(InvitationView{Tag: inv.Tag, Secret: inv.Secret, Bank: bank.Tag()})
	})
}

func newInviteClaimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InviteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "claim <tag> <secret>",
		Short: "Claim an invitation on this device",
		Long: `Take ownership of an invited identity. The new user's title and security
question are set here.

Example:
  mutual invite claim 5b21... 0c7f... --title Bob --question "Home town?" --answer Lyon`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInviteClaim(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "display name")
	cmd.Flags().StringVar(&opts.Picture, "picture", "", "picture reference")
	addAnswerFlags(cmd, &opts.Question, &opts.Answer)

	return cmd
}

func runInviteClaim(opts *InviteOptions, tag, secret string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, err := a.Realm.ClaimInvitation(ctx, entity.Invitation{Tag: tag, Secret: secret}, entity.UserOptions{
			Title:    opts.Title,
			Picture:  opts.Picture,
			Question: opts.Question,
			Answer:   opts.Answer,
			Device:   opts.Config.Device,
		})
		if err != nil {
			return f.Fail("claim invitation", err)
		}
		return f.Success(userView(u))
	})
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/economy"
)

// PayOptions holds flags for the pay command.
type PayOptions struct {
	*RootOptions
	As string
}

// PaymentView reports a payment and both resulting balances.
type PaymentView struct {
	Message MessageView `json:"message"`
	Payer   MemberView  `json:"payer"`
	Payee   MemberView  `json:"payee"`
}

func (v PaymentView) String() string {
	return fmt.Sprintf("✓ Paid %s\n  %s\n  %s", v.Message.Amount, v.Payer, v.Payee)
}

// NewPayCommand creates the pay command.
func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pay <group> <payee> <amount>",
		Short: "Pay another member of a group",
		Long: `Move amount from --as to payee within a group. Both balances accrue the
current stipend first, and the payer is charged the group's rate on top of
the amount. The payment is recorded in the group's history.

Example:
  mutual pay 77e0... 81ad... 12.5 --as 3f9c...`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPay(opts, args, cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runPay(opts *PayOptions, args []string, cmd *cobra.Command) error {
	groupTag, payeeTag := args[0], args[1]
	amount, err := economy.ParseAmount(args[2])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		payer, g, err := openGroup(ctx, a, opts.As, groupTag)
		if err != nil {
			return f.Fail("open group", err)
		}
		payee, err := a.Realm.User(ctx, payeeTag)
		if err != nil {
			return f.Fail("open payee", err)
		}
		f.VerboseLog("Paying %s from %s to %s in %s", amount, payer.Tag(), payee.Tag(), g.Tag())

		msg, err := g.Pay(ctx, payer, payee, amount)
		if err != nil {
			return f.Fail("pay", err)
		}
		from, err := g.Member(ctx, payer.Tag())
		if err != nil {
			return f.Fail("read balance", err)
		}
		to, err := g.Member(ctx, payee.Tag())
		if err != nil {
			return f.Fail("read balance", err)
		}
		return f.Success(PaymentView{
			Message: messageView(msg),
			Payer:   memberView(g.Tag(), payer.Tag(), from),
			Payee:   memberView(g.Tag(), payee.Tag(), to),
		})
	})
}

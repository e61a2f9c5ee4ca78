package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
)

// MessageOptions holds flags for the message commands.
type MessageOptions struct {
	*RootOptions
	As string
}

// NewMessageCommand creates the message command group.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and list group messages",
	}

	cmd.AddCommand(newMessageSendCommand(rootOpts))
	cmd.AddCommand(newMessageListCommand(rootOpts))

	return cmd
}

func newMessageSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "send <group> <text>",
		Short:         "Append a text message to a group's history",
		Example:       `  mutual message send 77e0... "see you at noon" --as 3f9c...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessageSend(opts, args[0], args[1], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runMessageSend(opts *MessageOptions, tag, text string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		u, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		msg, err := g.Send(ctx, u, text)
		if err != nil {
			return f.Fail("send message", err)
		}
		return f.Success(messageView(msg))
	})
}

func newMessageListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list <group>",
		Short:         "List a group's history, oldest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessageList(opts, args[0], cmd)
		},
	}

	addAsFlag(cmd, &opts.As)

	return cmd
}

func runMessageList(opts *MessageOptions, tag string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app.App, f *OutputFormatter) error {
		_, g, err := openGroup(ctx, a, opts.As, tag)
		if err != nil {
			return f.Fail("open group", err)
		}
		msgs, err := g.Messages(ctx)
		if err != nil {
			return f.Fail("read messages", err)
		}
		list := make(MessageList, len(msgs))
		for i, m := range msgs {
			list[i] = messageView(m)
		}
		return f.Success(list)
	})
}

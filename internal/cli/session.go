package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/entity"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// withApp opens this device's session, runs fn and closes the session.
// An error from fn is reported through the formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app.App, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.Open(ctx, app.Options{
		Config: opts.Config,
		Logger: opts.Config.Logger(cmd.ErrOrStderr(), opts.Verbose),
	})
	if err != nil {
		if outErr := f.Error(ErrCodeConfig, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer a.Close()

	f.VerboseLog("Opened %s as device %s", opts.Config.Database, opts.Config.Device)
	return fn(ctx, a, f)
}

// addAsFlag registers the --as flag naming the acting user.
func addAsFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "as", "", "tag of the user to act as (required)")
	_ = cmd.MarkFlagRequired("as")
}

// addAnswerFlags registers the security question flags.
func addAnswerFlags(cmd *cobra.Command, question, answer *string) {
	cmd.Flags().StringVar(question, "question", "", "security question")
	cmd.Flags().StringVar(answer, "answer", "", "answer to the security question")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
}

// UserView is a user as commands print it.
type UserView struct {
	Tag     string   `json:"tag"`
	Title   string   `json:"title"`
	Picture string   `json:"picture,omitempty"`
	Devices []string `json:"devices,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Bank    string   `json:"bank,omitempty"`
	Owned   bool     `json:"owned"`
}

func userView(u *entity.User) UserView {
	return UserView{
		Tag:     u.Tag(),
		Title:   u.Title(nil),
		Picture: u.Picture(nil),
		Devices: slices.Sorted(maps.Keys(u.Devices(nil))),
		Groups:  u.Groups(nil),
		Bank:    u.Bank(nil),
		Owned:   u.Owned(nil),
	}
}

func (v UserView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %s\n", v.Tag)
	fmt.Fprintf(&b, "  title:   %s\n", v.Title)
	if v.Owned {
		fmt.Fprintf(&b, "  devices: %s\n", strings.Join(v.Devices, ", "))
		fmt.Fprintf(&b, "  groups:  %d\n", len(v.Groups))
		if v.Bank != "" {
			fmt.Fprintf(&b, "  bank:    %s\n", v.Bank)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// GroupView is a group as commands print it.
type GroupView struct {
	Tag         string   `json:"tag"`
	Title       string   `json:"title"`
	Name        string   `json:"name,omitempty"`
	Members     []string `json:"members,omitempty"`
	Rate        string   `json:"rate,omitempty"`
	Stipend     string   `json:"stipend,omitempty"`
	PrivateOnly bool     `json:"private_only,omitempty"`
}

func groupView(g *entity.Group) GroupView {
	v := GroupView{
		Tag:         g.Tag(),
		Title:       g.Title(nil),
		Name:        g.Name(nil),
		Members:     g.Members(nil),
		PrivateOnly: g.PrivateOnly(),
	}
	if rate, ok := g.Rate(nil); ok {
		v.Rate = rate.String()
	}
	if stipend, ok := g.Stipend(nil); ok {
		v.Stipend = stipend.String()
	}
	return v
}

func (v GroupView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Group %s\n", v.Tag)
	fmt.Fprintf(&b, "  title:   %s\n", v.Title)
	fmt.Fprintf(&b, "  members: %d\n", len(v.Members))
	if v.Rate != "" {
		fmt.Fprintf(&b, "  rate:    %s\n", v.Rate)
	}
	if v.Stipend != "" {
		fmt.Fprintf(&b, "  stipend: %s\n", v.Stipend)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// MemberView is one user's balance in one group.
type MemberView struct {
	Group       string `json:"group"`
	User        string `json:"user"`
	Balance     string `json:"balance"`
	LastStipend string `json:"last_stipend,omitempty"`
}

func memberView(group, user string, m *entity.Member) MemberView {
	v := MemberView{Group: group, User: user, Balance: m.Balance(nil).String()}
	if last := m.LastStipend(nil); !last.IsZero() {
		v.LastStipend = last.Format(time.RFC3339)
	}
	return v
}

func (v MemberView) String() string {
	return fmt.Sprintf("%s in %s: %s", v.User, v.Group, v.Balance)
}

// MessageView is one history entry.
type MessageView struct {
	Hash      string `json:"hash"`
	Author    string `json:"author"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Timestamp string `json:"timestamp"`
}

func messageView(m *entity.Message) MessageView {
	v := MessageView{
		Hash:      m.Hash(),
		Author:    m.Author(nil),
		Type:      m.Type(nil),
		Text:      m.Text(nil),
		Timestamp: m.Timestamp(nil).Format(time.RFC3339),
	}
	if v.Type == entity.MessagePayment {
		v.Amount = m.Amount(nil).String()
	}
	return v
}

func (v MessageView) String() string {
	if v.Type == entity.MessagePayment {
		return fmt.Sprintf("%s %s paid %s to %s", v.Timestamp, v.Author, v.Amount, v.Text)
	}
	return fmt.Sprintf("%s %s: %s", v.Timestamp, v.Author, v.Text)
}

// MessageList prints one message per line.
type MessageList []MessageView

func (l MessageList) String() string {
	if len(l) == 0 {
		return "No messages."
	}
	lines := make([]string, len(l))
	for i, m := range l {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}

// openGroup opens the acting user, then resolves the group through the
// user's adopted instances so its private half is readable.
func openGroup(ctx context.Context, a *app.App, as, tag string) (*entity.User, *entity.Group, error) {
	u, err := a.Realm.Open(ctx, as)
	if err != nil {
		return nil, nil, err
	}
	if g, ok := a.Realm.Groups.Lookup(nil, tag); ok {
		return u, g, nil
	}
	g, err := a.Realm.Group(ctx, tag)
	if err != nil {
		return nil, nil, err
	}
	return u, g, nil
}

package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mutual/internal/store"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	After      int64
	Limit      int
	Collection string // optional - filter to one collection
	Origin     string // optional - filter to one device
}

// ChangeEvent is one feed entry as printed.
type ChangeEvent struct {
	Seq        int64  `json:"seq"`
	Collection string `json:"collection"`
	Tag        string `json:"tag"`
	Hash       string `json:"hash,omitempty"`
	Op         string `json:"op"`
	Origin     string `json:"origin"`
}

// ChangesResult holds the listed feed entries.
type ChangesResult struct {
	After   int64         `json:"after"`
	LastSeq int64         `json:"last_seq"`
	Changes []ChangeEvent `json:"changes"`
	Stats   ChangesStats  `json:"stats"`
}

// ChangesStats holds summary counts for the listed entries.
type ChangesStats struct {
	Total        int            `json:"total"`
	ByCollection map[string]int `json:"by_collection"`
	ByOrigin     map[string]int `json:"by_origin"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List the database's change feed",
		Long: `List the writes recorded in the change feed, oldest first.

Each entry names the collection and tag written, the operation and the
device that wrote it. Other devices' engines consume this feed.

Examples:
  mutual changes --db ./shared.db
  mutual changes --db ./shared.db --after 120 --collection members
  mutual changes --db ./shared.db --origin phone --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only entries with a greater seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to read (0 for all)")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "filter to one collection")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "filter to one writing device")

	return cmd
}

func runChanges(opts *ChangesOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	changes, err := st.Changes(ctx, opts.After, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}
	last, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}

	result := ChangesResult{
		After:   opts.After,
		LastSeq: last,
		Changes: filterChanges(changes, opts.Collection, opts.Origin),
	}
	result.Stats = changesStats(result.Changes)

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputChangesText(formatter.Writer, result, opts.Verbose)
}

// filterChanges keeps entries matching the non-empty filters.
func filterChanges(changes []store.Change, collection, origin string) []ChangeEvent {
	events := []ChangeEvent{}
	for _, c := range changes {
		if collection != "" && c.Collection != collection {
			continue
		}
		if origin != "" && c.Origin != origin {
			continue
		}
		events = append(events, ChangeEvent{
			Seq:        c.Seq,
			Collection: c.Collection,
			Tag:        c.Tag,
			Hash:       c.Hash,
			Op:         string(c.Op),
			Origin:     c.Origin,
		})
	}
	return events
}

func changesStats(events []ChangeEvent) ChangesStats {
	stats := ChangesStats{
		Total:        len(events),
		ByCollection: make(map[string]int),
		ByOrigin:     make(map[string]int),
	}
	for _, e := range events {
		stats.ByCollection[e.Collection]++
		stats.ByOrigin[e.Origin]++
	}
	return stats
}

func outputChangesText(w io.Writer, result ChangesResult, verbose bool) error {
	fmt.Fprintf(w, "Changes after %d (last seq %d)\n\n", result.After, result.LastSeq)

	fmt.Fprintln(w, "=== Feed ===")
	if len(result.Changes) == 0 {
		fmt.Fprintln(w, "  (no changes)")
	}
	for _, e := range result.Changes {
		fmt.Fprintf(w, "  [%d] %-6s %s/%s by %s\n", e.Seq, strings.ToUpper(e.Op), e.Collection, truncateID(e.Tag), e.Origin)
		if verbose && e.Hash != "" {
			fmt.Fprintf(w, "       Hash: %s\n", e.Hash)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total: %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Collections: %s\n", formatCounts(result.Stats.ByCollection))
	fmt.Fprintf(w, "  Origins:     %s\n", formatCounts(result.Stats.ByOrigin))
	return nil
}

// formatCounts renders counts with sorted keys for deterministic output.
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

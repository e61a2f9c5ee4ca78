package persist

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/tracked"
)

// PersistToSet appends v to host's history and files it in set under its
// version hash.
//
// v's record must be tagged with host and backed by a versioned store. The
// store's address must come back as host; anything else is a consistency
// error. Afterwards v is retagged with the new head hash.
func PersistToSet[T Entity](ctx context.Context, v T, set *tracked.Collection[string, T], host, author string) (string, error) {
	rec := v.Record()
	versioned, ok := rec.stores.Public.(collection.Versioned)
	if !ok {
		return "", InvalidArgument("persist to set", host, "%s is not versioned", rec.kind.Name)
	}

	addr, err := rec.Persist(ctx, author)
	if err != nil {
		return "", err
	}
	if addr != host {
		rec.logger.Error("history entry drifted from its host", "kind", rec.kind.Name, "host", host, "address", addr)
		return "", &Error{
			Code: CodeConsistency,
			Op:   "persist to set",
			Tag:  host,
			Err:  fmt.Errorf("stored under %q", addr),
		}
	}

	head, err := versioned.Root(ctx, host)
	if err != nil {
		return "", err
	}
	rec.Retag(head)
	set.Set(head, v)
	return head, nil
}

// Chain walks a history from head back through antecedent links. The
// result is newest first; use Chronological for display order.
func Chain[T any](ctx context.Context, head string, fetch func(ctx context.Context, hash string) (T, error), antecedent func(T) string) ([]T, error) {
	var out []T
	seen := make(map[string]bool)
	for hash := head; hash != ""; {
		if seen[hash] {
			return out, &Error{Code: CodeConsistency, Op: "chain", Tag: hash, Err: fmt.Errorf("antecedent loop")}
		}
		seen[hash] = true

		v, err := fetch(ctx, hash)
		if err != nil {
			return out, err
		}
		out = append(out, v)
		hash = antecedent(v)
	}
	return out, nil
}

// Chronological returns a reversed copy of a Chain result.
func Chronological[T any](chain []T) []T {
	out := slices.Clone(chain)
	slices.Reverse(out)
	return out
}

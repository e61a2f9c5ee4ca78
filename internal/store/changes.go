package store

import (
	"context"
	"fmt"
)

// ChangeOp names the kind of write a change row records.
type ChangeOp string

const (
	OpStore  ChangeOp = "store"
	OpRemove ChangeOp = "remove"
	OpAppend ChangeOp = "append"
)

// Change is one entry of the feed. For OpAppend, Tag is the stream and Hash
// the new version.
type Change struct {
	Seq        int64
	Collection string
	Tag        string
	Hash       string
	Op         ChangeOp
	Origin     string
}

// Changes returns feed entries with seq greater than after, oldest first.
// limit <= 0 means no limit.
func (s *Store) Changes(ctx context.Context, after int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, collection, tag, hash, op, origin
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var op string
		if err := rows.Scan(&c.Seq, &c.Collection, &c.Tag, &c.Hash, &op, &c.Origin); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Op = ChangeOp(op)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// LastSeq returns the newest feed seq, or 0 for an empty feed.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

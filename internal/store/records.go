package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Record is a stored signed envelope.
type Record struct {
	Collection string
	Tag        string
	Owner      string
	Author     string
	Envelope   []byte
	Seq        int64
	Origin     string
}

// PutRecord inserts or replaces the record at (Collection, Tag) and appends
// a store change. Seq and Origin are assigned here and returned.
func (s *Store) PutRecord(ctx context.Context, r Record) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("put record: begin tx: %w", err)
	}
	defer tx.Rollback()

	r.Origin = s.origin
	seq, err := appendChange(ctx, tx, Change{
		Collection: r.Collection,
		Tag:        r.Tag,
		Op:         OpStore,
		Origin:     r.Origin,
	})
	if err != nil {
		return Record{}, fmt.Errorf("put record: %w", err)
	}
	r.Seq = seq

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (collection, tag, owner, author, envelope, seq, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, tag) DO UPDATE SET
			owner = excluded.owner,
			author = excluded.author,
			envelope = excluded.envelope,
			seq = excluded.seq,
			origin = excluded.origin
	`, r.Collection, r.Tag, r.Owner, r.Author, string(r.Envelope), r.Seq, r.Origin)
	if err != nil {
		return Record{}, fmt.Errorf("put record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("put record: commit: %w", err)
	}
	s.publish()
	return r, nil
}

// GetRecord returns the record at (collection, tag), or nil if absent.
func (s *Store) GetRecord(ctx context.Context, collection, tag string) (*Record, error) {
	r := Record{Collection: collection, Tag: tag}
	var envelope string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, author, envelope, seq, origin
		FROM records
		WHERE collection = ? AND tag = ?
	`, collection, tag).Scan(&r.Owner, &r.Author, &envelope, &r.Seq, &r.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	r.Envelope = []byte(envelope)
	return &r, nil
}

// DeleteRecord removes the record at (collection, tag). It reports whether
// a row existed; a remove change is appended only when one did.
func (s *Store) DeleteRecord(ctx context.Context, collection, tag string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete record: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND tag = ?`, collection, tag)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := appendChange(ctx, tx, Change{
		Collection: collection,
		Tag:        tag,
		Op:         OpRemove,
		Origin:     s.origin,
	}); err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete record: commit: %w", err)
	}
	s.publish()
	return true, nil
}

// ListRecords returns the tags stored in collection in seq order.
func (s *Store) ListRecords(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM records
		WHERE collection = ?
		ORDER BY seq ASC, tag COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

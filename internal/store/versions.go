package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStaleHead is returned by AppendVersion when the stream head moved
// since the caller read it.
var ErrStaleHead = errors.New("stale stream head")

// Version is one entry of an append-only history.
type Version struct {
	Collection string
	Stream     string
	Hash       string
	Antecedent string
	Author     string
	Envelope   []byte
	Seq        int64
	Origin     string
}

// AppendVersion adds v to its stream and advances the head to v.Hash.
// v.Antecedent must equal the current head ("" for an empty stream).
// Re-appending an existing hash is a no-op.
func (s *Store) AppendVersion(ctx context.Context, v Version) (Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("append version: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM versions WHERE collection = ? AND hash = ?
	`, v.Collection, v.Hash).Scan(&exists)
	if err != nil {
		return Version{}, fmt.Errorf("append version: %w", err)
	}
	if exists > 0 {
		return v, nil
	}

	head, err := headTx(ctx, tx, v.Collection, v.Stream)
	if err != nil {
		return Version{}, fmt.Errorf("append version: %w", err)
	}
	if head != v.Antecedent {
		return Version{}, fmt.Errorf("append version %s: head is %q, antecedent %q: %w", v.Stream, head, v.Antecedent, ErrStaleHead)
	}

	v.Origin = s.origin
	seq, err := appendChange(ctx, tx, Change{
		Collection: v.Collection,
		Tag:        v.Stream,
		Hash:       v.Hash,
		Op:         OpAppend,
		Origin:     v.Origin,
	})
	if err != nil {
		return Version{}, fmt.Errorf("append version: %w", err)
	}
	v.Seq = seq

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO versions (collection, stream, hash, antecedent, author, envelope, seq, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.Collection, v.Stream, v.Hash, v.Antecedent, v.Author, string(v.Envelope), v.Seq, v.Origin); err != nil {
		return Version{}, fmt.Errorf("append version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO heads (collection, stream, hash) VALUES (?, ?, ?)
		ON CONFLICT(collection, stream) DO UPDATE SET hash = excluded.hash
	`, v.Collection, v.Stream, v.Hash); err != nil {
		return Version{}, fmt.Errorf("append version: advance head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("append version: commit: %w", err)
	}
	s.publish()
	return v, nil
}

// Head returns the current head hash of a stream, or "" if it has none.
func (s *Store) Head(ctx context.Context, collection, stream string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM heads WHERE collection = ? AND stream = ?
	`, collection, stream).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	return hash, nil
}

func headTx(ctx context.Context, tx *sql.Tx, collection, stream string) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx, `
		SELECT hash FROM heads WHERE collection = ? AND stream = ?
	`, collection, stream).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// GetVersion returns the entry with the given hash, or nil if absent.
func (s *Store) GetVersion(ctx context.Context, collection, hash string) (*Version, error) {
	v := Version{Collection: collection, Hash: hash}
	var envelope string
	err := s.db.QueryRowContext(ctx, `
		SELECT stream, antecedent, author, envelope, seq, origin
		FROM versions
		WHERE collection = ? AND hash = ?
	`, collection, hash).Scan(&v.Stream, &v.Antecedent, &v.Author, &envelope, &v.Seq, &v.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	v.Envelope = []byte(envelope)
	return &v, nil
}

// DeleteStream removes every entry of a stream and its head.
func (s *Store) DeleteStream(ctx context.Context, collection, stream string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete stream: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection = ? AND stream = ?`, collection, stream)
	if err != nil {
		return false, fmt.Errorf("delete stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete stream: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM heads WHERE collection = ? AND stream = ?`, collection, stream); err != nil {
		return false, fmt.Errorf("delete stream: %w", err)
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := appendChange(ctx, tx, Change{
		Collection: collection,
		Tag:        stream,
		Op:         OpRemove,
		Origin:     s.origin,
	}); err != nil {
		return false, fmt.Errorf("delete stream: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete stream: commit: %w", err)
	}
	s.publish()
	return true, nil
}

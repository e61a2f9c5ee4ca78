package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KeyKind classifies a key record.
type KeyKind string

const (
	KeyDevice   KeyKind = "device"
	KeyTeam     KeyKind = "team"
	KeyRecovery KeyKind = "recovery"
)

// KeyRecord is the shared, public half of a key. Sealed is the encrypted
// private bundle for team and recovery keys.
type KeyRecord struct {
	Tag       string
	Kind      KeyKind
	Recipient string
	Sealed    []byte
	Members   []string
	Seq       int64
}

// PutKey inserts or replaces a key record and its member list.
func (s *Store) PutKey(ctx context.Context, k KeyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put key: begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := appendChange(ctx, tx, Change{Collection: "keys", Tag: k.Tag, Op: OpStore, Origin: s.origin})
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO keys (tag, kind, recipient, sealed, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			kind = excluded.kind,
			recipient = excluded.recipient,
			sealed = excluded.sealed,
			seq = excluded.seq
	`, k.Tag, string(k.Kind), k.Recipient, k.Sealed, seq); err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM key_members WHERE team = ?`, k.Tag); err != nil {
		return fmt.Errorf("put key: clear members: %w", err)
	}
	for _, m := range k.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO key_members (team, member) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, k.Tag, m); err != nil {
			return fmt.Errorf("put key: member %s: %w", m, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put key: commit: %w", err)
	}
	s.publish()
	return nil
}

// GetKey returns the key record for tag, or nil if absent. Members come
// back in insertion order.
func (s *Store) GetKey(ctx context.Context, tag string) (*KeyRecord, error) {
	k := KeyRecord{Tag: tag}
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, recipient, sealed, seq FROM keys WHERE tag = ?
	`, tag).Scan(&kind, &k.Recipient, &k.Sealed, &k.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	k.Kind = KeyKind(kind)

	rows, err := s.db.QueryContext(ctx, `
		SELECT member FROM key_members WHERE team = ? ORDER BY rowid ASC
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("get key members: %w", err)
	}
	defer rows.Close()
	if k.Members, err = scanStrings(rows); err != nil {
		return nil, fmt.Errorf("get key members: %w", err)
	}
	return &k, nil
}

// DeleteKey removes a key record and its memberships in both directions.
func (s *Store) DeleteKey(ctx context.Context, tag string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete key: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM key_members WHERE member = ?`, tag); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE tag = ?`, tag); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if _, err := appendChange(ctx, tx, Change{Collection: "keys", Tag: tag, Op: OpRemove, Origin: s.origin}); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete key: commit: %w", err)
	}
	s.publish()
	return nil
}

// TeamsWithMember returns the teams that list member directly.
func (s *Store) TeamsWithMember(ctx context.Context, member string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team FROM key_members WHERE member = ? ORDER BY team COLLATE BINARY ASC
	`, member)
	if err != nil {
		return nil, fmt.Errorf("teams with member: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// PutDeviceSecret stores private key material under a device label.
func (s *Store) PutDeviceSecret(ctx context.Context, device, tag string, secret []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_secrets (device, tag, secret) VALUES (?, ?, ?)
		ON CONFLICT(device, tag) DO UPDATE SET secret = excluded.secret
	`, device, tag, secret)
	if err != nil {
		return fmt.Errorf("put device secret: %w", err)
	}
	return nil
}

// GetDeviceSecret returns the secret for tag on device, or nil if absent.
func (s *Store) GetDeviceSecret(ctx context.Context, device, tag string) ([]byte, error) {
	var secret []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT secret FROM device_secrets WHERE device = ? AND tag = ?
	`, device, tag).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device secret: %w", err)
	}
	return secret, nil
}

// DeleteDeviceSecret removes a secret. It reports whether one existed.
func (s *Store) DeleteDeviceSecret(ctx context.Context, device, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM device_secrets WHERE device = ? AND tag = ?`, device, tag)
	if err != nil {
		return false, fmt.Errorf("delete device secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete device secret: %w", err)
	}
	return n > 0, nil
}

// DeviceSecrets lists the tags with secrets on device.
func (s *Store) DeviceSecrets(ctx context.Context, device string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM device_secrets WHERE device = ? ORDER BY tag COLLATE BINARY ASC
	`, device)
	if err != nil {
		return nil, fmt.Errorf("device secrets: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
)

var (
	// ErrSequenceGap is returned by AppendRecord when the record does not
	// directly follow the entity's stored head.
	ErrSequenceGap = errors.New("record sequence does not follow stored head")

	// ErrRecordConflict is returned by AppendRecord when a different record
	// is already stored at the same sequence.
	ErrRecordConflict = errors.New("a different record is already stored at this sequence")
)

const timestampLayout = time.RFC3339Nano

// WriteDeclaration stores a declaration at the next free position.
//
// Re-writing the stored value for (owner, name) is a no-op. A different
// value, typically written by another handle since this one loaded, fails
// with *registry.DuplicateDeclarationError. d.Position is ignored; the
// database assigns it.
func (s *Store) WriteDeclaration(ctx context.Context, d registry.Declaration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write declaration: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeDeclaration(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write declaration %s.%s: commit: %w", d.Owner, d.Name, err)
	}
	return nil
}

// WriteEntity records an opened entity with no records yet.
func (s *Store) WriteEntity(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, entityID); err != nil {
		return fmt.Errorf("write entity: %w", err)
	}
	return nil
}

// AppendRecord appends one ledger record.
//
// The record must be the entity's next sequence. Re-appending the exact
// stored record is a no-op, so a retried write after a crash is safe.
func (s *Store) AppendRecord(ctx context.Context, rec ledger.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, rec.EntityID); err != nil {
		return fmt.Errorf("append record: entity: %w", err)
	}

	var head int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), -1) FROM records WHERE entity_id = ?
	`, rec.EntityID).Scan(&head); err != nil {
		return fmt.Errorf("append record: read head: %w", err)
	}

	switch {
	case rec.Sequence <= head:
		var stored string
		err := tx.QueryRowContext(ctx, `
			SELECT chain_digest FROM records WHERE entity_id = ? AND seq = ?
		`, rec.EntityID, rec.Sequence).Scan(&stored)
		if err != nil {
			return fmt.Errorf("append record: read existing: %w", err)
		}
		if stored != rec.ChainDigest {
			return fmt.Errorf("append record %s/%d: %w", rec.EntityID, rec.Sequence, ErrRecordConflict)
		}
		return tx.Commit()
	case rec.Sequence != head+1:
		return fmt.Errorf("append record %s/%d after %d: %w", rec.EntityID, rec.Sequence, head, ErrSequenceGap)
	}

	if err := insertRecord(ctx, tx, rec); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append record: commit: %w", err)
	}
	return nil
}

// Save replaces the stored state with snap in a single transaction.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"records", "entities", "declarations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("save snapshot: clear %s: %w", table, err)
		}
	}

	for _, d := range snap.Declarations {
		if err := writeDeclaration(ctx, tx, d); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	for _, e := range snap.Entities {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entities (id) VALUES (?)`, e.EntityID); err != nil {
			return fmt.Errorf("save snapshot: entity %s: %w", e.EntityID, err)
		}
		for _, rec := range e.Records {
			if err := insertRecord(ctx, tx, rec); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// writeDeclaration must run inside tx so the existence check, the position
// and the insert see the same state.
func writeDeclaration(ctx context.Context, tx *sql.Tx, d registry.Declaration) error {
	value, err := json.Marshal(d.Value)
	if err != nil {
		return fmt.Errorf("write declaration %s.%s: %w", d.Owner, d.Name, err)
	}

	var stored string
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM declarations WHERE owner = ? AND name = ?
	`, d.Owner, d.Name).Scan(&stored)
	switch {
	case err == nil:
		var existing registry.Value
		if err := json.Unmarshal([]byte(stored), &existing); err != nil {
			return fmt.Errorf("write declaration %s.%s: decode stored value: %w", d.Owner, d.Name, err)
		}
		if existing.Equal(d.Value) {
			return nil
		}
		return &registry.DuplicateDeclarationError{
			Owner:    d.Owner,
			Name:     d.Name,
			Existing: existing,
			Proposed: d.Value,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("write declaration %s.%s: read existing: %w", d.Owner, d.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO declarations (position, owner, name, kind, value)
		SELECT COALESCE(MAX(position) + 1, 0), ?, ?, ?, ? FROM declarations
	`,
		d.Owner,
		d.Name,
		d.Value.Kind().String(),
		string(value),
	)
	if err != nil {
		return fmt.Errorf("write declaration %s.%s: %w", d.Owner, d.Name, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, rec ledger.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO records
		(entity_id, seq, metric, payload_digest, chain_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.EntityID,
		rec.Sequence,
		rec.Metric,
		rec.PayloadDigest,
		rec.ChainDigest,
		rec.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insert record %s/%d: %w", rec.EntityID, rec.Sequence, err)
	}
	return nil
}

var _ snapshot.Backend = (*Store)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
)

// ReadDeclarations returns every declaration ordered by position.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadDeclarations(ctx context.Context) ([]registry.Declaration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, owner, name, value
		FROM declarations
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query declarations: %w", err)
	}
	defer rows.Close()

	decls := []registry.Declaration{}
	for rows.Next() {
		var (
			d     registry.Declaration
			value string
		)
		if err := rows.Scan(&d.Position, &d.Owner, &d.Name, &value); err != nil {
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &d.Value); err != nil {
			return nil, fmt.Errorf("decode declaration %s.%s: %w", d.Owner, d.Name, err)
		}
		decls = append(decls, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate declarations: %w", err)
	}
	return decls, nil
}

// ListEntities returns every stored entity id in binary order.
func (s *Store) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM entities ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return ids, nil
}

// ReadRecords returns an entity's records in ascending sequence order.
// Returns an empty slice (not nil) if the entity has none.
//
// The records are returned as stored; callers verify them.
func (s *Store) ReadRecords(ctx context.Context, entityID string) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, seq, metric, payload_digest, chain_digest, created_at
		FROM records
		WHERE entity_id = ?
		ORDER BY seq ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []ledger.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

// FindByChainDigest returns the record whose chain digest is digest.
// Returns sql.ErrNoRows if not found.
func (s *Store) FindByChainDigest(ctx context.Context, digest string) (ledger.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, seq, metric, payload_digest, chain_digest, created_at
		FROM records
		WHERE chain_digest = ?
		ORDER BY entity_id COLLATE BINARY ASC, seq ASC
		LIMIT 1
	`, digest)
	return scanRecord(row)
}

// Load reads the whole store as a snapshot.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	decls, err := s.ReadDeclarations(ctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	ids, err := s.ListEntities(ctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snap := snapshot.Snapshot{
		Declarations: decls,
		Entities:     make([]snapshot.EntityHistory, 0, len(ids)),
	}
	for _, id := range ids {
		recs, err := s.ReadRecords(ctx, id)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Entities = append(snap.Entities, snapshot.EntityHistory{EntityID: id, Records: recs})
	}
	return snap, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ledger.Record, error) {
	var (
		rec     ledger.Record
		created string
	)
	err := row.Scan(&rec.EntityID, &rec.Sequence, &rec.Metric, &rec.PayloadDigest, &rec.ChainDigest, &created)
	if err == sql.ErrNoRows {
		return ledger.Record{}, err
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Timestamp, err = time.Parse(timestampLayout, created)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("parse timestamp of %s/%d: %w", rec.EntityID, rec.Sequence, err)
	}
	return rec, nil
}

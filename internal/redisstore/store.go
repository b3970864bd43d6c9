// Package redisstore keeps declarations and ledgers in Redis.
//
// Layout under the key prefix (default "sigil:"):
//
//	<prefix>decls          LIST of declaration JSON, in position order
//	<prefix>decls:index    HASH owner<US>name -> position
//	<prefix>entities       ZSET of entity ids, all scored 0 (lexical order)
//	<prefix>ledger:<id>    LIST of record JSON, index == sequence
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
)

var (
	// ErrSequenceGap is returned by AppendRecord when the record does not
	// directly follow the stored head.
	ErrSequenceGap = errors.New("record sequence does not follow stored head")

	// ErrRecordConflict is returned by AppendRecord when a different record
	// is already stored at the same sequence.
	ErrRecordConflict = errors.New("a different record is already stored at this sequence")
)

// maxRetries bounds optimistic transaction retries under contention.
const maxRetries = 8

// Store implements snapshot.Backend using Redis.
type Store struct {
	client *backend.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "sigil:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var _ snapshot.Backend = (*Store)(nil)

func (s *Store) declsKey() string { return s.prefix + "decls" }
func (s *Store) declIndexKey() string { return s.prefix + "decls:index" }
func (s *Store) entitiesKey() string { return s.prefix + "entities" }
func (s *Store) ledgerKey(id string) string { return s.prefix + "ledger:" + id }

func declField(owner, name string) string {
	return owner + "\x1f" + name
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// WriteDeclaration appends a declaration at the next free position.
//
// Re-writing the stored value for (owner, name) is a no-op; a different value
// fails with *registry.DuplicateDeclarationError. d.Position is ignored.
func (s *Store) WriteDeclaration(ctx context.Context, d registry.Declaration) error {
	field := declField(d.Owner, d.Name)
	txf := func(tx *backend.Tx) error {
		pos, err := tx.HGet(ctx, s.declIndexKey(), field).Int64()
		switch {
		case err == nil:
			raw, err := tx.LIndex(ctx, s.declsKey(), pos).Result()
			if err != nil {
				return err
			}
			var stored registry.Declaration
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return err
			}
			if stored.Value.Equal(d.Value) {
				return nil
			}
			return &registry.DuplicateDeclarationError{
				Owner:    d.Owner,
				Name:     d.Name,
				Existing: stored.Value,
				Proposed: d.Value,
			}
		case !errors.Is(err, backend.Nil):
			return err
		}

		n, err := tx.LLen(ctx, s.declsKey()).Result()
		if err != nil {
			return err
		}
		d.Position = int(n)
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal declaration: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, s.declIndexKey(), field, d.Position)
			pipe.RPush(ctx, s.declsKey(), data)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, s.declIndexKey(), s.declsKey()); err != nil {
		return fmt.Errorf("failed to write declaration %s.%s: %w", d.Owner, d.Name, err)
	}
	return nil
}

// WriteEntity records an opened entity.
func (s *Store) WriteEntity(ctx context.Context, entityID string) error {
	if err := s.client.ZAdd(ctx, s.entitiesKey(), backend.Z{Member: entityID}).Err(); err != nil {
		return fmt.Errorf("failed to write entity: %w", err)
	}
	return nil
}

// AppendRecord appends one record. The record must be the next sequence;
// re-appending the exact stored record is a no-op.
func (s *Store) AppendRecord(ctx context.Context, rec ledger.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	key := s.ledgerKey(rec.EntityID)

	txf := func(tx *backend.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if rec.Sequence < n {
			raw, err := tx.LIndex(ctx, key, rec.Sequence).Result()
			if err != nil {
				return err
			}
			var stored ledger.Record
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return err
			}
			if stored.ChainDigest != rec.ChainDigest {
				return fmt.Errorf("%s/%d: %w", rec.EntityID, rec.Sequence, ErrRecordConflict)
			}
			return nil
		}
		if rec.Sequence != n {
			return fmt.Errorf("%s/%d after %d: %w", rec.EntityID, rec.Sequence, n-1, ErrSequenceGap)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.ZAdd(ctx, s.entitiesKey(), backend.Z{Member: rec.EntityID})
			pipe.RPush(ctx, key, data)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// ReadDeclarations returns every declaration in position order.
func (s *Store) ReadDeclarations(ctx context.Context) ([]registry.Declaration, error) {
	raws, err := s.client.LRange(ctx, s.declsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read declarations: %w", err)
	}
	decls := make([]registry.Declaration, 0, len(raws))
	for _, raw := range raws {
		var d registry.Declaration
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal declaration: %w", err)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// ListEntities returns every entity id in lexical order.
func (s *Store) ListEntities(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.entitiesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return ids, nil
}

// ReadRecords returns an entity's records in sequence order, as stored.
func (s *Store) ReadRecords(ctx context.Context, entityID string) ([]ledger.Record, error) {
	raws, err := s.client.LRange(ctx, s.ledgerKey(entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	recs := make([]ledger.Record, 0, len(raws))
	for _, raw := range raws {
		var rec ledger.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Save replaces the stored state with snap atomically.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	old, err := s.ListEntities(ctx)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()

	stale := []string{s.declsKey(), s.declIndexKey(), s.entitiesKey()}
	for _, id := range old {
		stale = append(stale, s.ledgerKey(id))
	}
	pipe.Del(ctx, stale...)

	for _, d := range snap.Declarations {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal declaration: %w", err)
		}
		pipe.HSet(ctx, s.declIndexKey(), declField(d.Owner, d.Name), strconv.Itoa(d.Position))
		pipe.RPush(ctx, s.declsKey(), data)
	}

	for _, e := range snap.Entities {
		pipe.ZAdd(ctx, s.entitiesKey(), backend.Z{Member: e.EntityID})
		for _, rec := range e.Records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal record: %w", err)
			}
			pipe.RPush(ctx, s.ledgerKey(e.EntityID), data)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load reads the whole state as a snapshot.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	decls, err := s.ReadDeclarations(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	ids, err := s.ListEntities(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	snap := snapshot.Snapshot{
		Declarations: decls,
		Entities:     make([]snapshot.EntityHistory, 0, len(ids)),
	}
	for _, id := range ids {
		recs, err := s.ReadRecords(ctx, id)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		snap.Entities = append(snap.Entities, snapshot.EntityHistory{EntityID: id, Records: recs})
	}
	return snap, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// watch runs txf under WATCH on keys, retrying when another client wins
// the race.
func (s *Store) watch(ctx context.Context, txf func(*backend.Tx) error, keys ...string) error {
	for range maxRetries {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return backend.TxFailedErr
}

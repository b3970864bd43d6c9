// Package snapshot is the save/load boundary between the in-memory registry
// and ledger and durable storage.
//
// Capture copies the current state out; Apply replays a snapshot into empty
// (or compatible) instances, re-verifying every ledger on the way in. Storage
// backends only ever see Snapshot values.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
)

// ErrDigestMismatch is returned by Decode when an export's digest does not
// match its content.
var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// EntityHistory is the full record list of one entity.
type EntityHistory struct {
	EntityID string          `json:"entity_id"`
	Records  []ledger.Record `json:"records"`
}

// Snapshot is the complete durable state: declarations in global
// declaration order and every entity's history, sorted by entity id.
type Snapshot struct {
	Declarations []registry.Declaration `json:"declarations"`
	Entities     []EntityHistory        `json:"entities"`
}

// Backend stores one snapshot.
type Backend interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Capture copies the current state of reg and led.
func Capture(reg *registry.Registry, led *ledger.Ledger) Snapshot {
	snap := Snapshot{
		Declarations: slices.Collect(reg.All()),
		Entities:     []EntityHistory{},
	}
	if snap.Declarations == nil {
		snap.Declarations = []registry.Declaration{}
	}
	for _, id := range led.Entities() {
		recs := slices.Collect(led.History(id))
		if recs == nil {
			recs = []ledger.Record{}
		}
		snap.Entities = append(snap.Entities, EntityHistory{EntityID: id, Records: recs})
	}
	return snap
}

// Apply loads snap into reg and led. Declarations are replayed in position
// order, so re-applying onto a registry that already holds them is a no-op.
// Each history goes through ledger.Restore and is rejected with
// *ledger.CorruptionError if it does not verify.
func Apply(snap Snapshot, reg *registry.Registry, led *ledger.Ledger) error {
	decls := slices.Clone(snap.Declarations)
	slices.SortStableFunc(decls, func(a, b registry.Declaration) int {
		return a.Position - b.Position
	})
	for _, d := range decls {
		if err := reg.Declare(d.Owner, d.Name, d.Value); err != nil {
			return fmt.Errorf("apply declaration %s.%s: %w", d.Owner, d.Name, err)
		}
	}
	for _, e := range snap.Entities {
		if _, err := led.Restore(e.EntityID, e.Records); err != nil {
			return fmt.Errorf("apply ledger %s: %w", e.EntityID, err)
		}
	}
	return nil
}

// Save captures reg and led and writes them to b.
func Save(ctx context.Context, b Backend, reg *registry.Registry, led *ledger.Ledger) error {
	return b.Save(ctx, Capture(reg, led))
}

// Load reads b and applies it to reg and led.
func Load(ctx context.Context, b Backend, reg *registry.Registry, led *ledger.Ledger) error {
	snap, err := b.Load(ctx)
	if err != nil {
		return err
	}
	return Apply(snap, reg, led)
}

// RecordCount returns the number of records across all entities.
func (s Snapshot) RecordCount() int {
	n := 0
	for _, e := range s.Entities {
		n += len(e.Records)
	}
	return n
}

// Digest hashes the snapshot. Each ledger enters through its head digest,
// which already commits to every record, so two snapshots with the same
// declarations and the same chain heads share a digest regardless of
// record timestamps.
func Digest(snap Snapshot) (string, error) {
	decls := make(ir.IRArray, 0, len(snap.Declarations))
	for _, d := range snap.Declarations {
		decls = append(decls, ir.IRObject{
			"owner": ir.IRString(d.Owner),
			"name":  ir.IRString(d.Name),
			"kind":  ir.IRString(d.Value.Kind().String()),
			"value": ir.IRString(d.Value.String()),
		})
	}

	entities := make(ir.IRArray, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		report := ledger.VerifyRecords(e.EntityID, e.Records)
		entities = append(entities, ir.IRObject{
			"entity_id": ir.IRString(e.EntityID),
			"head":      ir.IRString(report.HeadDigest),
			"records":   ir.IRInt(len(e.Records)),
		})
	}

	return ir.SnapshotDigest(ir.IRObject{
		"schema_version": ir.IRString(ir.SchemaVersion),
		"declarations":   decls,
		"entities":       entities,
	})
}

// Export is the file format written by `sigil export`.
type Export struct {
	SchemaVersion string   `json:"schema_version"`
	ToolVersion   string   `json:"tool_version"`
	Digest        string   `json:"digest"`
	Snapshot      Snapshot `json:"snapshot"`
}

// Encode writes snap with its digest as indented JSON.
func Encode(w io.Writer, snap Snapshot) (string, error) {
	digest, err := Digest(snap)
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err = enc.Encode(Export{
		SchemaVersion: ir.SchemaVersion,
		ToolVersion:   ir.ToolVersion,
		Digest:        digest,
		Snapshot:      snap,
	})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return digest, nil
}

// Decode reads an Export and checks its digest.
func Decode(r io.Reader) (Snapshot, error) {
	var exp Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if exp.SchemaVersion != ir.SchemaVersion {
		return Snapshot{}, fmt.Errorf("decode snapshot: unsupported schema version %q", exp.SchemaVersion)
	}
	digest, err := Digest(exp.Snapshot)
	if err != nil {
		return Snapshot{}, err
	}
	if digest != exp.Digest {
		return Snapshot{}, fmt.Errorf("%w: file says %s, content hashes to %s", ErrDigestMismatch, exp.Digest, digest)
	}
	return exp.Snapshot, nil
}

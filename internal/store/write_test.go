package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
)

func TestWriteDeclaration_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	decls := []registry.Declaration{
		{Owner: "ORION", Name: "origin", Value: registry.String("Genesis10000+"), Position: 0},
		{Owner: "ORION", Name: "resonance", Value: registry.Tuple(1, 0.5), Position: 1},
		{Owner: "COMET", Name: "weight", Value: registry.Number(-2.25), Position: 2},
	}
	for _, d := range decls {
		if err := s.WriteDeclaration(ctx, d); err != nil {
			t.Fatalf("WriteDeclaration(%s) failed: %v", d.Name, err)
		}
	}

	got, err := s.ReadDeclarations(ctx)
	if err != nil {
		t.Fatalf("ReadDeclarations() failed: %v", err)
	}
	if len(got) != len(decls) {
		t.Fatalf("got %d declarations, want %d", len(got), len(decls))
	}
	for i := range decls {
		if got[i].Owner != decls[i].Owner || got[i].Name != decls[i].Name || got[i].Position != decls[i].Position {
			t.Errorf("declaration %d = %+v, want %+v", i, got[i], decls[i])
		}
		if !got[i].Value.Equal(decls[i].Value) {
			t.Errorf("declaration %d value = %s, want %s", i, got[i].Value, decls[i].Value)
		}
	}
}

func TestWriteDeclaration_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.String("x"), Position: 0}
	for i := 0; i < 3; i++ {
		if err := s.WriteDeclaration(ctx, d); err != nil {
			t.Fatalf("WriteDeclaration() attempt %d failed: %v", i, err)
		}
	}

	got, err := s.ReadDeclarations(ctx)
	if err != nil {
		t.Fatalf("ReadDeclarations() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d declarations, want 1", len(got))
	}
}

func TestWriteDeclaration_ConflictingValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.String("x")}); err != nil {
		t.Fatal(err)
	}
	err := s.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.Number(1)})

	var dup *registry.DuplicateDeclarationError
	if !errors.As(err, &dup) {
		t.Fatalf("WriteDeclaration() = %v, want DuplicateDeclarationError", err)
	}
	if !dup.Existing.Equal(registry.String("x")) || !dup.Proposed.Equal(registry.Number(1)) {
		t.Errorf("conflict = %s vs %s", dup.Existing, dup.Proposed)
	}
}

// Two handles on one file each load an empty registry, so both hand the
// store position 0.
func TestWriteDeclaration_TwoHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.String("A"), Position: 0}); err != nil {
		t.Fatalf("handle a: %v", err)
	}

	err = b.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.String("B"), Position: 0})
	if !registry.IsDuplicate(err) {
		t.Fatalf("handle b conflicting write = %v, want DuplicateDeclarationError", err)
	}
	if err := b.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "origin", Value: registry.String("A"), Position: 0}); err != nil {
		t.Errorf("handle b identical write: %v", err)
	}
	if err := b.WriteDeclaration(ctx, registry.Declaration{Owner: "ORION", Name: "resonance", Value: registry.Tuple(1, 0.5), Position: 0}); err != nil {
		t.Fatalf("handle b new declaration: %v", err)
	}

	got, err := a.ReadDeclarations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d declarations, want 2: %+v", len(got), got)
	}
	if got[0].Name != "origin" || !got[0].Value.Equal(registry.String("A")) || got[0].Position != 0 {
		t.Errorf("declaration 0 = %+v", got[0])
	}
	if got[1].Name != "resonance" || got[1].Position != 1 {
		t.Errorf("declaration 1 = %+v, want resonance at position 1", got[1])
	}
}

func TestReadDeclarations_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadDeclarations(context.Background())
	if err != nil {
		t.Fatalf("ReadDeclarations() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestAppendRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestRecords(t, "e1", 0.1, 0.4, 0.4)

	for _, rec := range recs {
		if err := s.AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord(%d) failed: %v", rec.Sequence, err)
		}
	}

	got, err := s.ReadRecords(ctx, "e1")
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("got %d records, want %d", len(got), len(recs))
	}
	for i := range recs {
		if !sameRecord(got[i], recs[i]) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], recs[i])
		}
	}

	if report := ledger.VerifyRecords("e1", got); !report.OK() {
		t.Errorf("stored history does not verify: %+v", report)
	}
}

func TestAppendRecord_RetryIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestRecords(t, "e1", 0.1, 0.2)

	for _, rec := range recs {
		if err := s.AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord() failed: %v", err)
		}
	}
	if err := s.AppendRecord(ctx, recs[0]); err != nil {
		t.Errorf("re-append of stored record should be a no-op, got %v", err)
	}

	got, err := s.ReadRecords(ctx, "e1")
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
}

func TestAppendRecord_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestRecords(t, "e1", 0.1)

	if err := s.AppendRecord(ctx, recs[0]); err != nil {
		t.Fatalf("AppendRecord() failed: %v", err)
	}

	forged := recs[0]
	forged.ChainDigest = ir.GenesisDigest
	err := s.AppendRecord(ctx, forged)
	if !errors.Is(err, ErrRecordConflict) {
		t.Errorf("expected ErrRecordConflict, got %v", err)
	}
}

func TestAppendRecord_Gap(t *testing.T) {
	s := createTestStore(t)
	recs := createTestRecords(t, "e1", 0.1, 0.2, 0.3)

	err := s.AppendRecord(context.Background(), recs[2])
	if !errors.Is(err, ErrSequenceGap) {
		t.Errorf("expected ErrSequenceGap, got %v", err)
	}
}

func TestWriteEntity_ListEntities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "B", "a"} {
		if err := s.WriteEntity(ctx, id); err != nil {
			t.Fatalf("WriteEntity(%s) failed: %v", id, err)
		}
	}

	ids, err := s.ListEntities(ctx)
	if err != nil {
		t.Fatalf("ListEntities() failed: %v", err)
	}
	want := []string{"B", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestFindByChainDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestRecords(t, "e1", 0.1, 0.2)
	for _, rec := range recs {
		if err := s.AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord() failed: %v", err)
		}
	}

	got, err := s.FindByChainDigest(ctx, recs[1].ChainDigest)
	if err != nil {
		t.Fatalf("FindByChainDigest() failed: %v", err)
	}
	if got.Sequence != 1 {
		t.Errorf("found seq %d, want 1", got.Sequence)
	}

	if _, err := s.FindByChainDigest(ctx, ir.GenesisDigest); err == nil {
		t.Error("expected error for unknown digest")
	}
}

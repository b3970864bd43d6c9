package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecords evolves entityID through metrics and returns the
// resulting records.
func createTestRecords(t *testing.T, entityID string, metrics ...float64) []ledger.Record {
	t.Helper()
	l := ledger.New(ledger.WithClock(testutil.NewDeterministicClock()))
	for i, m := range metrics {
		if _, err := l.Evolve(entityID, m, map[string]any{"step": i}); err != nil {
			t.Fatalf("Evolve(%v) failed: %v", m, err)
		}
	}
	h, err := l.Lookup(entityID)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	return h.Records()
}

func sameRecord(a, b ledger.Record) bool {
	return a.EntityID == b.EntityID &&
		a.Sequence == b.Sequence &&
		a.Metric == b.Metric &&
		a.PayloadDigest == b.PayloadDigest &&
		a.ChainDigest == b.ChainDigest &&
		a.Timestamp.Equal(b.Timestamp)
}

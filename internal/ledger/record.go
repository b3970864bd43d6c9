package ledger

import (
	"time"

	"github.com/roach88/sigil/internal/ir"
)

// Record is one sealed transition. Records are values; once appended they
// are never modified.
type Record struct {
	EntityID      string    `json:"entity_id"`
	Sequence      int64     `json:"seq"`
	Metric        float64   `json:"metric"`
	PayloadDigest string    `json:"payload_digest"`
	ChainDigest   string    `json:"chain_digest"`
	Timestamp     time.Time `json:"timestamp"`
}

// Report is the result of verifying an entity's history.
// FirstFailingSequence is nil when both checks pass.
type Report struct {
	EntityID             string `json:"entity_id"`
	Records              int    `json:"records"`
	ChainOK              bool   `json:"chain_ok"`
	MonotonicOK          bool   `json:"monotonic_ok"`
	FirstFailingSequence *int64 `json:"first_failing_sequence,omitempty"`
	HeadDigest           string `json:"head_digest"`
}

// OK reports whether the chain and the metric sequence both verified.
func (r Report) OK() bool {
	return r.ChainOK && r.MonotonicOK
}

// VerifyRecords recomputes every chain digest from sequence 0 using each
// record's stored fields and the stored digest of its predecessor, and checks
// that metrics never decrease.
//
// It is pure: the same records always produce the same report.
func VerifyRecords(entityID string, records []Record) Report {
	report := Report{
		EntityID:    entityID,
		Records:     len(records),
		ChainOK:     true,
		MonotonicOK: true,
		HeadDigest:  ir.GenesisDigest,
	}

	fail := func(seq int64) {
		if report.FirstFailingSequence == nil {
			report.FirstFailingSequence = &seq
		}
	}

	prev := ir.GenesisDigest
	prevMetric := 0.0
	for i, rec := range records {
		seq := int64(i)

		expected, err := ir.ChainDigest(prev, seq, rec.Metric, rec.PayloadDigest)
		if err != nil || rec.Sequence != seq || rec.EntityID != entityID || expected != rec.ChainDigest {
			report.ChainOK = false
			fail(seq)
		}

		if !inRange(rec.Metric) || rec.Metric < prevMetric {
			report.MonotonicOK = false
			fail(seq)
		}

		prev = rec.ChainDigest
		if rec.Metric > prevMetric {
			prevMetric = rec.Metric
		}
	}
	report.HeadDigest = prev
	return report
}

func inRange(m float64) bool {
	// NaN fails both comparisons.
	return m >= 0 && m <= 1
}

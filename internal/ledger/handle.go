package ledger

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/roach88/sigil/internal/ir"
)

// Handle is the sole writer of one entity's history.
type Handle struct {
	id     string
	ledger *Ledger

	mu      sync.RWMutex
	records []Record
	head    string
}

// ID returns the entity id.
func (h *Handle) ID() string {
	return h.id
}

// Evolve validates and appends one transition.
//
// The metric must lie in [0, 1] and be at least the metric of the latest
// record (equal is allowed). The payload must have a canonical form. Any
// failure returns before the record slice is touched, so a rejected evolve
// leaves no trace in the history.
//
// The returned record carries both digests and serves as proof of the
// transition.
func (h *Handle) Evolve(metric float64, payload any) (Record, error) {
	l := h.ledger

	if !inRange(metric) {
		l.observeEvolve(OutcomeOutOfRange)
		return Record{}, &MetricRangeError{EntityID: h.id, Metric: metric}
	}
	if metric == 0 {
		metric = 0 // drop the sign of -0
	}

	// Hash outside the lock; it depends only on the payload.
	payloadDigest, err := ir.PayloadDigest(payload)
	if err != nil {
		l.observeEvolve(OutcomeSerialization)
		return Record{}, &SerializationError{EntityID: h.id, Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seq := int64(len(h.records))
	if seq > 0 {
		last := h.records[seq-1]
		if metric < last.Metric {
			l.observeEvolve(OutcomeRegression)
			l.logger.Warn("regression refused", "entity", h.id, "current", last.Metric, "proposed", metric)
			return Record{}, &RegressionError{EntityID: h.id, Current: last.Metric, Proposed: metric}
		}
	}

	chain, err := ir.ChainDigest(h.head, seq, metric, payloadDigest)
	if err != nil {
		return Record{}, fmt.Errorf("evolve %s: %w", h.id, err)
	}

	rec := Record{
		EntityID:      h.id,
		Sequence:      seq,
		Metric:        metric,
		PayloadDigest: payloadDigest,
		ChainDigest:   chain,
		Timestamp:     h.stamp(),
	}
	h.records = append(h.records, rec)
	h.head = chain

	l.observeEvolve(OutcomeAppended)
	l.logger.Debug("evolved", "entity", h.id, "seq", seq, "metric", metric, "chain", chain)
	return rec, nil
}

// stamp returns a timestamp that never goes backwards for this entity.
// Caller holds h.mu.
func (h *Handle) stamp() time.Time {
	now := h.ledger.clock.Now()
	if n := len(h.records); n > 0 && now.Before(h.records[n-1].Timestamp) {
		return h.records[n-1].Timestamp
	}
	return now
}

// History yields records in ascending sequence order. Each range captures
// the history as of its start; later appends are seen by the next range.
func (h *Handle) History() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range h.snapshot() {
			if !yield(rec) {
				return
			}
		}
	}
}

// Records returns a copy of the history.
func (h *Handle) Records() []Record {
	recs := h.snapshot()
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Len returns the number of records.
func (h *Handle) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Head returns the chain digest of the latest record, or ir.GenesisDigest
// if there is none, together with the current metric.
func (h *Handle) Head() (digest string, metric float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n := len(h.records); n > 0 {
		return h.head, h.records[n-1].Metric
	}
	return h.head, 0
}

// Verify recomputes the chain over the stored records. It never mutates the
// history; tampering shows up as data in the report.
func (h *Handle) Verify() Report {
	report := VerifyRecords(h.id, h.snapshot())
	h.ledger.observeVerify(report.OK())
	if !report.OK() {
		h.ledger.logger.Error("verification failed", "entity", h.id,
			"chain_ok", report.ChainOK, "monotonic_ok", report.MonotonicOK,
			"first_failing_sequence", *report.FirstFailingSequence)
	}
	return report
}

// snapshot returns the current record slice. The slice is append-only, so
// the prefix it describes is immutable.
func (h *Handle) snapshot() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.records[:len(h.records):len(h.records)]
}

// Package ledger keeps, per entity, an append-only, hash-chained log of
// transitions whose tracked metric never decreases.
//
// Each entity is owned by a Handle. The Handle is the single writer of its
// record slice: Evolve holds the handle's write lock across the
// check-then-act of monotonicity validation and sequence assignment, so
// competing evolves on one entity serialize while different entities proceed
// in parallel. Readers take the read lock only long enough to capture the
// current slice header; records below that length are never rewritten.
//
// The chain for an entity is
//
//	chain[0] = H(GenesisDigest, 0, metric[0], payload[0])
//	chain[n] = H(chain[n-1],    n, metric[n], payload[n])
//
// See ir.ChainDigest for the exact byte layout.
package ledger

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/logging"
	"github.com/roach88/sigil/internal/registry"
)

// Evolve outcomes passed to Observer.
const (
	OutcomeAppended      = "appended"
	OutcomeRegression    = "regression"
	OutcomeOutOfRange    = "out_of_range"
	OutcomeSerialization = "serialization"
)

// Observer receives ledger events. Implemented by the metrics package.
type Observer interface {
	ObserveEvolve(outcome string)
	ObserveVerify(ok bool)
}

// Ledger owns the handles of every opened entity.
type Ledger struct {
	mu       sync.RWMutex
	entities map[string]*Handle

	registry *registry.Registry
	clock    Clock
	logger   *slog.Logger
	observer Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRegistry sets the registry consulted by OpenTyped.
func WithRegistry(r *registry.Registry) Option {
	return func(l *Ledger) {
		l.registry = r
	}
}

// WithClock sets the clock used to stamp records. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = lg
	}
}

// WithObserver attaches an observer for evolve and verify outcomes.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		l.observer = o
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entities: make(map[string]*Handle),
		clock:    SystemClock{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open returns the handle for entityID, creating it if needed. A new handle
// starts at the genesis anchor: no records, head digest ir.GenesisDigest.
func (l *Ledger) Open(entityID string) (*Handle, error) {
	if entityID == "" {
		return nil, ErrEmptyEntityID
	}

	l.mu.RLock()
	h, ok := l.entities[entityID]
	l.mu.RUnlock()
	if ok {
		return h, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.entities[entityID]; ok {
		return h, nil
	}
	h = &Handle{id: entityID, ledger: l, head: ir.GenesisDigest}
	l.entities[entityID] = h
	l.logger.Debug("opened entity", "entity", entityID)
	return h, nil
}

// OpenTyped is Open for an entity of the given owner type. The type must be
// declared tracked in the ledger's registry.
func (l *Ledger) OpenTyped(owner, entityID string) (*Handle, error) {
	if l.registry == nil || !l.registry.Tracked(owner) {
		return nil, &NotTrackedError{Owner: owner}
	}
	return l.Open(entityID)
}

// Lookup returns the handle for an already opened entity.
func (l *Ledger) Lookup(entityID string) (*Handle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h, ok := l.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return h, nil
}

// Evolve appends a transition to entityID, opening it if needed.
// See Handle.Evolve.
func (l *Ledger) Evolve(entityID string, metric float64, payload any) (Record, error) {
	h, err := l.Open(entityID)
	if err != nil {
		return Record{}, err
	}
	return h.Evolve(metric, payload)
}

// Verify checks the stored history of an opened entity.
func (l *Ledger) Verify(entityID string) (Report, error) {
	h, err := l.Lookup(entityID)
	if err != nil {
		return Report{}, err
	}
	return h.Verify(), nil
}

// Head returns the head digest and current metric of an opened entity.
func (l *Ledger) Head(entityID string) (digest string, metric float64, err error) {
	h, err := l.Lookup(entityID)
	if err != nil {
		return "", 0, err
	}
	digest, metric = h.Head()
	return digest, metric, nil
}

// History yields the records of entityID in ascending sequence order.
// Unknown entities yield nothing.
func (l *Ledger) History(entityID string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		h, err := l.Lookup(entityID)
		if err != nil {
			return
		}
		for rec := range h.History() {
			if !yield(rec) {
				return
			}
		}
	}
}

// Restore loads persisted records for entityID. The records are verified
// first; a failed verification returns *CorruptionError and leaves the
// ledger untouched.
func (l *Ledger) Restore(entityID string, records []Record) (*Handle, error) {
	report := VerifyRecords(entityID, records)
	l.observeVerify(report.OK())
	if !report.OK() {
		l.logger.Error("refusing corrupted history", "entity", entityID,
			"chain_ok", report.ChainOK, "monotonic_ok", report.MonotonicOK)
		return nil, &CorruptionError{Report: report}
	}

	h, err := l.Open(entityID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) > 0 {
		return nil, fmt.Errorf("restore %s: %w", entityID, ErrAlreadyPopulated)
	}
	h.records = slices.Clone(records)
	h.head = report.HeadDigest
	l.logger.Debug("restored entity", "entity", entityID, "records", len(records))
	return h, nil
}

// Entities returns the ids of every opened entity, sorted.
func (l *Ledger) Entities() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (l *Ledger) observeEvolve(outcome string) {
	if l.observer != nil {
		l.observer.ObserveEvolve(outcome)
	}
}

func (l *Ledger) observeVerify(ok bool) {
	if l.observer != nil {
		l.observer.ObserveVerify(ok)
	}
}

// Package registry binds immutable symbolic declarations to type
// definitions.
//
// A Registry is an explicit context object. Tests and the CLI build their own
// with New; code that wants decorator-style registration at package init uses
// Default, which is created on first use and lives for the process.
//
// Entries are append-only. Once (owner, name) is set its value never changes,
// and Value never exposes its tuple backing array, so iterators hand out
// entries without copying.
package registry

import (
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/sigil/internal/logging"
)

// TrackedName is the declaration that makes a type eligible for evolution
// tracking. Its value must be String(TrackedValue).
const (
	TrackedName  = "tracked"
	TrackedValue = "true"
)

// Declare outcomes passed to Observer.
const (
	OutcomeCreated    = "created"
	OutcomeIdempotent = "idempotent"
	OutcomeDuplicate  = "duplicate"
	OutcomeInvalid    = "invalid"
)

// Declaration is one registered (owner, name, value) entry.
// Position is the global declaration order, starting at 0.
type Declaration struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Value    Value  `json:"value"`
	Position int    `json:"position"`
}

// Observer receives one call per Declare. Implemented by the metrics package.
type Observer interface {
	ObserveDeclare(outcome string)
}

type key struct {
	owner string
	name  string
}

// Registry holds declarations keyed by (owner, name).
//
// Thread-safety: all methods are safe for concurrent use. Declare holds the
// write lock across its check-then-insert; reads share the read lock.
type Registry struct {
	mu      sync.RWMutex
	decls   []Declaration
	index   map[key]int
	byOwner map[string][]int

	logger   *slog.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithObserver attaches an observer for declare outcomes.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		index:   make(map[key]int),
		byOwner: make(map[string][]int),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry { return New() })

// Default returns the process-wide registry, creating it on first use.
// It is never torn down; entries are immutable so discarding it at exit is
// harmless.
func Default() *Registry {
	return defaultRegistry()
}

// Declare registers value under (owner, name).
//
// Re-declaring an equal value is a silent no-op. A different value fails with
// *DuplicateDeclarationError and leaves the registry untouched.
func (r *Registry) Declare(owner, name string, value Value) error {
	if owner == "" {
		r.observe(OutcomeInvalid)
		return ErrEmptyOwner
	}
	if name == "" {
		r.observe(OutcomeInvalid)
		return ErrEmptyName
	}
	if reason := value.validate(); reason != "" {
		r.observe(OutcomeInvalid)
		return &InvalidValueError{Owner: owner, Name: name, Reason: reason}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{owner: owner, name: name}
	if i, ok := r.index[k]; ok {
		existing := r.decls[i].Value
		if existing.Equal(value) {
			r.observe(OutcomeIdempotent)
			return nil
		}
		r.observe(OutcomeDuplicate)
		r.logger.Warn("conflicting declaration refused",
			"owner", owner, "name", name, "existing", existing.String(), "proposed", value.String())
		return &DuplicateDeclarationError{Owner: owner, Name: name, Existing: existing, Proposed: value}
	}

	pos := len(r.decls)
	r.decls = append(r.decls, Declaration{Owner: owner, Name: name, Value: value, Position: pos})
	r.index[k] = pos
	r.byOwner[owner] = append(r.byOwner[owner], pos)
	r.observe(OutcomeCreated)
	r.logger.Debug("declared", "owner", owner, "name", name, "value", value.String(), "position", pos)
	return nil
}

// Lookup returns the value registered under (owner, name).
func (r *Registry) Lookup(owner, name string) (Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[key{owner: owner, name: name}]
	if !ok {
		return Value{}, &UnknownDeclarationError{Owner: owner, Name: name}
	}
	return r.decls[i].Value, nil
}

// ListFor yields the declarations of owner in declaration order.
//
// The sequence is lazy and restartable: each range over it re-reads the
// registry, seeing every declaration made before the range started.
func (r *Registry) ListFor(owner string) iter.Seq[Declaration] {
	return func(yield func(Declaration) bool) {
		r.mu.RLock()
		positions := r.byOwner[owner]
		decls := r.decls
		r.mu.RUnlock()

		// Both slices are append-only; the captured headers stay valid.
		for _, pos := range positions {
			if !yield(decls[pos]) {
				return
			}
		}
	}
}

// All yields every declaration in global declaration order.
func (r *Registry) All() iter.Seq[Declaration] {
	return func(yield func(Declaration) bool) {
		r.mu.RLock()
		decls := r.decls
		r.mu.RUnlock()

		for _, d := range decls {
			if !yield(d) {
				return
			}
		}
	}
}

// Owners returns every owner with at least one declaration, sorted.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(r.byOwner))
	for o := range r.byOwner {
		owners = append(owners, o)
	}
	slices.Sort(owners)
	return owners
}

// Len returns the number of declarations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.decls)
}

// Tracked reports whether owner declares tracked = "true".
func (r *Registry) Tracked(owner string) bool {
	v, err := r.Lookup(owner, TrackedName)
	if err != nil {
		return false
	}
	s, ok := v.AsString()
	return ok && s == TrackedValue
}

// MarkTracked declares tracked = "true" for owner.
func (r *Registry) MarkTracked(owner string) error {
	return r.Declare(owner, TrackedName, String(TrackedValue))
}

func (r *Registry) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveDeclare(outcome)
	}
}

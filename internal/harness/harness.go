package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/logging"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
	"github.com/roach88/sigil/internal/store"
	"github.com/roach88/sigil/internal/testutil"
)

// Error codes recorded in traces and matched by Expect.Error.
const (
	CodeDuplicate     = "duplicate"
	CodeUnknown       = "unknown"
	CodeInvalid       = "invalid"
	CodeRegression    = "regression"
	CodeOutOfRange    = "out_of_range"
	CodeSerialization = "serialization"
	CodeNotTracked    = "not_tracked"
	CodeCorruption    = "corruption"
	CodeUnknownEntity = "unknown_entity"
	CodeNoSuchRecord  = "no_such_record"
	CodeError         = "error"
)

// Harness is the scenario execution engine.
// It runs steps against a registry and ledger with a deterministic clock.
type Harness struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	clock    *testutil.DeterministicClock
	store    *store.Store
	logger   *slog.Logger

	// tampered holds rewritten copies of entity histories. Verify and
	// reload read these instead of the live ledger.
	tampered map[string][]ledger.Record
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh registry, ledger, and in-memory SQLite
// database, so scenarios are isolated from each other.
//
// Execution flow:
// 1. Apply setup declarations
// 2. Execute steps, checking each against its expect clause
// 3. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		clock:    testutil.NewDeterministicClock(),
		store:    st,
		logger:   logging.NewNop(),
		tampered: make(map[string][]ledger.Record),
	}
	h.registry, h.ledger = h.fresh()

	for i, d := range scenario.Declare {
		v, err := ToValue(d.Value)
		if err != nil {
			return nil, fmt.Errorf("declare[%d]: %w", i, err)
		}
		if err := h.registry.Declare(d.Owner, d.Name, v); err != nil {
			return nil, fmt.Errorf("declare[%d]: %w", i, err)
		}
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		ev := h.execute(ctx, i, step, result)
		checkExpect(i, step, ev, result)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) fresh() (*registry.Registry, *ledger.Ledger) {
	reg := registry.New(registry.WithLogger(h.logger))
	led := ledger.New(
		ledger.WithRegistry(reg),
		ledger.WithClock(h.clock),
		ledger.WithLogger(h.logger),
	)
	return reg, led
}

// execute runs one step and records its trace event.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) TraceEvent {
	switch step.Op {
	case OpDeclare:
		fields := map[string]any{"owner": step.Owner, "name": step.Name}
		v, err := ToValue(step.Value)
		if err != nil {
			return result.addEvent(i, step.Op, CodeInvalid, fields)
		}
		fields["value"] = v.String()
		return result.addEvent(i, step.Op, ErrorCode(h.registry.Declare(step.Owner, step.Name, v)), fields)

	case OpLookup:
		fields := map[string]any{"owner": step.Owner, "name": step.Name}
		v, err := h.registry.Lookup(step.Owner, step.Name)
		if err == nil {
			fields["value"] = v.String()
		}
		return result.addEvent(i, step.Op, ErrorCode(err), fields)

	case OpOpen, OpOpenTyped:
		fields := map[string]any{"entity": step.Entity}
		var (
			handle *ledger.Handle
			err    error
		)
		if step.Op == OpOpenTyped {
			fields["owner"] = step.Owner
			handle, err = h.ledger.OpenTyped(step.Owner, step.Entity)
		} else {
			handle, err = h.ledger.Open(step.Entity)
		}
		if err == nil {
			fields["head"], _ = handle.Head()
		}
		return result.addEvent(i, step.Op, ErrorCode(err), fields)

	case OpEvolve:
		payload := step.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		fields := map[string]any{"entity": step.Entity, "metric": metricText(*step.Metric)}
		rec, err := h.ledger.Evolve(step.Entity, *step.Metric, payload)
		if err == nil {
			fields["seq"] = rec.Sequence
			fields["payload_digest"] = rec.PayloadDigest
			fields["chain_digest"] = rec.ChainDigest
		}
		return result.addEvent(i, step.Op, ErrorCode(err), fields)

	case OpVerify:
		fields := map[string]any{"entity": step.Entity}
		report, err := h.verify(step.Entity)
		if err == nil {
			fields["chain_ok"] = report.ChainOK
			fields["monotonic_ok"] = report.MonotonicOK
			fields["records"] = report.Records
			fields["head"] = report.HeadDigest
			if report.FirstFailingSequence != nil {
				fields["first_failing_sequence"] = *report.FirstFailingSequence
			}
		}
		return result.addEvent(i, step.Op, ErrorCode(err), fields)

	case OpTamper:
		fields := map[string]any{"entity": step.Entity, "seq": step.Seq, "field": step.Field}
		return result.addEvent(i, step.Op, ErrorCode(h.tamper(step)), fields)

	case OpReload:
		fields := map[string]any{}
		snap, err := h.reload(ctx)
		if err == nil {
			digest, derr := snapshot.Digest(snap)
			if derr != nil {
				err = derr
			} else {
				fields["declarations"] = len(snap.Declarations)
				fields["entities"] = len(snap.Entities)
				fields["records"] = snap.RecordCount()
				fields["snapshot"] = digest
			}
		}
		return result.addEvent(i, step.Op, ErrorCode(err), fields)
	}

	// validateScenario rejects unknown ops; reaching here means the
	// scenario was built in code.
	return result.addEvent(i, step.Op, CodeError, map[string]any{"reason": "unknown op"})
}

func (h *Harness) verify(entityID string) (ledger.Report, error) {
	if recs, ok := h.tampered[entityID]; ok {
		return ledger.VerifyRecords(entityID, recs), nil
	}
	return h.ledger.Verify(entityID)
}

// tamper rewrites one field of a stored record in the entity's tampered
// copy, creating the copy on first use.
func (h *Harness) tamper(step Step) error {
	recs, ok := h.tampered[step.Entity]
	if !ok {
		handle, err := h.ledger.Lookup(step.Entity)
		if err != nil {
			return err
		}
		recs = handle.Records()
	}
	if step.Seq < 0 || step.Seq >= int64(len(recs)) {
		return errNoSuchRecord
	}

	rec := &recs[step.Seq]
	switch step.Field {
	case FieldPayloadDigest:
		rec.PayloadDigest = ir.MustPayloadDigest(map[string]any{"tampered": true})
	case FieldChainDigest:
		rec.ChainDigest = ir.GenesisDigest
	case FieldMetric:
		rec.Metric = *step.Metric
	}
	h.tampered[step.Entity] = recs
	return nil
}

// reload round-trips the current state (tampered copies included) through
// the SQLite store into a fresh registry and ledger. On failure the
// previous instances stay live.
func (h *Harness) reload(ctx context.Context) (snapshot.Snapshot, error) {
	snap := snapshot.Capture(h.registry, h.ledger)
	for i, e := range snap.Entities {
		if recs, ok := h.tampered[e.EntityID]; ok {
			snap.Entities[i].Records = recs
		}
	}
	if err := h.store.Save(ctx, snap); err != nil {
		return snapshot.Snapshot{}, err
	}

	reg, led := h.fresh()
	if err := snapshot.Load(ctx, h.store, reg, led); err != nil {
		return snapshot.Snapshot{}, err
	}

	h.registry, h.ledger = reg, led
	clear(h.tampered)
	return snapshot.Capture(reg, led), nil
}

var errNoSuchRecord = errors.New("no such record")

// ErrorCode maps an error to its trace code. A nil error maps to "".
func ErrorCode(err error) string {
	var (
		rangeErr      *ledger.MetricRangeError
		notTrackedErr *ledger.NotTrackedError
		invalidErr    *registry.InvalidValueError
	)
	switch {
	case err == nil:
		return ""
	case registry.IsDuplicate(err):
		return CodeDuplicate
	case registry.IsUnknown(err):
		return CodeUnknown
	case errors.As(err, &invalidErr),
		errors.Is(err, registry.ErrEmptyName),
		errors.Is(err, registry.ErrEmptyOwner):
		return CodeInvalid
	case ledger.IsRegression(err):
		return CodeRegression
	case errors.As(err, &rangeErr):
		return CodeOutOfRange
	case ledger.IsSerialization(err):
		return CodeSerialization
	case errors.As(err, &notTrackedErr):
		return CodeNotTracked
	case ledger.IsCorruption(err):
		return CodeCorruption
	case errors.Is(err, ledger.ErrUnknownEntity):
		return CodeUnknownEntity
	case errors.Is(err, errNoSuchRecord):
		return CodeNoSuchRecord
	default:
		return CodeError
	}
}

// ToValue converts a decoded YAML or CUE scalar into a declarable value:
// strings, numbers, and lists of numbers.
func ToValue(v any) (registry.Value, error) {
	switch val := v.(type) {
	case string:
		return registry.String(val), nil
	case []any:
		fs := make([]float64, len(val))
		for i, elem := range val {
			f, ok := toFloat(elem)
			if !ok {
				return registry.Value{}, fmt.Errorf("tuple element %d: %v is not a number", i, elem)
			}
			fs[i] = f
		}
		return registry.Tuple(fs...), nil
	}
	if f, ok := toFloat(v); ok {
		return registry.Number(f), nil
	}
	return registry.Value{}, fmt.Errorf("unsupported value %v (%T)", v, v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// metricText renders a metric for the trace. Non-finite metrics, which the
// ledger rejects, fall back to Go's formatting.
func metricText(m float64) string {
	if s, err := ir.FormatMetric(m); err == nil {
		return s
	}
	return strconv.FormatFloat(m, 'g', -1, 64)
}

// checkExpect compares a step's trace event with its expect clause.
func checkExpect(i int, step Step, ev TraceEvent, result *Result) {
	want := step.Expect
	if want == nil {
		if ev.Error != "" {
			result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error %q", i, step.Op, ev.Error))
		}
		return
	}

	if ev.Error != want.Error {
		result.AddError(fmt.Sprintf("steps[%d] %s: error = %q, want %q", i, step.Op, ev.Error, want.Error))
		return
	}

	if want.Value != nil {
		v, err := ToValue(want.Value)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: bad expected value: %v", i, step.Op, err))
		} else if ev.Fields["value"] != v.String() {
			result.AddError(fmt.Sprintf("steps[%d] %s: value = %v, want %s", i, step.Op, ev.Fields["value"], v))
		}
	}
	if want.Seq != nil && ev.Fields["seq"] != *want.Seq {
		result.AddError(fmt.Sprintf("steps[%d] %s: seq = %v, want %d", i, step.Op, ev.Fields["seq"], *want.Seq))
	}
	if want.ChainOK != nil && ev.Fields["chain_ok"] != *want.ChainOK {
		result.AddError(fmt.Sprintf("steps[%d] %s: chain_ok = %v, want %t", i, step.Op, ev.Fields["chain_ok"], *want.ChainOK))
	}
	if want.MonotonicOK != nil && ev.Fields["monotonic_ok"] != *want.MonotonicOK {
		result.AddError(fmt.Sprintf("steps[%d] %s: monotonic_ok = %v, want %t", i, step.Op, ev.Fields["monotonic_ok"], *want.MonotonicOK))
	}
	if want.FirstFailingSequence != nil && ev.Fields["first_failing_sequence"] != *want.FirstFailingSequence {
		result.AddError(fmt.Sprintf("steps[%d] %s: first_failing_sequence = %v, want %d",
			i, step.Op, ev.Fields["first_failing_sequence"], *want.FirstFailingSequence))
	}
}

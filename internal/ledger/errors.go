package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyEntityID is returned when an entity id is empty.
	ErrEmptyEntityID = errors.New("entity id must not be empty")

	// ErrUnknownEntity is returned by operations that require an opened
	// entity. Wrapped with the entity id.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrAlreadyPopulated is returned by Restore when the entity already has
	// records in memory.
	ErrAlreadyPopulated = errors.New("entity already has records")
)

// RegressionError reports an Evolve whose metric is below the entity's
// current metric. Nothing was appended.
type RegressionError struct {
	EntityID string
	Current  float64
	Proposed float64
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("regression on %s: metric %v is below current %v", e.EntityID, e.Proposed, e.Current)
}

// MetricRangeError reports a metric outside [0, 1] or NaN.
type MetricRangeError struct {
	EntityID string
	Metric   float64
}

func (e *MetricRangeError) Error() string {
	return fmt.Sprintf("metric %v for %s is outside [0, 1]", e.Metric, e.EntityID)
}

// SerializationError reports a state payload with no canonical form.
// Nothing was appended.
type SerializationError struct {
	EntityID string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot serialize state of %s: %v", e.EntityID, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// NotTrackedError reports an OpenTyped on a type without the tracked
// declaration.
type NotTrackedError struct {
	Owner string
}

func (e *NotTrackedError) Error() string {
	return fmt.Sprintf("type %s is not declared tracked", e.Owner)
}

// CorruptionError wraps a failed verification. It is only produced when
// loading persisted history; Verify itself reports corruption as data.
type CorruptionError struct {
	Report Report
}

func (e *CorruptionError) Error() string {
	seq := int64(-1)
	if e.Report.FirstFailingSequence != nil {
		seq = *e.Report.FirstFailingSequence
	}
	return fmt.Sprintf("ledger %s corrupted at sequence %d (chain_ok=%t, monotonic_ok=%t)",
		e.Report.EntityID, seq, e.Report.ChainOK, e.Report.MonotonicOK)
}

// IsRegression returns true if err is or wraps a RegressionError.
func IsRegression(err error) bool {
	var re *RegressionError
	return errors.As(err, &re)
}

// IsSerialization returns true if err is or wraps a SerializationError.
func IsSerialization(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// IsCorruption returns true if err is or wraps a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

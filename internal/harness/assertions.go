package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/sigil/internal/ledger"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		status := "ok"
		if event.Error != "" {
			status = event.Error
		}
		fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Step, event.Op, status)
	}

	return buf.String()
}

// history returns the live records of an entity, or nil if it was never
// opened.
func (h *Harness) history(entityID string) []ledger.Record {
	return slices.Collect(h.ledger.History(entityID))
}

func assertHistoryLength(h *Harness, trace []TraceEvent, a Assertion) error {
	if n := len(h.history(a.Entity)); n != a.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%s has %d records", a.Entity, a.Count),
			Actual:   fmt.Sprintf("%d records", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertHead(h *Harness, trace []TraceEvent, a Assertion) error {
	digest, _, err := h.ledger.Head(a.Entity)
	if err != nil {
		return &AssertionError{
			Type:     AssertHead,
			Expected: fmt.Sprintf("%s head %s", a.Entity, a.Digest),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	if digest != a.Digest {
		return &AssertionError{
			Type:     AssertHead,
			Expected: fmt.Sprintf("%s head %s", a.Entity, a.Digest),
			Actual:   digest,
			Trace:    trace,
		}
	}
	return nil
}

func assertNonDecreasing(h *Harness, trace []TraceEvent, a Assertion) error {
	recs := h.history(a.Entity)
	for i := 1; i < len(recs); i++ {
		if recs[i].Metric < recs[i-1].Metric {
			return &AssertionError{
				Type:     AssertNonDecreasing,
				Expected: fmt.Sprintf("%s metrics never decrease", a.Entity),
				Actual: fmt.Sprintf("seq %d metric %v below seq %d metric %v",
					i, recs[i].Metric, i-1, recs[i-1].Metric),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertDeclarations(h *Harness, trace []TraceEvent, a Assertion) error {
	n := h.registry.Len()
	target := "registry"
	if a.Owner != "" {
		n = 0
		for range h.registry.ListFor(a.Owner) {
			n++
		}
		target = a.Owner
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertDeclarations,
			Expected: fmt.Sprintf("%s has %d declarations", target, a.Count),
			Actual:   fmt.Sprintf("%d declarations", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertEntities(h *Harness, trace []TraceEvent, a Assertion) error {
	if n := len(h.ledger.Entities()); n != a.Count {
		return &AssertionError{
			Type:     AssertEntities,
			Expected: fmt.Sprintf("%d entities", a.Count),
			Actual:   fmt.Sprintf("%d entities", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount counts events with the given op, and error code when set.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op && (a.Error == "" || event.Error == a.Error) {
			count++
		}
	}

	if count != a.Count {
		what := a.Op
		if a.Error != "" {
			what += " failing with " + a.Error
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", what, a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and the
// harness's final state. Returns a slice of error messages for failed
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertHistoryLength:
			err = assertHistoryLength(h, result.Trace, assertion)
		case AssertHead:
			err = assertHead(h, result.Trace, assertion)
		case AssertNonDecreasing:
			err = assertNonDecreasing(h, result.Trace, assertion)
		case AssertDeclarations:
			err = assertDeclarations(h, result.Trace, assertion)
		case AssertEntities:
			err = assertEntities(h, result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

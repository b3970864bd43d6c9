package harness

// TraceEvent is the observable outcome of one step.
//
// Fields holds only strings, integers and booleans so the event always has
// a canonical form; metrics are recorded as ir.FormatMetric text.
type TraceEvent struct {
	Step   int            `json:"step"`
	Op     string         `json:"op"`
	Error  string         `json:"error,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends an event to the trace and returns it for expectation
// checks.
func (r *Result) addEvent(step int, op, errCode string, fields map[string]any) TraceEvent {
	ev := TraceEvent{Step: step, Op: op, Error: errCode, Fields: fields}
	r.Trace = append(r.Trace, ev)
	return ev
}

package harness

// Trace event types.
const (
	EventMesh      = "mesh"
	EventArray     = "array"
	EventAssertion = "assertion"
)

// TraceEvent records one step of scenario execution.
// Only integer and string fields so traces serialize canonically.
type TraceEvent struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Op    string `json:"op,omitempty"`
	DType string `json:"dtype,omitempty"`
	Shape []int  `json:"shape,omitempty"`
	Index int    `json:"index,omitempty"`

	// Stored reports whether storing an array added a new row.
	Stored *bool `json:"stored,omitempty"`

	// Pass is set on assertion events.
	Pass *bool `json:"pass,omitempty"`

	Seq int64 `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every execution step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
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

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddMeshTrace records one grid output.
func (r *Result) AddMeshTrace(index int, shape []int, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:  EventMesh,
		Index: index,
		DType: "float64",
		Shape: shape,
		Seq:   seq,
	})
}

// AddArrayTrace records a named array and whether the store added it.
func (r *Result) AddArrayTrace(name, op string, shape []int, stored bool, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventArray,
		Name:   name,
		Op:     op,
		DType:  "int64",
		Shape:  shape,
		Stored: &stored,
		Seq:    seq,
	})
}

// AddAssertionTrace records an assertion outcome.
func (r *Result) AddAssertionTrace(assertionType string, pass bool, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type: EventAssertion,
		Name: assertionType,
		Pass: &pass,
		Seq:  seq,
	})
}

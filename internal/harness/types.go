package harness

// Trace entry kinds.
const (
	KindCall      = "call"
	KindResponse  = "response"
	KindFault     = "fault"
	KindEvent     = "event"
	KindPeerEvent = "peer_event"
)

// TraceEvent is one frame of a session as the client or device saw it.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`
	Name string `json:"name"`
	// Handler is the endpoint ID or event index on the wire.
	Handler uint16 `json:"handler"`
	Payload string `json:"payload"`
	// Data is the decoded payload. Faults carry none.
	Data any    `json:"data,omitempty"`
	Code uint16 `json:"code,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult returns a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends ev with the next sequence number.
func (r *Result) record(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

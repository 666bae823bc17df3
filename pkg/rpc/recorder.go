package rpc

// Outcomes passed to a Recorder.
const (
	OutcomeCall          = "call"
	OutcomeReply         = "reply"
	OutcomeTimeout       = "timeout"
	OutcomeCancelled     = "cancelled"
	OutcomeTransportLost = "transport_lost"
	OutcomeNotConnected  = "not_connected"
	OutcomeError         = "error"
	OutcomeDroppedReply  = "dropped_reply"
	OutcomeUnknownKind   = "unknown_kind"
	OutcomeMalformed     = "malformed"
	OutcomeHandlerError  = "handler_error"
	OutcomeServed        = "served"
)

// Recorder counts call outcomes per call kind.
type Recorder interface {
	Record(kind, outcome string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(kind, outcome string) {}

package transfer

// Outcome is the terminal answer to the command that started a session.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDenied
	OutcomeBusy
	OutcomeNoLogs
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeDenied:
		return "Denied"
	case OutcomeBusy:
		return "Busy"
	case OutcomeNoLogs:
		return "NoLogs"
	case OutcomeExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// PendingResponse is a single-use ticket for answering the command that
// started a session. The first Respond invokes the callback and clears it;
// later calls fail with ErrResponseConsumed.
//
// A nil *PendingResponse is valid and holds nothing.
type PendingResponse struct {
	respond func(Outcome)
}

// NewPendingResponse wraps respond in a single-use ticket.
func NewPendingResponse(respond func(Outcome)) *PendingResponse {
	return &PendingResponse{respond: respond}
}

// Respond issues the response.
func (p *PendingResponse) Respond(o Outcome) error {
	if p == nil || p.respond == nil {
		return ErrResponseConsumed
	}
	fn := p.respond
	p.respond = nil
	fn(o)
	return nil
}

// Held reports whether the response has not been issued yet.
func (p *PendingResponse) Held() bool {
	return p != nil && p.respond != nil
}

package dialog

// CallState is the INVITE client transaction's state.
type CallState int

const (
	Calling CallState = iota
	Proceeding
	Completed
	Terminated
)

func (s CallState) String() string {
	switch s {
	case Calling:
		return "Calling"
	case Proceeding:
		return "Proceeding"
	case Completed:
		return "Completed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Action is what an incoming response should trigger in addition to the
// state change.
type Action int

const (
	ActionNone Action = iota
	ActionAck
	ActionAckAndDeliver
)

// transitionInvite is the pure (state, status) -> (state, action) table
// for the Calling/Proceeding/Completed states of an INVITE client
// transaction. Terminated is not modeled here: once an INVITE dialog
// reaches it, further traffic is routed through the ordinary dialog
// request/response machinery instead of this table.
func transitionInvite(state CallState, status int) (CallState, Action) {
	switch state {
	case Calling, Proceeding:
		switch {
		case status >= 100 && status < 200:
			return Proceeding, ActionNone
		case status == 200:
			return Terminated, ActionAckAndDeliver
		case status >= 300 && status < 700:
			return Completed, ActionAckAndDeliver
		}
		return state, ActionNone
	case Completed:
		return Completed, ActionAck
	default:
		return state, ActionNone
	}
}

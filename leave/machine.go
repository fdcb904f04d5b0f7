package leave

// =============================================================================
// STATE MACHINE
// =============================================================================
//
//	pending  --approve-->  approved
//	pending  --reject--->  rejected
//	pending  --cancel--->  cancelled
//	approved --cancel--->  cancelled   (HR/Admin override, releases usage)
//
// Rejected and cancelled are terminal.

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func checkTransition(req LeaveRequest, to Status) error {
	if !CanTransition(req.Status, to) {
		return requestError(ErrInvalidTransition, req, "cannot move from %s to %s", req.Status, to)
	}
	return nil
}

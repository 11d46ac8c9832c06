package model

type CallType string

const (
	CallTypeDirect CallType = "direct"
	CallTypeGroup  CallType = "group"
)

// CallStatus is the persisted lifecycle state of a leg. Transitions are
// monotonic along ringing → {accepted|rejected|missed} → ended; ended is
// terminal and idempotent to re-apply.
type CallStatus string

const (
	StatusRinging  CallStatus = "ringing"
	StatusAccepted CallStatus = "accepted"
	StatusRejected CallStatus = "rejected"
	StatusMissed   CallStatus = "missed"
	StatusEnded    CallStatus = "ended"
)

// IsTerminal reports whether no further user action can revive the leg.
// Accepted is live, not terminal.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusMissed, StatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a valid edge of the leg state
// machine. Re-applying ended is allowed so that end stays idempotent.
func CanTransition(from, to CallStatus) bool {
	switch from {
	case StatusRinging:
		return to == StatusAccepted || to == StatusRejected || to == StatusMissed || to == StatusEnded
	case StatusAccepted, StatusRejected, StatusMissed:
		return to == StatusEnded
	case StatusEnded:
		return to == StatusEnded
	}
	return false
}

// TransitionAction is a store mutation requested by a participant.
type TransitionAction string

const (
	ActionAccept TransitionAction = "accept"
	ActionReject TransitionAction = "reject"
	ActionEnd    TransitionAction = "end"
	// ActionMiss is only ever applied by the ring-timeout sweep.
	ActionMiss TransitionAction = "miss"
)

// TargetStatus returns the status the action drives a leg toward.
func (a TransitionAction) TargetStatus() (CallStatus, bool) {
	switch a {
	case ActionAccept:
		return StatusAccepted, true
	case ActionReject:
		return StatusRejected, true
	case ActionEnd:
		return StatusEnded, true
	case ActionMiss:
		return StatusMissed, true
	}
	return "", false
}

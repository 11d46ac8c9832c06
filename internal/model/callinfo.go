package model

// CallInfo is what a connected client renders about the call it is in.
// Direct and group calls carry genuinely different information, so this is
// a tagged variant rather than one struct with optional fields.
type CallInfo interface {
	isCallInfo()
}

// DirectInfo describes a two-party call.
type DirectInfo struct {
	LegID string
	Peer  string
}

// GroupInfo describes a multi-party call. Participants is the roster at the
// time of the last resolution; it is refreshed, never fixed at first join.
type GroupInfo struct {
	GroupSessionID string
	Participants   []RosterMember
}

func (DirectInfo) isCallInfo() {}
func (GroupInfo) isCallInfo()  {}

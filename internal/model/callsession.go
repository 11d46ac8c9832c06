package model

import (
	"time"
)

// CallSession is one leg of a call: the relationship between a caller and
// exactly one callee for a given call attempt. For group calls every leg
// shares the same GroupSessionID.
type CallSession struct {
	ID             string     `db:"id" json:"id"`
	CallerID       string     `db:"caller_id" json:"callerId"`
	CalleeID       string     `db:"callee_id" json:"calleeId"`
	CallType       CallType   `db:"call_type" json:"callType"`
	GroupSessionID *string    `db:"group_session_id" json:"groupSessionId,omitempty"`
	ConversationID *string    `db:"conversation_id" json:"conversationId,omitempty"`
	Status         CallStatus `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	LastUpdatedAt  time.Time  `db:"last_updated_at" json:"lastUpdatedAt"`
}

// IsTerminal reports whether the leg can never ring or connect again.
func (c *CallSession) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// TransportKey is the key both sides hand to the peer transport so that all
// legs of one call join the same transport session.
func (c *CallSession) TransportKey() string {
	if c.GroupSessionID != nil {
		return *c.GroupSessionID
	}
	return c.ID
}

type CreateCallLegParams struct {
	CallerID       string
	CalleeID       string
	CallType       CallType
	GroupSessionID *string
	ConversationID *string
}

// RosterMember is one already-connected participant a joining client needs
// to render.
type RosterMember struct {
	UserID string `json:"userId"`
	LegID  string `json:"legId"`
}

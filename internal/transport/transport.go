// Package transport establishes the peer media path for a call. The
// signaling store only hands both sides the same session key; everything
// after that (ICE, SDP, media) happens here.
package transport

import "context"

// Role distinguishes who creates the peer connection first. The initiator
// bootstraps eagerly while the callee is still ringing; the joiner
// bootstraps on accept.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// Session is one live peer media session. Callbacks must be registered
// before the session connects; Close is idempotent.
type Session interface {
	Key() string
	OnConnected(fn func())
	OnDisconnected(fn func())
	Close() error
}

// Transport bootstraps peer sessions. One session per key: the key is the
// group session id for group calls and the leg id for direct calls, so all
// participants of one call converge on the same session.
type Transport interface {
	Bootstrap(ctx context.Context, sessionKey string, role Role) (Session, error)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Run("ringing can move to every next state", func(t *testing.T) {
		for _, to := range []CallStatus{StatusAccepted, StatusRejected, StatusMissed, StatusEnded} {
			assert.True(t, CanTransition(StatusRinging, to), "ringing → %s", to)
		}
	})

	t.Run("intermediate states only move to ended", func(t *testing.T) {
		for _, from := range []CallStatus{StatusAccepted, StatusRejected, StatusMissed} {
			assert.True(t, CanTransition(from, StatusEnded), "%s → ended", from)
			assert.False(t, CanTransition(from, StatusRinging), "%s → ringing", from)
			assert.False(t, CanTransition(from, StatusAccepted) && from != StatusAccepted)
		}
		assert.False(t, CanTransition(StatusAccepted, StatusRejected))
		assert.False(t, CanTransition(StatusRejected, StatusAccepted))
	})

	t.Run("ended is terminal but idempotent", func(t *testing.T) {
		assert.True(t, CanTransition(StatusEnded, StatusEnded))
		assert.False(t, CanTransition(StatusEnded, StatusRinging))
		assert.False(t, CanTransition(StatusEnded, StatusAccepted))
	})

	t.Run("no reversal back to ringing from anywhere", func(t *testing.T) {
		for _, from := range []CallStatus{StatusAccepted, StatusRejected, StatusMissed, StatusEnded} {
			assert.False(t, CanTransition(from, StatusRinging))
		}
	})
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusRinging.IsTerminal())
	assert.False(t, StatusAccepted.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusMissed.IsTerminal())
	assert.True(t, StatusEnded.IsTerminal())
}

func TestTargetStatus(t *testing.T) {
	cases := map[TransitionAction]CallStatus{
		ActionAccept: StatusAccepted,
		ActionReject: StatusRejected,
		ActionEnd:    StatusEnded,
		ActionMiss:   StatusMissed,
	}
	for action, want := range cases {
		got, ok := action.TargetStatus()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := TransitionAction("hold").TargetStatus()
	assert.False(t, ok)
}

func TestTransportKey(t *testing.T) {
	gid := "group-1"
	direct := &CallSession{ID: "leg-1", CallType: CallTypeDirect}
	group := &CallSession{ID: "leg-2", CallType: CallTypeGroup, GroupSessionID: &gid}

	assert.Equal(t, "leg-1", direct.TransportKey())
	assert.Equal(t, "group-1", group.TransportKey())
}

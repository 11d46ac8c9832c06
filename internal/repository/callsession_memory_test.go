package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/callsignal/internal/model"
)

func createRinging(t *testing.T, repo *MemoryCallSessionRepository, caller, callee string) *model.CallSession {
	t.Helper()
	leg, err := repo.Create(context.Background(), model.CreateCallLegParams{
		CallerID: caller,
		CalleeID: callee,
		CallType: model.CallTypeDirect,
	})
	require.NoError(t, err)
	return leg
}

func TestMemoryRepoTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("accept only applies to a ringing leg", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		leg := createRinging(t, repo, "alice", "bob")

		status, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionAccept, "bob")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, model.StatusAccepted, status)

		// A second accept finds the guard closed.
		status, applied, err = repo.UpdateStatus(ctx, leg.ID, model.ActionAccept, "bob")
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, model.StatusAccepted, status)
	})

	t.Run("end applies from any non-terminal state and re-applies silently", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		leg := createRinging(t, repo, "alice", "bob")

		_, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionEnd, "alice")
		require.NoError(t, err)
		assert.True(t, applied)

		status, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionEnd, "bob")
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, model.StatusEnded, status)
	})

	t.Run("unknown leg reports ErrLegNotFound", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		_, _, err := repo.UpdateStatus(ctx, "nope", model.ActionEnd, "alice")
		assert.ErrorIs(t, err, ErrLegNotFound)
	})
}

func TestMemoryRepoConcurrentAcceptEnd(t *testing.T) {
	// Concurrent accept and end must resolve to exactly one persisted
	// status; whichever loses sees applied=false with the winner's status.
	ctx := context.Background()
	repo := NewMemoryCallSessionRepository()
	leg := createRinging(t, repo, "alice", "bob")

	var wg sync.WaitGroup
	var acceptApplied, endApplied bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionAccept, "bob")
		require.NoError(t, err)
		acceptApplied = applied
	}()
	go func() {
		defer wg.Done()
		_, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionEnd, "alice")
		require.NoError(t, err)
		endApplied = applied
	}()
	wg.Wait()

	// End wins either order (accept→end is a valid edge), but only the
	// accept side can lose; there is never a split outcome.
	final, err := repo.FindByID(ctx, leg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, final.Status)
	assert.True(t, endApplied)
	_ = acceptApplied
}

func TestMemoryRepoQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("FindRingingByCallee returns only ringing legs, oldest first", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		first := createRinging(t, repo, "alice", "bob")
		time.Sleep(time.Millisecond)
		second := createRinging(t, repo, "carol", "bob")
		createRinging(t, repo, "alice", "dave")

		_, _, err := repo.UpdateStatus(ctx, first.ID, model.ActionReject, "bob")
		require.NoError(t, err)

		legs, err := repo.FindRingingByCallee(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, legs, 1)
		assert.Equal(t, second.ID, legs[0].ID)
	})

	t.Run("FindByGroupID returns every leg of the group", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		gid := "group-1"
		for _, callee := range []string{"bob", "carol"} {
			_, err := repo.Create(ctx, model.CreateCallLegParams{
				CallerID:       "alice",
				CalleeID:       callee,
				CallType:       model.CallTypeGroup,
				GroupSessionID: &gid,
			})
			require.NoError(t, err)
		}

		legs, err := repo.FindByGroupID(ctx, gid)
		require.NoError(t, err)
		assert.Len(t, legs, 2)
	})

	t.Run("FindActiveByCaller keeps recently settled legs visible", func(t *testing.T) {
		repo := NewMemoryCallSessionRepository()
		leg := createRinging(t, repo, "alice", "bob")

		_, _, err := repo.UpdateStatus(ctx, leg.ID, model.ActionReject, "bob")
		require.NoError(t, err)

		// Rejected moments ago: still on the caller's poll surface so the
		// caller observes the terminal transition.
		legs, err := repo.FindActiveByCaller(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, legs, 1)
		assert.Equal(t, model.StatusRejected, legs[0].Status)
	})
}

func TestMemoryRepoMarkMissed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCallSessionRepository()

	stale := createRinging(t, repo, "alice", "bob")
	fresh := createRinging(t, repo, "alice", "carol")

	count, err := repo.MarkRingingMissedBefore(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	for _, id := range []string{stale.ID, fresh.ID} {
		leg, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusMissed, leg.Status)
	}

	// Second sweep finds nothing ringing.
	count, err = repo.MarkRingingMissedBefore(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, count)
}

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/callsignal/internal/model"
	"github.com/carelink/callsignal/internal/repository"
)

func TestRingTimeoutJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewRingTimeoutJob(nil, 45*time.Second, 5*time.Second)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Second, job.interval)
		assert.Equal(t, 45*time.Second, job.ringTimeout)
	})

	t.Run("starts and stops without panic", func(t *testing.T) {
		repo := repository.NewMemoryCallSessionRepository()
		job := NewRingTimeoutJob(repo, 45*time.Second, 100*time.Millisecond)

		job.Start()
		time.Sleep(50 * time.Millisecond)
		job.Stop()
	})

	t.Run("marks stale ringing legs missed on sweep", func(t *testing.T) {
		ctx := context.Background()
		repo := repository.NewMemoryCallSessionRepository()

		leg, err := repo.Create(ctx, model.CreateCallLegParams{
			CallerID: "alice",
			CalleeID: "bob",
			CallType: model.CallTypeDirect,
		})
		require.NoError(t, err)

		// Zero ring timeout makes every ringing leg immediately stale.
		job := NewRingTimeoutJob(repo, 0, 1*time.Hour)
		job.Start()
		time.Sleep(20 * time.Millisecond)
		job.Stop()

		got, err := repo.FindByID(ctx, leg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusMissed, got.Status)
	})

	t.Run("leaves accepted legs untouched", func(t *testing.T) {
		ctx := context.Background()
		repo := repository.NewMemoryCallSessionRepository()

		leg, err := repo.Create(ctx, model.CreateCallLegParams{
			CallerID: "alice",
			CalleeID: "bob",
			CallType: model.CallTypeDirect,
		})
		require.NoError(t, err)

		_, applied, err := repo.UpdateStatus(ctx, leg.ID, model.ActionAccept, "bob")
		require.NoError(t, err)
		require.True(t, applied)

		job := NewRingTimeoutJob(repo, 0, 1*time.Hour)
		job.sweep()

		got, err := repo.FindByID(ctx, leg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAccepted, got.Status)
	})
}

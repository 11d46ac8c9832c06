package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/carelink/callsignal/internal/errors"
)

func TestClassifyDeviceError(t *testing.T) {
	t.Run("nil error classifies to nil", func(t *testing.T) {
		assert.Nil(t, ClassifyDeviceError(nil))
	})

	t.Run("permission errors", func(t *testing.T) {
		for _, msg := range []string{
			"open /dev/video0: permission denied",
			"microphone access denied by user",
			"operation not permitted",
		} {
			appErr := ClassifyDeviceError(errors.New(msg))
			assert.Equal(t, apperrors.ErrCodePermissionDenied, appErr.Code, msg)
		}
	})

	t.Run("missing device errors", func(t *testing.T) {
		for _, msg := range []string{
			"open /dev/video0: no such device",
			"failed to find the best driver that fits the constraints",
		} {
			appErr := ClassifyDeviceError(errors.New(msg))
			assert.Equal(t, apperrors.ErrCodeDeviceNotFound, appErr.Code, msg)
		}
	})

	t.Run("anything else is unavailable", func(t *testing.T) {
		appErr := ClassifyDeviceError(errors.New("device or resource busy"))
		assert.Equal(t, apperrors.ErrCodeDeviceUnavailable, appErr.Code)
	})

	t.Run("existing app errors pass through", func(t *testing.T) {
		orig := apperrors.PermissionDenied(errors.New("denied"))
		assert.Same(t, orig, ClassifyDeviceError(orig))
	})
}

func TestFakeAcquirer(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire returns requested kinds", func(t *testing.T) {
		acq := NewFakeAcquirer()
		stream, err := acq.Acquire(ctx, Constraints{Audio: true, Video: true})
		require.NoError(t, err)

		kinds := make(map[TrackKind]bool)
		for _, tr := range stream.Tracks() {
			kinds[tr.Kind()] = true
		}
		assert.True(t, kinds[TrackKindAudio])
		assert.True(t, kinds[TrackKindVideo])
	})

	t.Run("stream close releases every track", func(t *testing.T) {
		acq := NewFakeAcquirer()
		stream, err := acq.Acquire(ctx, Constraints{Audio: true, Video: true})
		require.NoError(t, err)
		assert.Equal(t, 2, acq.OpenTrackCount())

		stream.Close()
		stream.Close()
		assert.Equal(t, 0, acq.OpenTrackCount())
	})

	t.Run("configured failure is classified", func(t *testing.T) {
		acq := NewFakeAcquirer()
		acq.FailErr = errors.New("camera: permission denied")

		_, err := acq.Acquire(ctx, Constraints{Video: true})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodePermissionDenied, apperrors.GetCode(err))
	})
}

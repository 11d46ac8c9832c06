//go:build linux && cgo

package media

import (
	"context"
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	apperrors "github.com/carelink/callsignal/internal/errors"
)

// DeviceAcquirer captures camera and microphone via pion/mediadevices
// (V4L2 + malgo on Linux).
type DeviceAcquirer struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceAcquirer() (*DeviceAcquirer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceAcquirer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// CodecSelector exposes the selector so the transport can register the
// same codecs on its media engine.
func (a *DeviceAcquirer) CodecSelector() *mediadevices.CodecSelector {
	return a.selector
}

func (a *DeviceAcquirer) Acquire(ctx context.Context, constraints Constraints) (*Stream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, apperrors.InvalidInput("constraints", "at least one of audio or video must be requested")
	}

	mdc := mediadevices.MediaStreamConstraints{Codec: a.selector}
	if constraints.Video {
		mdc.Video = func(c *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras emit malformed frames that
			// poison the VP8 encoder. Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if constraints.Audio {
		mdc.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(mdc)
	if err != nil {
		log.Warn().Err(err).Bool("audio", constraints.Audio).Bool("video", constraints.Video).
			Msg("media capture failed")
		return nil, ClassifyDeviceError(err)
	}

	tracks := make([]Track, 0, len(stream.GetTracks()))
	for _, t := range stream.GetTracks() {
		tracks = append(tracks, &deviceTrack{track: t})
	}
	log.Info().Int("tracks", len(tracks)).Msg("local media captured")
	return NewStream(tracks), nil
}

// AcquireDisplay is not implemented on top of mediadevices; screen capture
// needs a per-compositor driver this package does not carry.
func (a *DeviceAcquirer) AcquireDisplay(ctx context.Context) (*Stream, error) {
	return nil, apperrors.DeviceNotFound(errors.New("screen capture device not available"))
}

type deviceTrack struct {
	track mediadevices.Track
}

func (t *deviceTrack) ID() string { return t.track.ID() }

func (t *deviceTrack) Kind() TrackKind {
	if t.track.Kind().String() == "audio" {
		return TrackKindAudio
	}
	return TrackKindVideo
}

func (t *deviceTrack) Close() error { return t.track.Close() }

// Unwrap gives the transport access to the underlying mediadevices track
// for AddTrack.
func (t *deviceTrack) Unwrap() mediadevices.Track { return t.track }

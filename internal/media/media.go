// Package media acquires local capture devices for calls. Real capture
// goes through pion/mediadevices; tests use the fake acquirer so no
// hardware is touched.
package media

import "context"

// Constraints selects which kinds of tracks to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is one live capture track. Close releases the underlying device.
type Track interface {
	ID() string
	Kind() TrackKind
	Close() error
}

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Stream is the set of tracks from one acquisition. Close closes every
// track; it is safe to call more than once.
type Stream struct {
	tracks []Track
	closed bool
}

func NewStream(tracks []Track) *Stream {
	return &Stream{tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	return s.tracks
}

func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.tracks {
		_ = t.Close()
	}
}

// Acquirer opens local capture devices. Acquire must either return a
// usable stream or a classified device error; it never returns a stream
// holding half-opened devices.
type Acquirer interface {
	Acquire(ctx context.Context, constraints Constraints) (*Stream, error)
	AcquireDisplay(ctx context.Context) (*Stream, error)
}

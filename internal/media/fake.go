package media

import (
	"context"
	"fmt"
	"sync"
)

// FakeAcquirer hands out in-memory tracks and records every track it ever
// opened, so tests can assert that teardown closed all of them.
type FakeAcquirer struct {
	mu      sync.Mutex
	nextID  int
	opened  []*FakeTrack
	FailErr error
}

func NewFakeAcquirer() *FakeAcquirer {
	return &FakeAcquirer{}
}

func (a *FakeAcquirer) Acquire(ctx context.Context, constraints Constraints) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailErr != nil {
		return nil, ClassifyDeviceError(a.FailErr)
	}

	var tracks []Track
	if constraints.Audio {
		tracks = append(tracks, a.newTrack(TrackKindAudio))
	}
	if constraints.Video {
		tracks = append(tracks, a.newTrack(TrackKindVideo))
	}
	return NewStream(tracks), nil
}

func (a *FakeAcquirer) AcquireDisplay(ctx context.Context) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailErr != nil {
		return nil, ClassifyDeviceError(a.FailErr)
	}
	return NewStream([]Track{a.newTrack(TrackKindVideo)}), nil
}

func (a *FakeAcquirer) newTrack(kind TrackKind) *FakeTrack {
	a.nextID++
	t := &FakeTrack{id: fmt.Sprintf("fake-%s-%d", kind, a.nextID), kind: kind}
	a.opened = append(a.opened, t)
	return t
}

// OpenTrackCount reports tracks handed out and not yet closed.
func (a *FakeAcquirer) OpenTrackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	open := 0
	for _, t := range a.opened {
		if !t.Closed() {
			open++
		}
	}
	return open
}

type FakeTrack struct {
	id   string
	kind TrackKind

	mu     sync.Mutex
	closed bool
}

func (t *FakeTrack) ID() string      { return t.id }
func (t *FakeTrack) Kind() TrackKind { return t.kind }

func (t *FakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *FakeTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

//go:build !linux || !cgo

package media

import (
	"context"
	"errors"
)

// DeviceAcquirer on non-Linux platforms has no capture drivers wired in;
// every acquisition reports the device as not found so callers degrade to
// receive-only.
type DeviceAcquirer struct{}

func NewDeviceAcquirer() (*DeviceAcquirer, error) {
	return &DeviceAcquirer{}, nil
}

func (a *DeviceAcquirer) Acquire(ctx context.Context, constraints Constraints) (*Stream, error) {
	return nil, ClassifyDeviceError(errors.New("capture device driver not found on this platform"))
}

func (a *DeviceAcquirer) AcquireDisplay(ctx context.Context) (*Stream, error) {
	return nil, ClassifyDeviceError(errors.New("screen capture driver not found on this platform"))
}

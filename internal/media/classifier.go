package media

import (
	"strings"

	apperrors "github.com/carelink/callsignal/internal/errors"
)

// ClassifyDeviceError maps a raw driver error to exactly one device error
// code. Driver errors are free-form strings, so classification is by
// substring; anything unrecognized counts as the device being unavailable,
// which callers treat as retryable after freeing the device.
func ClassifyDeviceError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "not permitted", "access denied", "operation not permitted"):
		return apperrors.PermissionDenied(err)
	case containsAny(msg, "no such device", "not found", "no device", "failed to find"):
		return apperrors.DeviceNotFound(err)
	default:
		return apperrors.DeviceUnavailable(err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrNotConfigured is returned when a command targets a device or
	// field the bridge has no group for.
	ErrNotConfigured = errors.New("bridge: device not configured")

	// ErrInvalidCommand is returned when a command message is malformed
	// or names an unknown operation.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrMQTTUnavailable is returned when the broker connection is down.
	ErrMQTTUnavailable = errors.New("bridge: mqtt unavailable")
)

package gateway

import "errors"

// Domain errors for the gateway session package.
var (
	// ErrNotConnected is returned when an operation requires a live
	// session but the client is not connected to the gateway daemon.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionFailed is returned when establishing the session fails.
	ErrConnectionFailed = errors.New("gateway: connection failed")

	// ErrRequestTimeout is returned when a request frame receives no
	// reply within its deadline.
	ErrRequestTimeout = errors.New("gateway: request timed out")

	// ErrInvalidFrame is returned when a received frame is malformed.
	ErrInvalidFrame = errors.New("gateway: invalid frame")

	// ErrProtocolDesync is returned when the frame stream can no longer
	// be trusted and the session must be torn down.
	ErrProtocolDesync = errors.New("gateway: protocol desync")

	// ErrServerFault is returned when the daemon reports an internal
	// failure for a request.
	ErrServerFault = errors.New("gateway: server fault")
)

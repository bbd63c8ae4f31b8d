package pv

import "errors"

// Domain errors for the pv package. Channel operations return one of these
// (wrapped with the PV name and underlying transport status); Proxy by-name
// operations add ErrNotFound for missing fields but otherwise propagate the
// channel error unchanged.
var (
	// ErrChannelCreate is returned when the transport fails to create a
	// connection to a PV.
	ErrChannelCreate = errors.New("pv: channel create failed")

	// ErrChannelTimeout is returned when a connection is not established
	// within the bounded connect wait.
	ErrChannelTimeout = errors.New("pv: channel connect timed out")

	// ErrChannelClear is returned when the transport reports a failure while
	// clearing a channel. Non-fatal: the local channel is still marked
	// closed.
	ErrChannelClear = errors.New("pv: channel clear failed")

	// ErrChannelClosed is returned for operations on a closed channel.
	// A cleared channel is not reusable; open a new one.
	ErrChannelClosed = errors.New("pv: channel is closed")

	// ErrElementCount is returned when a scalar operation targets a PV whose
	// remote element count is not 1.
	ErrElementCount = errors.New("pv: element count mismatch")

	// ErrEncodingMismatch is returned when the requested Go type does not
	// match the PV's wire kind, or a Value accessor does not match the
	// value's kind.
	ErrEncodingMismatch = errors.New("pv: encoding mismatch")

	// ErrUnsupportedType is returned for a field-type tag outside the closed
	// supported set.
	ErrUnsupportedType = errors.New("pv: unsupported type")

	// ErrPutRejected is returned when the transport rejects a put, for
	// example on a remote-side type mismatch.
	ErrPutRejected = errors.New("pv: put rejected")

	// ErrIOTimeout is returned when a flush/wait bound elapses before the
	// transport confirms completion.
	ErrIOTimeout = errors.New("pv: io timed out")

	// ErrNotFound is returned by Proxy operations naming a field that is not
	// in the proxy's channel collection.
	ErrNotFound = errors.New("pv: pv not found")

	// ErrProxyInit is returned when bulk channel creation fails. Channels
	// opened before the failure are closed before this error propagates.
	ErrProxyInit = errors.New("pv: proxy init failed")

	// ErrDuplicateField is returned when a channel is registered under a
	// field name already present in the proxy.
	ErrDuplicateField = errors.New("pv: duplicate field name")
)

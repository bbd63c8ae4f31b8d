// Package gateway implements the pv.Transport interface over a framed
// socket session with a pvgate gateway daemon.
//
// The daemon owns the actual control-system client context; this package
// speaks a small request/response protocol to it over a TCP or Unix
// socket. Each request frame carries a sequence number that the daemon
// echoes in its reply, so requests from concurrent channels interleave
// freely on one connection. Value-change events arrive as unsolicited
// frames (sequence zero) and are dispatched to subscription callbacks
// through a bounded worker pool.
//
// The client does not reconnect. When the session drops, every
// subscription receives a disconnect event and subsequent operations
// fail with ErrNotConnected; the owning process decides whether to
// build a fresh session.
package gateway

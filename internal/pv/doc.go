// Package pv implements the process-variable access layer for PV Gate.
//
// A process variable (PV) is a named scalar or array data point hosted on a
// remote control-system server. This package provides the channel and value
// abstractions over an external transport:
//
//   - ScalarKind and the tag registry map the control system's dynamic
//     field-type tags ("d", "f", "t", ...) onto a closed set of wire
//     encodings. Every typed read and write picks its encoding from this
//     table, never from the runtime shape of a value.
//   - Channel wraps one remote connection plus the set of subscriptions
//     created on it. Subscriptions never outlive their channel: Close drains
//     the subscription set before the connection handle is released.
//   - Proxy groups the channels of one logical device, with by-name lookup,
//     bulk create/teardown, and a device status word fed by monitor callbacks.
//
// # Transport
//
// The wire protocol itself lives behind the Transport interface; see
// internal/gateway for the production implementation. The Transport is the
// session context of the control-system client library: it must be created
// before any channel is opened and closed only after every channel that
// references it has been cleared.
//
// # Blocking model
//
// Every read, write, open and clear is synchronous: it completes a bounded
// flush before returning, so a caller always observes values that have
// actually arrived. Monitor callbacks are delivered on transport-owned
// goroutines; all Channel and Proxy methods are safe to call concurrently
// with an in-flight delivery.
package pv

package pv

import "time"

// ConnHandle is an opaque reference to one remote PV connection. The zero
// handle is never valid.
type ConnHandle uint32

// SubscriptionID is an opaque reference to one value-change subscription.
// The zero ID is never valid.
type SubscriptionID uint64

// Event is one monitor delivery. When Connected is false the event reports a
// transport-level disconnect of the monitored PV; the subscription stays
// registered until the application removes it, since reconnection belongs to
// the transport.
type Event struct {
	// Name is the full PV name the event was delivered for.
	Name string

	// Kind is the wire kind the subscription was registered with.
	Kind ScalarKind

	// Value is the delivered value. Only meaningful when Connected is true.
	Value Value

	// Connected is false for a disconnect notification.
	Connected bool
}

// MonitorFunc is the application callback for monitor deliveries. userData
// is the opaque value bound at registration time, passed back verbatim on
// every invocation; by convention it references the owning Proxy.
//
// Callbacks run on transport-owned goroutines, concurrently with any channel
// operation. They must not call back into the channel they were registered
// on.
type MonitorFunc func(userData any, ev Event)

// Transport is the boundary toward the control-system client library or
// gateway daemon. It is the explicit session context: created exactly once
// before any channel operation, closed exactly once after every channel
// referencing it has been cleared.
//
// All payloads are wire-encoded per the codec in this package; the kind
// passed to Get/Put selects the layout. Implementations must be safe for
// concurrent use and must deliver subscription events on goroutines
// independent of the callers'.
type Transport interface {
	// CreateConnection opens a connection to the named PV, waiting at most
	// timeout for establishment. Errors wrap ErrChannelTimeout when the
	// bound elapses first.
	CreateConnection(name string, timeout time.Duration) (ConnHandle, error)

	// DestroyConnection releases a connection handle. Any subscriptions on
	// the handle must already be unsubscribed.
	DestroyConnection(h ConnHandle) error

	// Get reads one element of the given kind.
	Get(h ConnHandle, kind ScalarKind) ([]byte, error)

	// GetArray reads count elements of the given kind.
	GetArray(h ConnHandle, kind ScalarKind, count int) ([]byte, error)

	// Put writes one wire-encoded element. Remote rejection wraps
	// ErrPutRejected.
	Put(h ConnHandle, kind ScalarKind, data []byte) error

	// PutArray writes count wire-encoded elements.
	PutArray(h ConnHandle, kind ScalarKind, count int, data []byte) error

	// Subscribe registers a value-change subscription delivering events of
	// the given kind to deliver.
	Subscribe(h ConnHandle, kind ScalarKind, deliver func(Event)) (SubscriptionID, error)

	// Unsubscribe cancels a subscription.
	Unsubscribe(id SubscriptionID) error

	// Flush blocks until all previously issued operations are confirmed or
	// the bound elapses; expiry wraps ErrIOTimeout.
	Flush(timeout time.Duration) error

	// ElementCount reports the remote element count of the PV.
	ElementCount(h ConnHandle) (int, error)

	// FieldKind reports the PV's current remote scalar kind. Queried live
	// before every typed operation; never cached by channels.
	FieldKind(h ConnHandle) (ScalarKind, error)
}

package pv

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default bounded waits, in the transport's native time units (seconds).
const (
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 20 * time.Second

	// DefaultIOTimeout bounds each flush/wait after a get or put.
	DefaultIOTimeout = 5 * time.Second
)

// Logger defines the logging interface used by channels and proxies.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures channel behaviour. The zero value gives the default
// bounded waits and no logging.
type Options struct {
	// ConnectTimeout bounds connection establishment.
	// Default: DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// IOTimeout bounds every flush/wait.
	// Default: DefaultIOTimeout.
	IOTimeout time.Duration

	// Logger is optional; nil disables logging.
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IOTimeout == 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// Channel wraps one remote PV connection and the subscriptions created on
// it. The channel exclusively owns both: clearing the channel unregisters
// every subscription before the connection handle is released.
//
// Lifecycle is Unopened → Open → Closed. Closed is terminal; a cleared
// channel must be recreated with Open.
//
// All methods are safe for concurrent use, including concurrently with an
// in-flight monitor delivery for the same channel.
type Channel struct {
	name string
	tr   Transport
	opts Options

	mu      sync.Mutex
	handle  ConnHandle // zero once closed
	closed  bool
	subs    []SubscriptionID
	lastErr string
}

// Open creates a connection to the fully qualified PV name, waiting at most
// opts.ConnectTimeout for establishment. Fails with ErrChannelCreate if the
// transport reports failure and ErrChannelTimeout if the bound elapses
// first.
func Open(tr Transport, name string, opts Options) (*Channel, error) {
	opts = opts.withDefaults()

	h, err := tr.CreateConnection(name, opts.ConnectTimeout)
	if err != nil {
		if errors.Is(err, ErrChannelTimeout) {
			return nil, fmt.Errorf("%w: pv %s: %w", ErrChannelTimeout, name, err)
		}
		return nil, fmt.Errorf("%w: pv %s: %w", ErrChannelCreate, name, err)
	}

	c := &Channel{name: name, tr: tr, opts: opts, handle: h}
	if err := c.flush(); err != nil {
		// Connection confirmation never arrived; release the handle.
		_ = tr.DestroyConnection(h)
		return nil, fmt.Errorf("%w: pv %s: %w", ErrChannelTimeout, name, err)
	}

	opts.Logger.Debug("channel opened", "pv", name)
	return c, nil
}

// Name returns the fully qualified PV name.
func (c *Channel) Name() string { return c.name }

// LastError returns the description of the most recent failed operation on
// this channel, or "" if none has failed. Each failing operation overwrites
// it.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// fail records err as the channel's last error and returns it.
// Caller must hold c.mu.
func (c *Channel) fail(err error) error {
	c.lastErr = err.Error()
	return err
}

func (c *Channel) flush() error {
	if err := c.tr.Flush(c.opts.IOTimeout); err != nil {
		if errors.Is(err, ErrIOTimeout) {
			return fmt.Errorf("%w: pv %s: %w", ErrIOTimeout, c.name, err)
		}
		return fmt.Errorf("pv %s: flush: %w", c.name, err)
	}
	return nil
}

// requireOpen returns the connection handle or ErrChannelClosed.
// Caller must hold c.mu.
func (c *Channel) requireOpen() (ConnHandle, error) {
	if c.closed {
		return 0, c.fail(fmt.Errorf("%w: pv %s", ErrChannelClosed, c.name))
	}
	return c.handle, nil
}

// Close clears the channel: every live subscription is unregistered first,
// then the connection handle is released. Idempotent; calling Close on an
// already-closed channel is a no-op.
//
// A transport-side failure is returned wrapped in ErrChannelClear, but the
// channel is marked closed locally regardless, so a clear failure never
// leaks local state.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	var errs []error

	// Subscriptions reference the connection; they must be drained before
	// the connection handle is released.
	for _, id := range c.subs {
		if err := c.tr.Unsubscribe(id); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %d: %w", id, err))
		}
	}
	c.subs = nil

	if err := c.tr.DestroyConnection(c.handle); err != nil {
		errs = append(errs, fmt.Errorf("destroy connection: %w", err))
	}

	c.handle = 0
	c.closed = true

	if len(errs) > 0 {
		err := fmt.Errorf("%w: pv %s: %w", ErrChannelClear, c.name, errors.Join(errs...))
		c.lastErr = err.Error()
		c.opts.Logger.Warn("channel clear reported errors", "pv", c.name, "error", err)
		return err
	}

	c.opts.Logger.Debug("channel closed", "pv", c.name)
	return nil
}

// ReadValue reads the PV's current scalar value, dispatching on the kind
// the remote reports right now. The remote element count must be 1.
func (c *Channel) ReadValue() (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readValueLocked()
}

func (c *Channel) readValueLocked() (Value, error) {
	h, err := c.requireOpen()
	if err != nil {
		return Value{}, err
	}

	kind, err := c.tr.FieldKind(h)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: query kind: %w", c.name, err))
	}
	count, err := c.tr.ElementCount(h)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: query element count: %w", c.name, err))
	}
	if count != 1 {
		return Value{}, c.fail(fmt.Errorf("%w: pv %s has %d elements, want 1",
			ErrElementCount, c.name, count))
	}

	data, err := c.tr.Get(h, kind)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: get %s: %w", c.name, kind, err))
	}
	if err := c.flush(); err != nil {
		return Value{}, c.fail(err)
	}

	v, err := Decode(kind, data)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: %w", c.name, err))
	}
	return v, nil
}

// readKind reads one element as the given kind, enforcing that the remote
// currently reports exactly that kind.
func (c *Channel) readKind(kind ScalarKind) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.requireOpen()
	if err != nil {
		return Value{}, err
	}

	remote, err := c.tr.FieldKind(h)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: query kind: %w", c.name, err))
	}
	if remote != kind {
		return Value{}, c.fail(fmt.Errorf("%w: pv %s is %s, requested %s",
			ErrEncodingMismatch, c.name, remote, kind))
	}
	count, err := c.tr.ElementCount(h)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: query element count: %w", c.name, err))
	}
	if count != 1 {
		return Value{}, c.fail(fmt.Errorf("%w: pv %s has %d elements, want 1",
			ErrElementCount, c.name, count))
	}

	data, err := c.tr.Get(h, kind)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: get %s: %w", c.name, kind, err))
	}
	if err := c.flush(); err != nil {
		return Value{}, c.fail(err)
	}

	v, err := Decode(kind, data)
	if err != nil {
		return Value{}, c.fail(fmt.Errorf("pv %s: %w", c.name, err))
	}
	return v, nil
}

// writeKind writes one element of the given kind and completes a flush.
func (c *Channel) writeKind(v Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.requireOpen()
	if err != nil {
		return err
	}

	data, err := Encode(nil, v)
	if err != nil {
		return c.fail(fmt.Errorf("pv %s: %w", c.name, err))
	}
	if err := c.tr.Put(h, v.Kind(), data); err != nil {
		if errors.Is(err, ErrPutRejected) {
			return c.fail(fmt.Errorf("%w: pv %s (%s): %w", ErrPutRejected, c.name, v.Kind(), err))
		}
		return c.fail(fmt.Errorf("pv %s: put %s: %w", c.name, v.Kind(), err))
	}
	if err := c.flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

// ReadText reads the PV as fixed-width text.
func (c *Channel) ReadText() (string, error) {
	v, err := c.readKind(KindText)
	if err != nil {
		return "", err
	}
	return v.AsText()
}

// WriteText writes the PV as fixed-width text.
func (c *Channel) WriteText(s string) error {
	return c.writeKind(Text(s))
}

// readSliceKind reads the PV's full element array as the given kind.
func (c *Channel) readSliceKind(kind ScalarKind) ([]Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.requireOpen()
	if err != nil {
		return nil, err
	}

	remote, err := c.tr.FieldKind(h)
	if err != nil {
		return nil, c.fail(fmt.Errorf("pv %s: query kind: %w", c.name, err))
	}
	if remote != kind {
		return nil, c.fail(fmt.Errorf("%w: pv %s is %s, requested %s",
			ErrEncodingMismatch, c.name, remote, kind))
	}
	count, err := c.tr.ElementCount(h)
	if err != nil {
		return nil, c.fail(fmt.Errorf("pv %s: query element count: %w", c.name, err))
	}

	data, err := c.tr.GetArray(h, kind, count)
	if err != nil {
		return nil, c.fail(fmt.Errorf("pv %s: get array %s: %w", c.name, kind, err))
	}
	if err := c.flush(); err != nil {
		return nil, c.fail(err)
	}

	vs, err := DecodeSlice(kind, count, data)
	if err != nil {
		return nil, c.fail(fmt.Errorf("pv %s: %w", c.name, err))
	}
	return vs, nil
}

// writeSliceKind writes an element array of a single kind.
func (c *Channel) writeSliceKind(kind ScalarKind, vs []Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.requireOpen()
	if err != nil {
		return err
	}

	var data []byte
	for _, v := range vs {
		if v.Kind() != kind {
			return c.fail(fmt.Errorf("%w: pv %s: %s element in %s array",
				ErrEncodingMismatch, c.name, v.Kind(), kind))
		}
		data, err = Encode(data, v)
		if err != nil {
			return c.fail(fmt.Errorf("pv %s: %w", c.name, err))
		}
	}

	if err := c.tr.PutArray(h, kind, len(vs), data); err != nil {
		if errors.Is(err, ErrPutRejected) {
			return c.fail(fmt.Errorf("%w: pv %s (%s array): %w", ErrPutRejected, c.name, kind, err))
		}
		return c.fail(fmt.Errorf("pv %s: put array %s: %w", c.name, kind, err))
	}
	if err := c.flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

// AddMonitor registers a value-change subscription on the channel,
// delivering each event to fn together with the opaque userData bound here.
// Every call creates an independent subscription; duplicates are not
// deduplicated.
func (c *Channel) AddMonitor(userData any, fn MonitorFunc) (SubscriptionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.requireOpen()
	if err != nil {
		return 0, err
	}

	kind, err := c.tr.FieldKind(h)
	if err != nil {
		return 0, c.fail(fmt.Errorf("pv %s: query kind: %w", c.name, err))
	}

	id, err := c.tr.Subscribe(h, kind, func(ev Event) {
		fn(userData, ev)
	})
	if err != nil {
		return 0, c.fail(fmt.Errorf("pv %s: subscribe: %w", c.name, err))
	}
	if err := c.flush(); err != nil {
		// Registration never confirmed; do not track the subscription.
		_ = c.tr.Unsubscribe(id)
		return 0, c.fail(err)
	}

	c.subs = append(c.subs, id)
	c.opts.Logger.Debug("monitor added", "pv", c.name, "subscription", id)
	return id, nil
}

// RemoveMonitor unregisters one subscription and removes it from the
// channel's set. Unknown IDs fail with ErrNotFound.
func (c *Channel) RemoveMonitor(id SubscriptionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, have := range c.subs {
		if have != id {
			continue
		}
		if err := c.tr.Unsubscribe(id); err != nil {
			return c.fail(fmt.Errorf("pv %s: unsubscribe %d: %w", c.name, id, err))
		}
		c.subs = append(c.subs[:i], c.subs[i+1:]...)
		return nil
	}
	return c.fail(fmt.Errorf("%w: pv %s has no subscription %d", ErrNotFound, c.name, id))
}

// RemoveAllMonitors unregisters every subscription on the channel.
// Best effort: each member is attempted and failures are joined.
func (c *Channel) RemoveAllMonitors() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	remaining := c.subs[:0]
	for _, id := range c.subs {
		if err := c.tr.Unsubscribe(id); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %d: %w", id, err))
			remaining = append(remaining, id)
		}
	}
	c.subs = remaining

	if len(errs) > 0 {
		return c.fail(fmt.Errorf("pv %s: %w", c.name, errors.Join(errs...)))
	}
	return nil
}

// Monitors returns the number of live subscriptions on the channel.
func (c *Channel) Monitors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Scalar constrains the Go types that map 1:1 onto a ScalarKind. The set is
// exact (no underlying-type matching) so the kind mapping stays a closed
// table.
type Scalar interface {
	float64 | float32 | uint16 | int16 | byte | int32 | uint32
}

// kindOf returns the wire kind for T. The mapping is fixed by the type
// registry, independent of any runtime value.
func kindOf[T Scalar]() ScalarKind {
	var zero T
	switch any(zero).(type) {
	case float64:
		return KindDouble
	case float32:
		return KindFloat
	case uint16:
		return KindEnum
	case int16:
		return KindShort
	case byte:
		return KindChar
	case int32:
		return KindLong
	default:
		return KindULong
	}
}

// valueOf converts a scalar of type T to its tagged Value.
func valueOf[T Scalar](v T) Value {
	switch x := any(v).(type) {
	case float64:
		return Double(x)
	case float32:
		return Float(x)
	case uint16:
		return Enum(x)
	case int16:
		return Short(x)
	case byte:
		return Char(x)
	case int32:
		return Long(x)
	case uint32:
		return ULong(x)
	default:
		// Unreachable: Scalar admits exactly the cases above.
		panic(fmt.Sprintf("pv: unmapped scalar type %T", v))
	}
}

// fromValue converts a tagged Value back to the scalar type T.
func fromValue[T Scalar](v Value) (T, error) {
	var zero T
	var out any
	switch any(zero).(type) {
	case float64:
		f, err := v.AsDouble()
		if err != nil {
			return zero, err
		}
		out = f
	case float32:
		f, err := v.AsFloat()
		if err != nil {
			return zero, err
		}
		out = f
	case uint16:
		u, err := v.AsEnum()
		if err != nil {
			return zero, err
		}
		out = u
	case int16:
		i, err := v.AsShort()
		if err != nil {
			return zero, err
		}
		out = i
	case byte:
		b, err := v.AsChar()
		if err != nil {
			return zero, err
		}
		out = b
	case int32:
		i, err := v.AsLong()
		if err != nil {
			return zero, err
		}
		out = i
	case uint32:
		u, err := v.AsULong()
		if err != nil {
			return zero, err
		}
		out = u
	default:
		return zero, fmt.Errorf("%w: unmapped scalar type %T", ErrUnsupportedType, zero)
	}
	return out.(T), nil
}

// Read reads the channel's scalar value as T. The remote must currently
// report the kind that T maps to, otherwise the read fails with
// ErrEncodingMismatch.
func Read[T Scalar](c *Channel) (T, error) {
	v, err := c.readKind(kindOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return fromValue[T](v)
}

// ReadSlice reads the channel's full element array as []T.
func ReadSlice[T Scalar](c *Channel) ([]T, error) {
	vs, err := c.readSliceKind(kindOf[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, err := fromValue[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Write writes one scalar of type T to the channel and completes a flush.
func Write[T Scalar](c *Channel, v T) error {
	return c.writeKind(valueOf(v))
}

// WriteSlice writes an element array of type T and completes a flush.
func WriteSlice[T Scalar](c *Channel, vs []T) error {
	values := make([]Value, 0, len(vs))
	for _, v := range vs {
		values = append(values, valueOf(v))
	}
	return c.writeSliceKind(kindOf[T](), values)
}

package pv

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Proxy owns the channels of one logical device. Field names are qualified
// with the device name to form full PV names ("motor1:" + "VAL" →
// "motor1:VAL"), kept unique within the proxy, and looked up by exact match.
//
// The proxy does not own its Transport: the transport session is created
// before the proxy and destroyed only after ClearAll. The device status word
// is an atomic accumulator written by monitor callbacks (see
// internal/motor) and read by anyone.
//
// All methods are safe for concurrent use.
type Proxy struct {
	device string
	tr     Transport
	opts   Options

	mu      sync.RWMutex
	order   []string            // field names, insertion order == creation order
	byField map[string]*Channel // field name → channel

	status atomic.Uint32
}

// NewProxy opens one channel per field name, each qualified as
// device+field. If any channel fails to open, the channels opened before
// the failure are closed and ErrProxyInit is returned wrapping the cause;
// a failed init never leaks open channels.
func NewProxy(tr Transport, device string, fields []string, opts Options) (*Proxy, error) {
	opts = opts.withDefaults()

	p := &Proxy{
		device:  device,
		tr:      tr,
		opts:    opts,
		byField: make(map[string]*Channel, len(fields)),
	}

	for _, field := range fields {
		if err := p.addField(field); err != nil {
			// Unwind: close everything opened so far, best effort.
			for _, opened := range p.order {
				if cerr := p.byField[opened].Close(); cerr != nil {
					opts.Logger.Warn("init unwind: channel close failed",
						"pv", p.byField[opened].Name(), "error", cerr)
				}
			}
			return nil, fmt.Errorf("%w: device %s: %w", ErrProxyInit, device, err)
		}
	}

	opts.Logger.Info("proxy initialised", "device", device, "channels", len(p.order))
	return p, nil
}

// addField opens and registers the channel for one field name.
func (p *Proxy) addField(field string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byField[field]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateField, field)
	}
	ch, err := Open(p.tr, p.device+field, p.opts)
	if err != nil {
		return err
	}
	p.byField[field] = ch
	p.order = append(p.order, field)
	return nil
}

// Device returns the logical device name used to qualify field names.
func (p *Proxy) Device() string { return p.device }

// Fields returns the registered field names in creation order.
func (p *Proxy) Fields() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	fields := make([]string, len(p.order))
	copy(fields, p.order)
	return fields
}

// Channel resolves a field name to its channel, or ErrNotFound.
func (p *Proxy) Channel(field string) (*Channel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ch, ok := p.byField[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q on device %s", ErrNotFound, field, p.device)
	}
	return ch, nil
}

// CreateChannel opens one additional channel outside the bulk init path,
// registered under the given full PV name (no device qualification). The
// proxy owns the returned channel; it is cleared with the rest on ClearAll.
func (p *Proxy) CreateChannel(fullName string) (*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byField[fullName]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateField, fullName)
	}
	ch, err := Open(p.tr, fullName, p.opts)
	if err != nil {
		return nil, err
	}
	p.byField[fullName] = ch
	p.order = append(p.order, fullName)
	return ch, nil
}

// AddMonitor registers a value-change subscription on the named field. The
// opaque userData (commonly the proxy itself) is delivered verbatim to fn
// on every event.
func (p *Proxy) AddMonitor(field string, userData any, fn MonitorFunc) (SubscriptionID, error) {
	ch, err := p.Channel(field)
	if err != nil {
		return 0, err
	}
	return ch.AddMonitor(userData, fn)
}

// RemoveMonitor unregisters every subscription on the named field.
func (p *Proxy) RemoveMonitor(field string) error {
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return ch.RemoveAllMonitors()
}

// RemoveMonitorID unregisters one subscription on the named field,
// leaving other parties' monitors on the same channel in place.
func (p *Proxy) RemoveMonitorID(field string, id SubscriptionID) error {
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return ch.RemoveMonitor(id)
}

// ReadPVText reads the named field as fixed-width text.
func (p *Proxy) ReadPVText(field string) (string, error) {
	ch, err := p.Channel(field)
	if err != nil {
		return "", err
	}
	return ch.ReadText()
}

// WritePVText writes the named field as fixed-width text.
func (p *Proxy) WritePVText(field, value string) error {
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return ch.WriteText(value)
}

// ReadPVValue reads the named field, dispatching on the live remote kind.
func (p *Proxy) ReadPVValue(field string) (Value, error) {
	ch, err := p.Channel(field)
	if err != nil {
		return Value{}, err
	}
	return ch.ReadValue()
}

// ReadPVTagged reads the named field as the kind the tag resolves to. For
// callers that only know the kind at run time. With asText the result is
// returned as a text Value holding the canonical decimal form.
func (p *Proxy) ReadPVTagged(field, tag string, asText bool) (Value, error) {
	kind, err := ResolveKind(tag)
	if err != nil {
		return Value{}, err
	}
	ch, err := p.Channel(field)
	if err != nil {
		return Value{}, err
	}

	var v Value
	if kind == KindText {
		s, err := ch.ReadText()
		if err != nil {
			return Value{}, err
		}
		v = Text(s)
	} else {
		v, err = ch.readKind(kind)
		if err != nil {
			return Value{}, err
		}
	}

	if asText {
		return Text(v.String()), nil
	}
	return v, nil
}

// WritePVTagged writes the named field as the kind the tag resolves to.
// The value's kind must match the tag, otherwise ErrEncodingMismatch.
func (p *Proxy) WritePVTagged(field, tag string, v Value) error {
	kind, err := ResolveKind(tag)
	if err != nil {
		return err
	}
	if v.Kind() != kind {
		return fmt.Errorf("%w: tag %q resolves to %s, value is %s",
			ErrEncodingMismatch, tag, kind, v.Kind())
	}
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return ch.writeKind(v)
}

// ReadAll primes every channel with a dynamic read. Best effort: every
// channel is attempted and failures are joined.
func (p *Proxy) ReadAll() error {
	p.mu.RLock()
	channels := make([]*Channel, 0, len(p.order))
	for _, field := range p.order {
		channels = append(channels, p.byField[field])
	}
	p.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if _, err := ch.ReadValue(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearAll closes every owned channel in creation order. Best effort: one
// channel's clear failure never prevents the others from being attempted;
// all failures are joined and reported together after the full sweep.
//
// The shared transport must be destroyed only after ClearAll returns.
func (p *Proxy) ClearAll() error {
	p.mu.Lock()
	channels := make([]*Channel, 0, len(p.order))
	for _, field := range p.order {
		channels = append(channels, p.byField[field])
	}
	p.order = nil
	p.byField = make(map[string]*Channel)
	p.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.opts.Logger.Warn("clear all reported errors", "device", p.device, "error", err)
		return err
	}
	p.opts.Logger.Info("proxy cleared", "device", p.device, "channels", len(channels))
	return nil
}

// Status returns the device status word.
func (p *Proxy) Status() uint32 { return p.status.Load() }

// SetStatus replaces the device status word. In practice only monitor
// callbacks call this; everything else just reads.
func (p *Proxy) SetStatus(v uint32) { p.status.Store(v) }

// ReadPV reads the named field as T; the remote kind must match T's kind.
func ReadPV[T Scalar](p *Proxy, field string) (T, error) {
	ch, err := p.Channel(field)
	if err != nil {
		var zero T
		return zero, err
	}
	return Read[T](ch)
}

// WritePV writes the named field as T.
func WritePV[T Scalar](p *Proxy, field string, v T) error {
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return Write(ch, v)
}

// ReadPVSlice reads the named field's element array as []T.
func ReadPVSlice[T Scalar](p *Proxy, field string) ([]T, error) {
	ch, err := p.Channel(field)
	if err != nil {
		return nil, err
	}
	return ReadSlice[T](ch)
}

// WritePVSlice writes the named field's element array as []T.
func WritePVSlice[T Scalar](p *Proxy, field string, vs []T) error {
	ch, err := p.Channel(field)
	if err != nil {
		return err
	}
	return WriteSlice(ch, vs)
}

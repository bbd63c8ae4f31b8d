package pv

import (
	"fmt"
	"sync"
	"time"
)

// fakeTransport is an in-memory Transport backing the package tests. It
// hosts named cells (scalar or array), delivers subscription events
// synchronously on put, and records the order of teardown calls so tests
// can assert that subscriptions are drained before connections are
// destroyed.
type fakeTransport struct {
	mu sync.Mutex

	cellsByName map[string]*fakeCell
	conns       map[ConnHandle]*fakeCell
	subs        map[SubscriptionID]*fakeSub

	nextConn ConnHandle
	nextSub  SubscriptionID

	// Forced failures.
	createErr  error
	putErr     error
	flushErr   error
	unsubErr   error
	destroyErr map[ConnHandle]error

	// opLog records teardown-relevant calls as "unsub <id>" / "destroy <h>".
	opLog []string
}

type fakeCell struct {
	name   string
	kind   ScalarKind
	values []Value
}

type fakeSub struct {
	conn    ConnHandle
	deliver func(Event)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		cellsByName: make(map[string]*fakeCell),
		conns:       make(map[ConnHandle]*fakeCell),
		subs:        make(map[SubscriptionID]*fakeSub),
		destroyErr:  make(map[ConnHandle]error),
	}
}

// host registers a PV with an initial value.
func (t *fakeTransport) host(name string, values ...Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cellsByName[name] = &fakeCell{name: name, kind: values[0].Kind(), values: values}
}

// push simulates an external value change, delivering to all subscriptions
// on the named PV.
func (t *fakeTransport) push(name string, v Value) {
	t.mu.Lock()
	cell := t.cellsByName[name]
	cell.kind = v.Kind()
	cell.values = []Value{v}
	deliver := t.subsFor(cell)
	t.mu.Unlock()

	for _, fn := range deliver {
		fn(Event{Name: name, Kind: v.Kind(), Value: v, Connected: true})
	}
}

// dropConnection simulates a transport-level disconnect event for the named
// PV's subscribers. The subscriptions themselves stay registered.
func (t *fakeTransport) dropConnection(name string) {
	t.mu.Lock()
	cell := t.cellsByName[name]
	kind := cell.kind
	deliver := t.subsFor(cell)
	t.mu.Unlock()

	for _, fn := range deliver {
		fn(Event{Name: name, Kind: kind, Connected: false})
	}
}

// subsFor collects delivery funcs for a cell. Caller must hold t.mu.
func (t *fakeTransport) subsFor(cell *fakeCell) []func(Event) {
	var out []func(Event)
	for _, sub := range t.subs {
		if t.conns[sub.conn] == cell {
			out = append(out, sub.deliver)
		}
	}
	return out
}

func (t *fakeTransport) CreateConnection(name string, _ time.Duration) (ConnHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.createErr != nil {
		return 0, t.createErr
	}
	cell, ok := t.cellsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: no server hosts %q", ErrChannelTimeout, name)
	}
	t.nextConn++
	t.conns[t.nextConn] = cell
	return t.nextConn, nil
}

func (t *fakeTransport) DestroyConnection(h ConnHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opLog = append(t.opLog, fmt.Sprintf("destroy %d", h))
	if err := t.destroyErr[h]; err != nil {
		return err
	}
	if _, ok := t.conns[h]; !ok {
		return fmt.Errorf("unknown connection %d", h)
	}
	for id, sub := range t.subs {
		if sub.conn == h {
			return fmt.Errorf("connection %d destroyed with live subscription %d", h, id)
		}
	}
	delete(t.conns, h)
	return nil
}

func (t *fakeTransport) cell(h ConnHandle) (*fakeCell, error) {
	cell, ok := t.conns[h]
	if !ok {
		return nil, fmt.Errorf("unknown connection %d", h)
	}
	return cell, nil
}

func (t *fakeTransport) Get(h ConnHandle, kind ScalarKind) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cell, err := t.cell(h)
	if err != nil {
		return nil, err
	}
	if kind != cell.kind {
		return nil, fmt.Errorf("server holds %s, got get for %s", cell.kind, kind)
	}
	return Encode(nil, cell.values[0])
}

func (t *fakeTransport) GetArray(h ConnHandle, kind ScalarKind, count int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cell, err := t.cell(h)
	if err != nil {
		return nil, err
	}
	if kind != cell.kind {
		return nil, fmt.Errorf("server holds %s, got get for %s", cell.kind, kind)
	}
	if count > len(cell.values) {
		count = len(cell.values)
	}
	var data []byte
	for _, v := range cell.values[:count] {
		data, err = Encode(data, v)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (t *fakeTransport) put(h ConnHandle, kind ScalarKind, count int, data []byte) error {
	t.mu.Lock()
	cell, err := t.cell(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if t.putErr != nil {
		err := t.putErr
		t.mu.Unlock()
		return err
	}
	if kind != cell.kind {
		t.mu.Unlock()
		return fmt.Errorf("%w: server holds %s, put was %s", ErrPutRejected, cell.kind, kind)
	}
	values, err := DecodeSlice(kind, count, data)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	cell.values = values
	deliver := t.subsFor(cell)
	name := cell.name
	t.mu.Unlock()

	for _, fn := range deliver {
		fn(Event{Name: name, Kind: kind, Value: values[0], Connected: true})
	}
	return nil
}

func (t *fakeTransport) Put(h ConnHandle, kind ScalarKind, data []byte) error {
	return t.put(h, kind, 1, data)
}

func (t *fakeTransport) PutArray(h ConnHandle, kind ScalarKind, count int, data []byte) error {
	return t.put(h, kind, count, data)
}

func (t *fakeTransport) Subscribe(h ConnHandle, _ ScalarKind, deliver func(Event)) (SubscriptionID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.cell(h); err != nil {
		return 0, err
	}
	t.nextSub++
	t.subs[t.nextSub] = &fakeSub{conn: h, deliver: deliver}
	return t.nextSub, nil
}

func (t *fakeTransport) Unsubscribe(id SubscriptionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opLog = append(t.opLog, fmt.Sprintf("unsub %d", id))
	if t.unsubErr != nil {
		return t.unsubErr
	}
	if _, ok := t.subs[id]; !ok {
		return fmt.Errorf("unknown subscription %d", id)
	}
	delete(t.subs, id)
	return nil
}

func (t *fakeTransport) Flush(_ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushErr
}

func (t *fakeTransport) ElementCount(h ConnHandle) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cell, err := t.cell(h)
	if err != nil {
		return 0, err
	}
	return len(cell.values), nil
}

func (t *fakeTransport) FieldKind(h ConnHandle) (ScalarKind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cell, err := t.cell(h)
	if err != nil {
		return 0, err
	}
	return cell.kind, nil
}

// liveSubs returns the number of registered subscriptions.
func (t *fakeTransport) liveSubs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/beamworks/pvgate/internal/pv"
)

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{
			name:        "unix socket",
			url:         "unix:///run/pvgate/gateway",
			wantNetwork: "unix",
			wantAddress: "/run/pvgate/gateway",
		},
		{
			name:        "tcp with host and port",
			url:         "tcp://localhost:7064",
			wantNetwork: "tcp",
			wantAddress: "localhost:7064",
		},
		{
			name:        "tcp with IP",
			url:         "tcp://192.168.7.10:7064",
			wantNetwork: "tcp",
			wantAddress: "192.168.7.10:7064",
		},
		{
			name:        "tcp without host defaults",
			url:         "tcp://",
			wantNetwork: "tcp",
			wantAddress: "localhost:7064",
		},
		{
			name:    "unsupported scheme",
			url:     "http://localhost:7064",
			wantErr: true,
		},
		{
			name:    "invalid URL",
			url:     "://invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)

			if tt.wantErr {
				if err == nil {
					t.Error("parseConnectionURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("parseConnectionURL() unexpected error: %v", err)
				return
			}
			if network != tt.wantNetwork {
				t.Errorf("network = %q, want %q", network, tt.wantNetwork)
			}
			if address != tt.wantAddress {
				t.Errorf("address = %q, want %q", address, tt.wantAddress)
			}
		})
	}
}

// mockDaemon simulates a gateway daemon for testing. It hosts named PVs
// in memory and serves the session protocol on a loopback listener.
type mockDaemon struct {
	listener net.Listener
	done     chan struct{}

	mu      sync.Mutex
	conn    net.Conn
	cells   map[string]pv.Value
	handles map[pv.ConnHandle]string
	subs    map[pv.SubscriptionID]string
	env     map[string]string

	nextHandle pv.ConnHandle
	nextSub    pv.SubscriptionID

	rejectPuts bool
}

func newMockDaemon(t *testing.T) *mockDaemon {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &mockDaemon{
		listener: listener,
		done:     make(chan struct{}),
		cells:    make(map[string]pv.Value),
		handles:  make(map[pv.ConnHandle]string),
		subs:     make(map[pv.SubscriptionID]string),
	}
	go d.serve()
	return d
}

func (d *mockDaemon) url() string {
	return "tcp://" + d.listener.Addr().String()
}

func (d *mockDaemon) host(name string, v pv.Value) {
	d.mu.Lock()
	d.cells[name] = v
	d.mu.Unlock()
}

func (d *mockDaemon) close() {
	close(d.done)
	d.listener.Close()
	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	d.mu.Unlock()
}

// dropSession closes the client connection without touching the listener,
// simulating a daemon crash.
func (d *mockDaemon) dropSession() {
	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	d.mu.Unlock()
}

func (d *mockDaemon) serve() {
	conn, err := d.listener.Accept()
	if err != nil {
		return
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	buf := make([]byte, maxFrameSize)
	for {
		select {
		case <-d.done:
			return
		default:
		}

		frame, err := readWireFrame(conn, buf)
		if err != nil {
			return
		}
		msgType, seq, payload, err := ParseFrame(frame)
		if err != nil {
			return
		}
		reply := d.handle(msgType, payload)
		if _, err := conn.Write(EncodeFrame(msgType, seq, reply)); err != nil {
			return
		}
	}
}

func readWireFrame(conn net.Conn, buf []byte) ([]byte, error) {
	if _, err := readFull(conn, buf[:2]); err != nil {
		return nil, err
	}
	total := 2 + int(binary.BigEndian.Uint16(buf[:2]))
	if total > len(buf) {
		return nil, fmt.Errorf("oversized frame")
	}
	if _, err := readFull(conn, buf[2:total]); err != nil {
		return nil, err
	}
	return buf[:total], nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func (d *mockDaemon) handle(msgType uint16, payload []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msgType {
	case msgConfigure:
		env, err := parseConfigurePayload(payload)
		if err != nil {
			return []byte{statusFault}
		}
		d.env = env
		return []byte{statusOK}

	case msgCreate:
		name, _, err := readString(payload)
		if err != nil {
			return []byte{statusFault}
		}
		if _, ok := d.cells[name]; !ok {
			return []byte{statusTimeout}
		}
		d.nextHandle++
		d.handles[d.nextHandle] = name
		reply := []byte{statusOK}
		return binary.BigEndian.AppendUint32(reply, uint32(d.nextHandle))

	case msgDestroy:
		h := pv.ConnHandle(binary.BigEndian.Uint32(payload[0:4]))
		if _, ok := d.handles[h]; !ok {
			return []byte{statusNotFound}
		}
		delete(d.handles, h)
		return []byte{statusOK}

	case msgGet:
		h := pv.ConnHandle(binary.BigEndian.Uint32(payload[0:4]))
		kind := pv.ScalarKind(payload[4])
		name, ok := d.handles[h]
		if !ok {
			return []byte{statusNotFound}
		}
		v := d.cells[name]
		if v.Kind() != kind {
			return []byte{statusBadType}
		}
		data, err := pv.Encode(nil, v)
		if err != nil {
			return []byte{statusFault}
		}
		reply := []byte{statusOK}
		reply = binary.BigEndian.AppendUint32(reply, 1)
		return append(reply, data...)

	case msgPut:
		h := pv.ConnHandle(binary.BigEndian.Uint32(payload[0:4]))
		kind := pv.ScalarKind(payload[4])
		name, ok := d.handles[h]
		if !ok {
			return []byte{statusNotFound}
		}
		if d.rejectPuts {
			return []byte{statusRejected}
		}
		if d.cells[name].Kind() != kind {
			return []byte{statusRejected}
		}
		v, err := pv.Decode(kind, payload[9:])
		if err != nil {
			return []byte{statusFault}
		}
		d.cells[name] = v
		d.pushLocked(name, v)
		return []byte{statusOK}

	case msgSubscribe:
		h := pv.ConnHandle(binary.BigEndian.Uint32(payload[0:4]))
		name, ok := d.handles[h]
		if !ok {
			return []byte{statusNotFound}
		}
		d.nextSub++
		d.subs[d.nextSub] = name
		reply := []byte{statusOK}
		return binary.BigEndian.AppendUint64(reply, uint64(d.nextSub))

	case msgUnsubscribe:
		id := pv.SubscriptionID(binary.BigEndian.Uint64(payload[0:8]))
		if _, ok := d.subs[id]; !ok {
			return []byte{statusNotFound}
		}
		delete(d.subs, id)
		return []byte{statusOK}

	case msgSync:
		return []byte{statusOK}

	case msgInfo:
		h := pv.ConnHandle(binary.BigEndian.Uint32(payload[0:4]))
		name, ok := d.handles[h]
		if !ok {
			return []byte{statusNotFound}
		}
		reply := []byte{statusOK, byte(d.cells[name].Kind())}
		return binary.BigEndian.AppendUint32(reply, 1)

	default:
		return []byte{statusFault}
	}
}

// pushLocked sends an event frame to every subscription on the named PV.
// Caller must hold d.mu.
func (d *mockDaemon) pushLocked(name string, v pv.Value) {
	if d.conn == nil {
		return
	}
	for id, subName := range d.subs {
		if subName != name {
			continue
		}
		data, err := pv.Encode(nil, v)
		if err != nil {
			continue
		}
		ef := eventFrame{subID: id, connected: true, kind: v.Kind(), data: data}
		d.conn.Write(EncodeFrame(msgEvent, 0, encodeEventFrame(ef)))
	}
}

func (d *mockDaemon) push(name string, v pv.Value) {
	d.mu.Lock()
	d.cells[name] = v
	d.pushLocked(name, v)
	d.mu.Unlock()
}

func dialDaemon(t *testing.T, d *mockDaemon, env map[string]string) *Client {
	t.Helper()
	client, err := Connect(context.Background(), Config{
		Connection:     d.url(),
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 2 * time.Second,
		Environment:    env,
	})
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	return client
}

func TestClientHandshakeForwardsEnvironment(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()

	env := map[string]string{
		"EPICS_CA_ADDR_LIST":      "10.0.7.255",
		"EPICS_CA_AUTO_ADDR_LIST": "NO",
	}
	client := dialDaemon(t, d, env)
	defer client.Close()

	d.mu.Lock()
	got := d.env
	d.mu.Unlock()
	if len(got) != 2 || got["EPICS_CA_ADDR_LIST"] != "10.0.7.255" || got["EPICS_CA_AUTO_ADDR_LIST"] != "NO" {
		t.Errorf("daemon received env %v", got)
	}
}

func TestClientConnectRefused(t *testing.T) {
	// Listener closed before any client dials.
	d := newMockDaemon(t)
	d.close()

	_, err := Connect(context.Background(), Config{
		Connection:     d.url(),
		ConnectTimeout: time.Second,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientChannelRoundTrip(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()
	d.host("sc1:position", pv.Double(1.5))

	client := dialDaemon(t, d, nil)
	defer client.Close()

	ch, err := pv.Open(client, "sc1:position", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}

	got, err := pv.Read[float64](ch)
	if err != nil || got != 1.5 {
		t.Fatalf("Read = (%v, %v), want (1.5, nil)", got, err)
	}

	if err := pv.Write(ch, 7.25); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	got, err = pv.Read[float64](ch)
	if err != nil || got != 7.25 {
		t.Fatalf("Read after write = (%v, %v), want (7.25, nil)", got, err)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestClientUnknownPV(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()

	client := dialDaemon(t, d, nil)
	defer client.Close()

	_, err := pv.Open(client, "no:such:pv", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if !errors.Is(err, pv.ErrChannelTimeout) {
		t.Errorf("Open error = %v, want pv.ErrChannelTimeout", err)
	}
}

func TestClientPutRejected(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()
	d.host("sc1:mode", pv.Enum(0))
	d.rejectPuts = true

	client := dialDaemon(t, d, nil)
	defer client.Close()

	ch, err := pv.Open(client, "sc1:mode", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer ch.Close()

	if err := pv.Write(ch, uint16(2)); !errors.Is(err, pv.ErrPutRejected) {
		t.Errorf("Write error = %v, want pv.ErrPutRejected", err)
	}
}

func TestClientMonitorDelivery(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()
	d.host("sc1:counts", pv.Long(0))

	client := dialDaemon(t, d, nil)
	defer client.Close()

	ch, err := pv.Open(client, "sc1:counts", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer ch.Close()

	events := make(chan pv.Event, 8)
	if _, err := ch.AddMonitor(nil, func(_ any, ev pv.Event) {
		events <- ev
	}); err != nil {
		t.Fatalf("AddMonitor error = %v", err)
	}

	d.push("sc1:counts", pv.Long(1234))

	select {
	case ev := <-events:
		if ev.Name != "sc1:counts" || !ev.Connected {
			t.Errorf("event = %+v", ev)
		}
		if n, _ := ev.Value.AsLong(); n != 1234 {
			t.Errorf("event value = %v, want 1234", ev.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClientSessionLoss(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()
	d.host("sc1:counts", pv.Long(0))

	client := dialDaemon(t, d, nil)
	defer client.Close()

	ch, err := pv.Open(client, "sc1:counts", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}

	events := make(chan pv.Event, 8)
	if _, err := ch.AddMonitor(nil, func(_ any, ev pv.Event) {
		events <- ev
	}); err != nil {
		t.Fatalf("AddMonitor error = %v", err)
	}

	d.dropSession()

	// The dropped session delivers a disconnect event to the monitor.
	select {
	case ev := <-events:
		if ev.Connected {
			t.Errorf("event = %+v, want disconnect", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event delivered")
	}

	// Subsequent operations fail fast.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := pv.Read[int32](ch); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reads still succeed after session loss")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after session loss")
	}
}

func TestClientStats(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()
	d.host("sc1:position", pv.Double(0))

	client := dialDaemon(t, d, nil)
	defer client.Close()

	ch, err := pv.Open(client, "sc1:position", pv.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer ch.Close()

	if _, err := pv.Read[float64](ch); err != nil {
		t.Fatalf("Read error = %v", err)
	}

	stats := client.Stats()
	if !stats.Connected {
		t.Error("stats.Connected = false")
	}
	if stats.RequestsTx == 0 {
		t.Error("stats.RequestsTx = 0 after traffic")
	}
	if stats.RepliesRx == 0 {
		t.Error("stats.RepliesRx = 0 after traffic")
	}
}

func TestClientHealthCheck(t *testing.T) {
	d := newMockDaemon(t)
	defer d.close()

	client := dialDaemon(t, d, nil)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v, want nil", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck after close = %v, want ErrNotConnected", err)
	}
}

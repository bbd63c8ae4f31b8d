package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beamworks/pvgate/internal/pv"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and pool sizes for the gateway session.
const (
	// defaultConnectTimeout is the maximum time for dial plus handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds a single request/reply round trip.
	defaultRequestTimeout = 5 * time.Second

	// defaultWriteTimeout is the timeout for writing one frame.
	defaultWriteTimeout = 5 * time.Second

	// readPollTimeout is how long a single blocking read waits before the
	// receive loop re-checks for shutdown.
	readPollTimeout = 30 * time.Second

	// eventQueueSize is the buffer size for the event dispatch queue.
	eventQueueSize = 256

	// eventWorkerCount is the number of concurrent event dispatch workers.
	eventWorkerCount = 4
)

// Config holds gateway session configuration.
type Config struct {
	// Connection is the gateway daemon URL.
	// Supported formats:
	//   - "unix:///run/pvgate/gateway" (Unix socket)
	//   - "tcp://localhost:7064" (TCP)
	Connection string

	// ConnectTimeout is the maximum time for dial plus handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/reply round trip that has no
	// caller-supplied deadline. Default: 5 seconds.
	RequestTimeout time.Duration

	// Environment is forwarded verbatim to the daemon during the
	// handshake and applied to its client context. Typical keys are the
	// address-list and timeout settings of the underlying protocol
	// (EPICS_CA_ADDR_LIST, EPICS_CA_CONN_TMO and friends).
	Environment map[string]string
}

// Stats holds operational statistics for a session.
type Stats struct {
	RequestsTx    uint64
	RepliesRx     uint64
	EventsRx      uint64
	EventsDropped uint64 // Events dropped due to full dispatch queue
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Ensure Client implements pv.Transport.
var _ pv.Transport = (*Client)(nil)

// subscription tracks one registered monitor on the daemon.
type subscription struct {
	name    string
	kind    pv.ScalarKind
	deliver func(pv.Event)
}

// queuedEvent pairs a parsed event with its subscription's callback.
type queuedEvent struct {
	deliver func(pv.Event)
	ev      pv.Event
}

// Client is a framed-socket session with a pvgate gateway daemon,
// implementing pv.Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use; requests from concurrent
//     channels interleave on the one socket.
//   - Subscription callbacks are invoked from a bounded worker pool.
type Client struct {
	cfg  Config
	conn net.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Request correlation
	seq       atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan []byte

	// Registered subscriptions
	subsMu  sync.RWMutex
	subs    map[pv.SubscriptionID]subscription
	handles map[pv.ConnHandle]string

	// Event dispatch (bounded goroutine spawning)
	eventQueue chan queuedEvent

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	requestsTx    atomic.Uint64
	repliesRx     atomic.Uint64
	eventsRx      atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64 // Unix timestamp
}

// Connect dials the gateway daemon, performs the configure handshake and
// starts the receive loop and event workers.
//
// The connection URL determines the transport:
//   - "unix:///run/pvgate/gateway" → Unix socket
//   - "tcp://localhost:7064" → TCP socket
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := &Client{
		cfg:        cfg,
		conn:       conn,
		pending:    make(map[uint32]chan []byte),
		subs:       make(map[pv.SubscriptionID]subscription),
		handles:    make(map[pv.ConnHandle]string),
		eventQueue: make(chan queuedEvent, eventQueueSize),
		done:       newCloseOnce(),
	}
	client.lastActivity.Store(time.Now().Unix())

	if err := client.configure(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	for i := 0; i < eventWorkerCount; i++ {
		client.wg.Add(1)
		go client.eventWorker()
	}

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// parseConnectionURL parses a gateway connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:7064"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// configure performs the session handshake synchronously, before the
// receive loop exists. Environment keys are sent in sorted order so the
// handshake frame is reproducible.
func (c *Client) configure(ctx context.Context) error {
	keys := make([]string, 0, len(c.cfg.Environment))
	for k := range c.cfg.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	frame := EncodeFrame(msgConfigure, 0, configurePayload(c.cfg.Environment, keys))

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	msgType, _, payload, err := c.readFrame(make([]byte, maxFrameSize))
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if msgType != msgConfigure {
		return fmt.Errorf("unexpected reply type 0x%04X", msgType)
	}
	if len(payload) < 1 {
		return fmt.Errorf("%w: empty configure reply", ErrInvalidFrame)
	}
	if err := statusError(payload[0]); err != nil {
		return fmt.Errorf("daemon refused configuration: %w", err)
	}
	return nil
}

// readFrame reads one complete frame from the connection into buf.
// An oversized frame is fatal: the remainder cannot be skipped safely, so
// the stream is declared desynchronized.
func (c *Client) readFrame(buf []byte) (uint16, uint32, []byte, error) {
	if _, err := io.ReadFull(c.conn, buf[:2]); err != nil {
		return 0, 0, nil, fmt.Errorf("read size: %w", err)
	}
	declared := binary.BigEndian.Uint16(buf[:2])
	if int(declared) < frameHeaderSize-2 {
		return 0, 0, nil, fmt.Errorf("%w: declared size %d", ErrInvalidFrame, declared)
	}
	total := 2 + int(declared)
	if total > len(buf) {
		return 0, 0, nil, fmt.Errorf("%w: frame of %d bytes exceeds buffer", ErrProtocolDesync, total)
	}
	if _, err := io.ReadFull(c.conn, buf[2:total]); err != nil {
		return 0, 0, nil, fmt.Errorf("read body: %w", err)
	}
	return ParseFrame(buf[:total])
}

// receiveLoop reads frames until shutdown or connection loss, routing
// replies to their pending requests and events to the dispatch queue.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, maxFrameSize)

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
			c.logError("set read deadline failed", err)
			c.teardown(err)
			return
		}

		msgType, seq, payload, err := c.readFrame(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.errorsTotal.Add(1)
			c.logError("session read failed", err)
			c.teardown(err)
			return
		}

		c.lastActivity.Store(time.Now().Unix())

		if msgType == msgEvent {
			c.handleEvent(payload)
			continue
		}
		c.handleReply(seq, payload)
	}
}

// handleReply routes a reply payload to the request waiting on its
// sequence number. Replies nobody waits for are counted and dropped;
// the waiter may have timed out just before the reply landed.
func (c *Client) handleReply(seq uint32, payload []byte) {
	c.repliesRx.Add(1)

	c.pendingMu.Lock()
	ch, ok := c.pending[seq]
	delete(c.pending, seq)
	c.pendingMu.Unlock()

	if !ok {
		c.errorsTotal.Add(1)
		c.logDebug("reply with no pending request", "seq", seq)
		return
	}
	ch <- append([]byte(nil), payload...)
}

// handleEvent parses an unsolicited event frame and queues it for the
// worker pool (non-blocking with drop on overflow).
func (c *Client) handleEvent(payload []byte) {
	ef, err := parseEventFrame(payload)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("parse event failed", err)
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[ef.subID]
	c.subsMu.RUnlock()
	if !ok {
		// Event raced an unsubscribe; nothing to deliver to.
		return
	}

	ev := pv.Event{Name: sub.name, Kind: ef.kind, Connected: ef.connected}
	if ef.connected {
		v, err := pv.Decode(ef.kind, ef.data)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("decode event value failed", err)
			return
		}
		ev.Value = v
	}

	c.eventsRx.Add(1)
	select {
	case c.eventQueue <- queuedEvent{deliver: sub.deliver, ev: ev}:
	default:
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logError("event queue full, dropping event", nil)
	}
}

// eventWorker delivers queued events to subscription callbacks.
// Panics in a callback are recovered and logged.
func (c *Client) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainEventQueue()
			return
		case qe := <-c.eventQueue:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("event callback panic", fmt.Errorf("%v", r))
					}
				}()
				qe.deliver(qe.ev)
			}()
		}
	}
}

// drainEventQueue discards anything left in the queue during shutdown.
func (c *Client) drainEventQueue() {
	for {
		select {
		case <-c.eventQueue:
		default:
			return
		}
	}
}

// teardown marks the session dead, fails every pending request and sends
// a disconnect event to every registered subscription.
func (c *Client) teardown(cause error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}
	c.logInfo("session lost", "error", cause)

	c.failPending()

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, sub := range c.subs {
		qe := queuedEvent{
			deliver: sub.deliver,
			ev:      pv.Event{Name: sub.name, Kind: sub.kind, Connected: false},
		}
		select {
		case c.eventQueue <- qe:
		default:
			c.eventsDropped.Add(1)
		}
	}
}

// failPending wakes every in-flight request with an empty reply so its
// waiter fails fast instead of running out its timeout.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		close(ch)
	}
}

// request performs one request/reply round trip, waiting at most timeout
// for the reply. The returned payload starts with the status byte.
func (c *Client) request(msgType uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	seq := c.seq.Add(1)
	ch := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	abandon := func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}

	frame := EncodeFrame(msgType, seq, payload)
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		abandon()
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		abandon()
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("write request: %w", err)
	}
	c.requestsTx.Add(1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if len(reply) < 1 {
			return nil, fmt.Errorf("%w: empty reply", ErrInvalidFrame)
		}
		return reply, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w: type 0x%04X after %s", ErrRequestTimeout, msgType, timeout)
	case <-c.done.Done():
		abandon()
		return nil, ErrNotConnected
	}
}

// CreateConnection asks the daemon for a connection to the named PV,
// waiting at most timeout for establishment. A daemon-side search
// timeout surfaces as pv.ErrChannelTimeout so channel creation classifies
// it correctly.
func (c *Client) CreateConnection(name string, timeout time.Duration) (pv.ConnHandle, error) {
	reply, err := c.request(msgCreate, createPayload(name), timeout)
	if err != nil {
		if errors.Is(err, ErrRequestTimeout) {
			return 0, fmt.Errorf("%w: %s: %w", pv.ErrChannelTimeout, name, err)
		}
		return 0, err
	}
	if err := statusError(reply[0]); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(reply) < 5 {
		return 0, fmt.Errorf("%w: short create reply", ErrInvalidFrame)
	}
	h := pv.ConnHandle(binary.BigEndian.Uint32(reply[1:5]))

	c.subsMu.Lock()
	c.handles[h] = name
	c.subsMu.Unlock()
	return h, nil
}

// DestroyConnection releases a connection handle on the daemon.
func (c *Client) DestroyConnection(h pv.ConnHandle) error {
	reply, err := c.request(msgDestroy, handlePayload(h), 0)
	if err != nil {
		return err
	}
	if err := statusError(reply[0]); err != nil {
		return fmt.Errorf("destroy handle %d: %w", h, err)
	}

	c.subsMu.Lock()
	delete(c.handles, h)
	c.subsMu.Unlock()
	return nil
}

// Get reads one element of the given kind.
func (c *Client) Get(h pv.ConnHandle, kind pv.ScalarKind) ([]byte, error) {
	return c.get(h, kind, 1)
}

// GetArray reads count elements of the given kind.
func (c *Client) GetArray(h pv.ConnHandle, kind pv.ScalarKind, count int) ([]byte, error) {
	return c.get(h, kind, count)
}

func (c *Client) get(h pv.ConnHandle, kind pv.ScalarKind, count int) ([]byte, error) {
	reply, err := c.request(msgGet, ioPayload(h, kind, count, nil), 0)
	if err != nil {
		return nil, err
	}
	if err := statusError(reply[0]); err != nil {
		return nil, fmt.Errorf("get handle %d: %w", h, err)
	}
	if len(reply) < 5 {
		return nil, fmt.Errorf("%w: short get reply", ErrInvalidFrame)
	}
	n := int(binary.BigEndian.Uint32(reply[1:5]))
	data := reply[5:]
	if n*kind.ByteSize() != len(data) {
		return nil, fmt.Errorf("%w: %d elements in %d bytes", ErrInvalidFrame, n, len(data))
	}
	return data, nil
}

// Put writes one element of the given kind.
func (c *Client) Put(h pv.ConnHandle, kind pv.ScalarKind, data []byte) error {
	return c.put(h, kind, 1, data)
}

// PutArray writes count elements of the given kind.
func (c *Client) PutArray(h pv.ConnHandle, kind pv.ScalarKind, count int, data []byte) error {
	return c.put(h, kind, count, data)
}

func (c *Client) put(h pv.ConnHandle, kind pv.ScalarKind, count int, data []byte) error {
	reply, err := c.request(msgPut, ioPayload(h, kind, count, data), 0)
	if err != nil {
		return err
	}
	if err := statusError(reply[0]); err != nil {
		return fmt.Errorf("put handle %d: %w", h, err)
	}
	return nil
}

// Subscribe registers a value-change subscription for the handle's PV.
// Events are delivered to deliver from the worker pool until Unsubscribe.
func (c *Client) Subscribe(h pv.ConnHandle, kind pv.ScalarKind, deliver func(pv.Event)) (pv.SubscriptionID, error) {
	reply, err := c.request(msgSubscribe, subscribePayload(h, kind), 0)
	if err != nil {
		return 0, err
	}
	if err := statusError(reply[0]); err != nil {
		return 0, fmt.Errorf("subscribe handle %d: %w", h, err)
	}
	if len(reply) < 9 {
		return 0, fmt.Errorf("%w: short subscribe reply", ErrInvalidFrame)
	}
	id := pv.SubscriptionID(binary.BigEndian.Uint64(reply[1:9]))

	c.subsMu.Lock()
	c.subs[id] = subscription{name: c.handles[h], kind: kind, deliver: deliver}
	c.subsMu.Unlock()
	return id, nil
}

// Unsubscribe drops a subscription on the daemon and stops local delivery.
func (c *Client) Unsubscribe(id pv.SubscriptionID) error {
	reply, err := c.request(msgUnsubscribe, subIDPayload(id), 0)
	if err != nil {
		return err
	}
	if err := statusError(reply[0]); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}

	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
	return nil
}

// Flush completes a synchronization round trip: when it returns nil,
// every request sent before it has been processed by the daemon. A
// deadline overrun surfaces as pv.ErrIOTimeout.
func (c *Client) Flush(timeout time.Duration) error {
	reply, err := c.request(msgSync, nil, timeout)
	if err != nil {
		if errors.Is(err, ErrRequestTimeout) {
			return fmt.Errorf("%w: %w", pv.ErrIOTimeout, err)
		}
		return err
	}
	return statusError(reply[0])
}

// info performs the live native-type query for a handle.
func (c *Client) info(h pv.ConnHandle) (pv.ScalarKind, int, error) {
	reply, err := c.request(msgInfo, handlePayload(h), 0)
	if err != nil {
		return 0, 0, err
	}
	if err := statusError(reply[0]); err != nil {
		return 0, 0, fmt.Errorf("info handle %d: %w", h, err)
	}
	if len(reply) < 6 {
		return 0, 0, fmt.Errorf("%w: short info reply", ErrInvalidFrame)
	}
	kind := pv.ScalarKind(reply[1])
	count := int(binary.BigEndian.Uint32(reply[2:6]))
	return kind, count, nil
}

// ElementCount reports the PV's current native element count.
func (c *Client) ElementCount(h pv.ConnHandle) (int, error) {
	_, count, err := c.info(h)
	return count, err
}

// FieldKind reports the PV's current native kind. Queried live on every
// call; the daemon may rehost a PV with a different type between calls.
func (c *Client) FieldKind(h pv.ConnHandle) (pv.ScalarKind, error) {
	kind, _, err := c.info(h)
	return kind, err
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts the session down: signals the receive loop and workers,
// closes the socket and fails any in-flight requests. Safe to call
// multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
	c.failPending()
	c.wg.Wait()

	c.logInfo("session closed")
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while the session is live.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		RequestsTx:    c.requestsTx.Load(),
		RepliesRx:     c.repliesRx.Load(),
		EventsRx:      c.eventsRx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     c.IsConnected(),
	}
}

// HealthCheck verifies the session with a sync round trip.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.Flush(c.cfg.RequestTimeout)
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

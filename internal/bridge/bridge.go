package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamworks/pvgate/internal/pv"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 2

	// defaultHealthInterval is how often health is published.
	defaultHealthInterval = 30 * time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// DeviceGroup is the slice of the proxy surface the bridge drives.
// Satisfied by *pv.Proxy.
type DeviceGroup interface {
	Device() string
	Fields() []string
	ReadPVValue(field string) (pv.Value, error)
	WritePVTagged(field, tag string, v pv.Value) error
	AddMonitor(field string, userData any, fn pv.MonitorFunc) (pv.SubscriptionID, error)
	RemoveMonitorID(field string, id pv.SubscriptionID) error
	Status() uint32
}

// Ensure *pv.Proxy satisfies DeviceGroup.
var _ DeviceGroup = (*pv.Proxy)(nil)

// Recorder persists observed samples. Optional - if nil, the bridge
// operates without persistence.
type Recorder interface {
	RecordSample(ctx context.Context, device, field, tag, value string, observed time.Time) error
}

// Session reports transport session liveness for health messages.
// Satisfied by *gateway.Client. Optional.
type Session interface {
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// monitorRef identifies one bridge-owned monitor for teardown.
type monitorRef struct {
	group DeviceGroup
	field string
	id    pv.SubscriptionID
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Session is the transport session, consulted for health reporting.
	// Optional.
	Session Session

	// Recorder persists observed samples. Optional.
	Recorder Recorder

	// HealthInterval is the interval between health messages.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional structured logging.
	Logger Logger
}

// Bridge translates between device groups and MQTT: commands in, state
// and health out.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	session  Session
	recorder Recorder
	interval time.Duration

	// Registered device groups
	groupMu sync.RWMutex
	groups  map[string]DeviceGroup

	// Bridge-owned monitors, for detach on Stop
	monitorMu sync.Mutex
	monitors  []monitorRef

	// Last rendered value per device/field, reused in disconnect states
	stateMu   sync.Mutex
	lastState map[string]string

	// Event counters for health
	eventMu       sync.Mutex
	eventsRx      uint64
	eventsDropped uint64

	startTime time.Time

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Register device groups, then call Start.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.HealthInterval == 0 {
		opts.HealthInterval = defaultHealthInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:      opts.MQTTClient,
		session:   opts.Session,
		recorder:  opts.Recorder,
		interval:  opts.HealthInterval,
		groups:    make(map[string]DeviceGroup),
		lastState: make(map[string]string),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}, nil
}

// Register adds a device group to the bridge. Must be called before
// Start; groups registered later are not monitored.
func (b *Bridge) Register(g DeviceGroup) {
	b.groupMu.Lock()
	b.groups[g.Device()] = g
	b.groupMu.Unlock()
}

// Start subscribes to command and request topics, attaches a monitor to
// every field of every registered group and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.startTime = time.Now()

	if err := b.mqtt.Subscribe(CommandSubscribeTopic(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := b.mqtt.Subscribe(RequestSubscribeTopic(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	if err := b.attachMonitors(); err != nil {
		return err
	}

	// Seed retained state so subscribers see values before the first
	// change event.
	b.readAll(ctx)

	b.publishHealth(b.currentStatus())
	b.wg.Add(1)
	go b.healthLoop()

	b.groupMu.RLock()
	count := len(b.groups)
	b.groupMu.RUnlock()
	b.logInfo("bridge started", "devices", count)
	return nil
}

// Stop detaches the bridge's monitors, publishes a stopping health
// message and waits for the health loop. The device groups themselves
// stay open; their owner clears them.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.monitorMu.Lock()
		refs := b.monitors
		b.monitors = nil
		b.monitorMu.Unlock()
		for _, ref := range refs {
			if err := ref.group.RemoveMonitorID(ref.field, ref.id); err != nil {
				b.logError("monitor detach failed", err)
			}
		}

		b.publishHealth(HealthStopping, "shutdown requested")
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// attachMonitors registers one monitor per field of every group.
func (b *Bridge) attachMonitors() error {
	b.groupMu.RLock()
	defer b.groupMu.RUnlock()

	for _, g := range b.groups {
		for _, field := range g.Fields() {
			group, field := g, field
			id, err := g.AddMonitor(field, nil, func(_ any, ev pv.Event) {
				b.handleEvent(group, field, ev)
			})
			if err != nil {
				return fmt.Errorf("monitor %s%s: %w", g.Device(), field, err)
			}
			b.monitorMu.Lock()
			b.monitors = append(b.monitors, monitorRef{group: group, field: field, id: id})
			b.monitorMu.Unlock()
		}
	}
	return nil
}

// handleEvent publishes one monitor event as retained state, and hands
// the sample to the recorder when present.
func (b *Bridge) handleEvent(g DeviceGroup, field string, ev pv.Event) {
	b.eventMu.Lock()
	b.eventsRx++
	b.eventMu.Unlock()

	key := g.Device() + "\x00" + field

	var rendered string
	if ev.Connected {
		rendered = ev.Value.String()
		b.stateMu.Lock()
		b.lastState[key] = rendered
		b.stateMu.Unlock()
	} else {
		b.stateMu.Lock()
		rendered = b.lastState[key]
		b.stateMu.Unlock()
	}

	msg := StateMessage{
		Device:     g.Device(),
		Field:      field,
		Timestamp:  time.Now().UTC(),
		Tag:        ev.Kind.Tag(),
		Value:      rendered,
		Connected:  ev.Connected,
		StatusWord: g.Status(),
	}
	b.publishState(msg)

	if b.recorder != nil && ev.Connected {
		if err := b.recorder.RecordSample(b.ctx, msg.Device, msg.Field, msg.Tag, msg.Value, msg.Timestamp); err != nil {
			b.logDebug("sample record skipped", "device", msg.Device, "field", field, "reason", err.Error())
		}
	}
}

func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal state failed", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(msg.Device, msg.Field), payload, 1, true); err != nil {
		b.logError("publish state failed", err)
	}
}

// handleMQTTMessage routes incoming MQTT messages by topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand executes a tagged write and acknowledges it.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("parse command failed", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID, "device", cmd.Device, "field", cmd.Field, "tag", cmd.Tag)

	b.groupMu.RLock()
	g, ok := b.groups[cmd.Device]
	b.groupMu.RUnlock()
	if !ok {
		b.publishAck(NewAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.Device)))
		return
	}

	kind, err := pv.ResolveKind(cmd.Tag)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidTag, err.Error()))
		return
	}
	v, err := pv.ParseValue(kind, cmd.Value)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidValue, err.Error()))
		return
	}

	if err := g.WritePVTagged(cmd.Field, cmd.Tag, v); err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeWriteFailed, err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd, AckAccepted))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("marshal ack failed", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.Device), payload, 1, false); err != nil {
		b.logError("publish ack failed", err)
	}
	if ack.Error != nil {
		b.logError("command failed",
			fmt.Errorf("code=%s message=%s", ack.Error.Code, ack.Error.Message))
	}
}

// handleRequest serves read and read_all requests.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("parse request failed", err)
		return
	}

	b.logInfo("received request", "request_id", req.RequestID, "action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read":
		resp = b.handleRead(req)
	case "read_all":
		reads := b.readAll(b.ctx)
		resp = ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
			Success:   true,
			Data:      map[string]any{"reads": reads},
		}
	default:
		resp = ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
			Success:   false,
			Error: &AckError{
				Code:    ErrCodeNotConfigured,
				Message: fmt.Sprintf("unknown action: %s", req.Action),
			},
		}
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("marshal response failed", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("publish response failed", err)
	}
}

// handleRead refreshes and republishes one device's fields.
func (b *Bridge) handleRead(req RequestMessage) ResponseMessage {
	b.groupMu.RLock()
	g, ok := b.groups[req.Device]
	b.groupMu.RUnlock()
	if !ok {
		return ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
			Success:   false,
			Error: &AckError{
				Code:    ErrCodeNotConfigured,
				Message: fmt.Sprintf("device %s not configured", req.Device),
			},
		}
	}

	reads := b.readGroup(g)
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"reads": reads},
	}
}

// readAll refreshes every field of every group, publishing state for
// each successful read. Returns the number of successful reads.
func (b *Bridge) readAll(ctx context.Context) int {
	b.groupMu.RLock()
	groups := make([]DeviceGroup, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	b.groupMu.RUnlock()

	reads := 0
	for _, g := range groups {
		select {
		case <-ctx.Done():
			return reads
		default:
		}
		reads += b.readGroup(g)
	}
	return reads
}

// readGroup reads every field of one group and publishes its state.
func (b *Bridge) readGroup(g DeviceGroup) int {
	reads := 0
	for _, field := range g.Fields() {
		v, err := g.ReadPVValue(field)
		if err != nil {
			b.logError("field read failed",
				fmt.Errorf("device=%s field=%s: %w", g.Device(), field, err))
			continue
		}
		b.handleEvent(g, field, pv.Event{
			Name:      g.Device() + field,
			Kind:      v.Kind(),
			Value:     v,
			Connected: true,
		})
		reads++
	}
	return reads
}

// healthLoop publishes retained health messages on the interval.
func (b *Bridge) healthLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.publishHealth(b.currentStatus())
		}
	}
}

// currentStatus derives the health status from session liveness.
func (b *Bridge) currentStatus() (HealthStatus, string) {
	if b.session != nil && !b.session.IsConnected() {
		return HealthDegraded, "gateway session down"
	}
	return HealthHealthy, ""
}

func (b *Bridge) publishHealth(status HealthStatus, reason string) {
	b.groupMu.RLock()
	devices := len(b.groups)
	b.groupMu.RUnlock()

	b.eventMu.Lock()
	rx, dropped := b.eventsRx, b.eventsDropped
	b.eventMu.Unlock()

	msg := HealthMessage{
		Timestamp:        time.Now().UTC(),
		Status:           status,
		UptimeSeconds:    int64(time.Since(b.startTime).Seconds()),
		Devices:          devices,
		SessionConnected: b.session != nil && b.session.IsConnected(),
		EventsRx:         rx,
		EventsDropped:    dropped,
		Reason:           reason,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal health failed", err)
		return
	}
	if err := b.mqtt.Publish(HealthTopic(), payload, 1, true); err != nil {
		b.logError("publish health failed", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

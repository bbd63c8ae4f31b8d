package bridge

import (
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between the beamline control plane and
// the pvgate bridge.

// CommandMessage is a tagged write against one field of a device group.
// Topic: pvgate/command/{device}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acks.
	// Assigned by the bridge if the sender leaves it empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the device prefix the command targets.
	Device string `json:"device"`

	// Field is the PV field within the device group.
	Field string `json:"field"`

	// Tag selects the write encoding ("d", "f", "t", "s", "h", "l",
	// "ul" or "A40_c").
	Tag string `json:"tag"`

	// Value is the textual rendering of the value to write; it is
	// parsed according to Tag.
	Value string `json:"value"`

	// Source indicates where the command originated ("gui", "sequence",
	// "script").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the write completed on the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the write could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeNotConfigured = "NOT_CONFIGURED"
	ErrCodeInvalidTag    = "INVALID_TAG"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeWriteFailed   = "WRITE_FAILED"
	ErrCodeTimeout       = "TIMEOUT"
)

// AckMessage reports the outcome of a command.
// Topic: pvgate/ack/{device}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the device prefix from the command.
	Device string `json:"device"`

	// Field is the PV field from the command.
	Field string `json:"field"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Error contains details if the status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g. "INVALID_TAG", "WRITE_FAILED").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// StateMessage carries one field's current value.
// Topic: pvgate/state/{device}/{field}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Device is the device prefix.
	Device string `json:"device"`

	// Field is the PV field.
	Field string `json:"field"`

	// Timestamp is when the value was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Tag is the wire encoding of the observed value.
	Tag string `json:"tag"`

	// Value is the canonical textual rendering of the value. Empty while
	// disconnected.
	Value string `json:"value"`

	// Connected is false when the field's PV dropped off the network;
	// Value then holds the last known rendering.
	Connected bool `json:"connected"`

	// StatusWord is the device group's translated status word at the
	// time of the observation.
	StatusWord uint32 `json:"status_word"`
}

// RequestMessage asks the bridge to refresh state.
// Topic: pvgate/request/{request_id}
type RequestMessage struct {
	// RequestID uniquely identifies this request for correlation.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation: "read", "read_all".
	Action string `json:"action"`

	// Device is the target device (required for "read").
	Device string `json:"device,omitempty"`
}

// ResponseMessage answers a request.
// Topic: pvgate/response/{request_id}
type ResponseMessage struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Data contains the response payload (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Error describes the failure (if unsuccessful).
	Error *AckError `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge and its session are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the gateway session is down but the
	// bridge is still serving cached state.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is gone (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: pvgate/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Devices is the number of registered device groups.
	Devices int `json:"devices"`

	// SessionConnected reports the gateway session state.
	SessionConnected bool `json:"session_connected"`

	// EventsRx is the number of monitor events received.
	EventsRx uint64 `json:"events_rx"`

	// EventsDropped is the number of events lost to queue overflow.
	EventsDropped uint64 `json:"events_dropped"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Device:    cmd.Device,
		Field:     cmd.Field,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewLWTMessage creates the Last Will and Testament health message the
// broker publishes if the bridge disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all pvgate messages.
	TopicPrefix = "pvgate"
)

// CommandTopic returns the MQTT topic for commands to one device.
// Example: pvgate/command/sc1:
func CommandTopic(device string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, encodeTopicPart(device))
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(device string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, encodeTopicPart(device))
}

// StateTopic returns the MQTT topic for one field's state updates.
// Example: pvgate/state/sc1:/position
func StateTopic(device, field string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, encodeTopicPart(device), encodeTopicPart(field))
}

// HealthTopic returns the MQTT topic for bridge health.
func HealthTopic() string {
	return TopicPrefix + "/health"
}

// RequestTopic returns the MQTT topic for one request.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefix, requestID)
}

// ResponseTopic returns the MQTT topic for one response.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/#"
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return TopicPrefix + "/request/#"
}

// encodeTopicPart makes a PV name fragment safe for use as one MQTT
// topic level. Slashes would split the level and the wildcard characters
// would change subscription semantics.
func encodeTopicPart(s string) string {
	r := strings.NewReplacer("/", "%2F", "+", "%2B", "#", "%23")
	return r.Replace(s)
}

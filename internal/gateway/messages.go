package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/beamworks/pvgate/internal/pv"
)

// Frame layout: size(2) | type(2) | seq(4) | payload.
// The size field counts type + seq + payload, not itself. All integers
// are big-endian. Replies echo the request's type and sequence number;
// unsolicited event frames carry sequence zero.
const (
	// frameHeaderSize is size(2) + type(2) + seq(4).
	frameHeaderSize = 8

	// maxFrameSize bounds a single frame, including the size field.
	// Large enough for the biggest array put the daemon accepts.
	maxFrameSize = 64 * 1024
)

// Gateway message types.
const (
	msgConfigure   uint16 = 0x0001 // session environment handshake
	msgCreate      uint16 = 0x0002 // name → connection handle
	msgDestroy     uint16 = 0x0003 // release connection handle
	msgGet         uint16 = 0x0004 // read elements
	msgPut         uint16 = 0x0005 // write elements
	msgSubscribe   uint16 = 0x0006 // register value-change subscription
	msgUnsubscribe uint16 = 0x0007 // drop subscription
	msgSync        uint16 = 0x0008 // round trip; all prior requests done
	msgInfo        uint16 = 0x0009 // native kind and element count
	msgEvent       uint16 = 0x0080 // daemon → client, unsolicited
)

// Reply status codes. Every reply payload starts with one status byte.
const (
	statusOK       byte = 0x00
	statusTimeout  byte = 0x01 // search or completion window elapsed
	statusNotFound byte = 0x02 // unknown handle or subscription
	statusRejected byte = 0x03 // server refused the put
	statusBadType  byte = 0x04 // kind not hosted for this PV
	statusFault    byte = 0x05 // daemon internal error
)

// EncodeFrame builds a wire frame for the given type, sequence and payload.
func EncodeFrame(msgType uint16, seq uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(frameHeaderSize-2+len(payload)))
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// ParseFrame splits a complete wire frame into its parts. The input must
// contain exactly one frame.
func ParseFrame(data []byte) (msgType uint16, seq uint32, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(data))
	}
	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, 0, nil, fmt.Errorf("%w: size mismatch (declared %d, have %d)",
			ErrInvalidFrame, declared, len(data)-2)
	}
	msgType = binary.BigEndian.Uint16(data[2:4])
	seq = binary.BigEndian.Uint32(data[4:8])
	if len(data) > frameHeaderSize {
		payload = data[frameHeaderSize:]
	}
	return msgType, seq, payload, nil
}

// appendString appends a length-prefixed string to buf.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString consumes one length-prefixed string from buf, returning the
// string and the remainder.
func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("%w: truncated string length", ErrInvalidFrame)
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", nil, fmt.Errorf("%w: truncated string body", ErrInvalidFrame)
	}
	return string(buf[2 : 2+n]), buf[2+n:], nil
}

// configurePayload encodes the session environment as counted key/value
// pairs. The daemon applies these to its client context before answering.
func configurePayload(env map[string]string, keys []string) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, env[k])
	}
	return buf
}

// parseConfigurePayload is the inverse of configurePayload. The daemon
// side uses it; the client keeps it here so the two stay in lockstep.
func parseConfigurePayload(data []byte) (map[string]string, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: truncated configure payload", ErrInvalidFrame)
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	rest := data[2:]
	env := make(map[string]string, n)
	for i := 0; i < n; i++ {
		var k, v string
		var err error
		k, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		v, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		env[k] = v
	}
	return env, nil
}

// createPayload encodes a connection request for the named PV.
func createPayload(name string) []byte {
	return appendString(nil, name)
}

// handlePayload encodes a bare connection handle.
func handlePayload(h pv.ConnHandle) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(h))
}

// ioPayload encodes the common handle + kind + count prefix used by get
// and put requests, followed by data for puts.
func ioPayload(h pv.ConnHandle, kind pv.ScalarKind, count int, data []byte) []byte {
	buf := make([]byte, 0, 9+len(data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h))
	buf = append(buf, byte(kind))
	buf = binary.BigEndian.AppendUint32(buf, uint32(count))
	return append(buf, data...)
}

// subscribePayload encodes a subscription request.
func subscribePayload(h pv.ConnHandle, kind pv.ScalarKind) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(h))
	return append(buf, byte(kind))
}

// subIDPayload encodes a bare subscription identifier.
func subIDPayload(id pv.SubscriptionID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

// eventFrame describes one parsed unsolicited event.
type eventFrame struct {
	subID     pv.SubscriptionID
	connected bool
	kind      pv.ScalarKind
	data      []byte // encoded element, empty for disconnects
}

// Event payload: subID(8) | flags(1, bit0 = connected) | kind(1) | data.
func parseEventFrame(payload []byte) (eventFrame, error) {
	if len(payload) < 10 {
		return eventFrame{}, fmt.Errorf("%w: event payload %d bytes", ErrInvalidFrame, len(payload))
	}
	ev := eventFrame{
		subID:     pv.SubscriptionID(binary.BigEndian.Uint64(payload[0:8])),
		connected: payload[8]&0x01 != 0,
		kind:      pv.ScalarKind(payload[9]),
	}
	if len(payload) > 10 {
		ev.data = payload[10:]
	}
	return ev, nil
}

// encodeEventFrame builds an event payload. Used by the daemon side and
// by tests driving a client.
func encodeEventFrame(ev eventFrame) []byte {
	buf := binary.BigEndian.AppendUint64(nil, uint64(ev.subID))
	var flags byte
	if ev.connected {
		flags |= 0x01
	}
	buf = append(buf, flags, byte(ev.kind))
	return append(buf, ev.data...)
}

// statusError maps a reply status byte to an error, nil for statusOK.
// Codes with a defined place in the channel error taxonomy map onto the
// pv sentinels so callers can classify with errors.Is.
func statusError(status byte) error {
	switch status {
	case statusOK:
		return nil
	case statusTimeout:
		return pv.ErrChannelTimeout
	case statusNotFound:
		return pv.ErrNotFound
	case statusRejected:
		return pv.ErrPutRejected
	case statusBadType:
		return pv.ErrEncodingMismatch
	case statusFault:
		return ErrServerFault
	default:
		return fmt.Errorf("%w: unknown status 0x%02X", ErrInvalidFrame, status)
	}
}

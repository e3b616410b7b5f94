package protocol

import (
	"errors"
	"time"
)

// EventType classifies decoded frames
type EventType string

const (
	EventLogin           EventType = "login"
	EventLocation        EventType = "location"
	EventHeartbeat       EventType = "heartbeat"
	EventAlarm           EventType = "alarm"
	EventCommandResponse EventType = "command_response"
	EventUnknown         EventType = "unknown"
)

// Decode outcome sentinels. ErrNeedMoreData leaves the caller's buffer
// intact; ErrReject tells the trial list to move on to the next
// sub-codec. Any other error means the frame was accepted but corrupt.
var (
	ErrNeedMoreData = errors.New("protocol: need more data")
	ErrReject       = errors.New("protocol: frame not recognized")
	ErrUnsupported  = errors.New("protocol: command not supported")
)

// Event is one decoded frame. Pointer fields are absent when the frame
// did not carry them; a zero Timestamp means the frame had no clock and
// the receipt time applies.
type Event struct {
	Type     EventType `json:"type"`
	Protocol string    `json:"protocol"`
	IMEI     string    `json:"imei,omitempty"`

	// Response carries literal pre-auth reply bytes for frames that
	// must be answered before the session authenticates (the gps303
	// two-step login).
	NeedsResponse bool   `json:"needs_response"`
	Response      []byte `json:"-"`

	Timestamp time.Time `json:"timestamp"`

	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Course         *float64 `json:"course,omitempty"`
	Satellites     *int     `json:"satellites,omitempty"`
	BatteryLevel   *int     `json:"battery_level,omitempty"`
	SignalStrength *int     `json:"signal_strength,omitempty"`
	Valid          bool     `json:"valid"`

	AlarmKind string `json:"alarm_kind,omitempty"`
	AlarmCode int    `json:"alarm_code,omitempty"`

	Serial       uint16 `json:"serial,omitempty"`
	ResponseText string `json:"response_text,omitempty"`

	Raw    []byte `json:"-"`
	Hex    string `json:"hex,omitempty"`
	ASCII  string `json:"ascii,omitempty"`
	Length int    `json:"length,omitempty"`
}

// Codec is the per-protocol capability set: frame decoding plus the
// device-facing ack and command encoders. Encoders return nil when the
// dialect has no such reply.
type Codec interface {
	Name() string

	// Decode attempts to parse one frame from the head of buf and
	// returns the event plus the exact byte count consumed.
	Decode(buf []byte) (*Event, int, error)

	EncodeAuthAck(ok bool) []byte
	EncodeLoginAck(ok bool) []byte
	EncodeLocationAck(seq uint16) []byte
	EncodeHeartbeatAck() []byte
	EncodeCommand(kind string, params map[string]interface{}) ([]byte, error)
}

// Codecs returns the ordered trial list used to fingerprint a fresh
// session. Order matters: the first sub-codec to decode successfully
// fixes the session's dialect.
func Codecs() []Codec {
	return []Codec{
		NewGPS303Codec(),
		NewGT06Codec(),
		NewTK103Codec(),
		NewH02Codec(),
	}
}

// Detect runs the ordered trial list over buf. On success it returns
// the winning codec, the first event, and the bytes consumed. When a
// sub-codec recognizes the stream but needs more bytes, ErrNeedMoreData
// is returned and the buffer must be kept. When every specific
// sub-codec rejects, the generic codec claims the buffer.
func Detect(buf []byte) (Codec, *Event, int, error) {
	for _, c := range Codecs() {
		ev, n, err := c.Decode(buf)
		if err == nil {
			return c, ev, n, nil
		}
		if errors.Is(err, ErrReject) {
			continue
		}
		// need-more or corrupt: the stream belongs to this dialect
		return c, nil, 0, err
	}

	g := NewGenericCodec()
	ev, n, err := g.Decode(buf)
	if err != nil {
		return g, nil, 0, err
	}
	return g, ev, n, nil
}

// CodecByName resolves a fingerprint string back to its codec. Used
// when session state is rebuilt outside the detection path.
func CodecByName(name string) Codec {
	for _, c := range Codecs() {
		if c.Name() == name {
			return c
		}
	}
	return NewGenericCodec()
}

package protocol

import (
	"strings"
)

// TK103Codec decodes the TK103 ASCII dialect: "##"-prefixed
// comma-separated lines where a field beginning "imei:" identifies the
// device in one step. In the default trial order the gps303 handshake
// claims "##" streams first; this codec serves sessions fingerprinted
// as tk103 directly.
type TK103Codec struct{}

// NewTK103Codec creates a TK103 codec
func NewTK103Codec() *TK103Codec {
	return &TK103Codec{}
}

func (c *TK103Codec) Name() string { return "tk103" }

// Decode parses the buffer as one TK103 frame, consuming it whole
func (c *TK103Codec) Decode(buf []byte) (*Event, int, error) {
	s := strings.TrimSpace(string(buf))
	if !strings.HasPrefix(s, "##") {
		return nil, 0, ErrReject
	}

	ev := &Event{
		Protocol:      c.Name(),
		NeedsResponse: true,
		Raw:           append([]byte(nil), buf...),
	}

	for _, field := range strings.Split(s, ",") {
		f := strings.TrimSpace(field)
		if strings.HasPrefix(f, "imei:") {
			ev.Type = EventLogin
			ev.IMEI = strings.TrimSuffix(strings.TrimPrefix(f, "imei:"), ";")
			return ev, len(buf), nil
		}
	}

	ev.Type = EventHeartbeat
	return ev, len(buf), nil
}

// EncodeAuthAck answers a login line
func (c *TK103Codec) EncodeAuthAck(ok bool) []byte {
	if !ok {
		return nil
	}
	return []byte("LOAD")
}

// EncodeLoginAck is the same literal as the auth ack
func (c *TK103Codec) EncodeLoginAck(ok bool) []byte {
	return c.EncodeAuthAck(ok)
}

// EncodeLocationAck acknowledges a report line
func (c *TK103Codec) EncodeLocationAck(seq uint16) []byte {
	return []byte("ON")
}

// EncodeHeartbeatAck acknowledges a heartbeat line
func (c *TK103Codec) EncodeHeartbeatAck() []byte {
	return []byte("ON")
}

// EncodeCommand supports only raw passthrough for this ASCII dialect
func (c *TK103Codec) EncodeCommand(kind string, params map[string]interface{}) ([]byte, error) {
	if kind != "raw" {
		return nil, ErrUnsupported
	}
	return rawParamBytes(params)
}

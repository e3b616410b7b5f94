package protocol

import (
	"fmt"
	"strings"
)

// GenericCodec is the fallback when no specific dialect matches. It
// always succeeds, consuming the whole buffer into an unknown event
// with hex and printable-ASCII views so operators can identify new
// device families from the logs.
type GenericCodec struct{}

// NewGenericCodec creates the fallback codec
func NewGenericCodec() *GenericCodec {
	return &GenericCodec{}
}

func (c *GenericCodec) Name() string { return "generic" }

// Decode consumes the entire buffer as one unknown event
func (c *GenericCodec) Decode(buf []byte) (*Event, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	ev := &Event{
		Type:     EventUnknown,
		Protocol: c.Name(),
		Raw:      append([]byte(nil), buf...),
		Hex:      fmt.Sprintf("%X", buf),
		ASCII:    printableASCII(buf),
		Length:   len(buf),
	}
	return ev, len(buf), nil
}

// printableASCII renders bytes with non-printable characters replaced
// by dots.
func printableASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

func (c *GenericCodec) EncodeAuthAck(ok bool) []byte {
	if !ok {
		return nil
	}
	return []byte("OK")
}

func (c *GenericCodec) EncodeLoginAck(ok bool) []byte {
	return c.EncodeAuthAck(ok)
}

func (c *GenericCodec) EncodeLocationAck(seq uint16) []byte {
	return []byte("ACK")
}

func (c *GenericCodec) EncodeHeartbeatAck() []byte {
	return []byte("PONG")
}

func (c *GenericCodec) EncodeCommand(kind string, params map[string]interface{}) ([]byte, error) {
	if kind != "raw" {
		return nil, ErrUnsupported
	}
	return rawParamBytes(params)
}

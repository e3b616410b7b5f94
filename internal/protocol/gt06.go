package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// GT06 message type numbers
const (
	gt06MsgLogin           = 0x01
	gt06MsgLocation        = 0x12
	gt06MsgHeartbeat       = 0x13
	gt06MsgCommandResponse = 0x15
	gt06MsgAlarm           = 0x16

	gt06ServerCommand = 0x80
)

// Course/status flag bits in the two-byte course field. The low ten
// bits are the heading; hemisphere and fix state live above them.
const (
	gt06CourseMask   = 0x03FF
	gt06FlagSouth    = 0x0400
	gt06FlagWest     = 0x0800
	gt06FlagGPSFixed = 0x1000
)

// gt06CoordDivisor converts the wire's scaled integer coordinates to
// decimal degrees.
const gt06CoordDivisor = 1800000.0

// ChecksumFunc verifies an inbound frame's trailing checksum. data
// covers the length byte through the payload, exactly the range the
// additive sum is computed over on encode.
type ChecksumFunc func(data []byte, crc uint16) bool

// GT06Codec decodes and encodes the GT06 binary dialect
// (0x7878 ... 0x0D0A framing, big-endian).
type GT06Codec struct {
	// Verify is consulted on every accepted frame when set. The
	// default is permissive: vendor firmware disagrees on the CRC
	// algorithm and the additive sum used on encode is not what every
	// device family emits.
	Verify ChecksumFunc
}

// NewGT06Codec creates a GT06 codec with the permissive checksum policy
func NewGT06Codec() *GT06Codec {
	return &GT06Codec{}
}

func (c *GT06Codec) Name() string { return "gt06" }

// AdditiveChecksum is the simplified 16-bit sum used on encode,
// computed over the length byte through the end of the payload.
func AdditiveChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// Decode parses one GT06 frame from the head of buf
func (c *GT06Codec) Decode(buf []byte) (*Event, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != 0x78 {
		return nil, 0, ErrReject
	}
	if len(buf) >= 2 && buf[1] != 0x78 {
		return nil, 0, ErrReject
	}
	if len(buf) < 5 {
		return nil, 0, ErrNeedMoreData
	}

	length := int(buf[2])
	total := length + 5
	if length < 3 {
		return nil, 0, ErrReject
	}
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	if buf[total-2] != 0x0D || buf[total-1] != 0x0A {
		return nil, 0, ErrReject
	}

	msgType := buf[3]
	payload := buf[4 : 1+length]
	crc := binary.BigEndian.Uint16(buf[1+length : 3+length])

	if c.Verify != nil && !c.Verify(buf[2:1+length], crc) {
		return nil, 0, fmt.Errorf("gt06: checksum mismatch on type 0x%02x frame", msgType)
	}

	ev := &Event{
		Protocol:      c.Name(),
		NeedsResponse: true,
		Raw:           append([]byte(nil), buf[:total]...),
		Serial:        gt06Serial(payload),
	}

	switch msgType {
	case gt06MsgLogin:
		if len(payload) < 8 {
			return nil, 0, fmt.Errorf("gt06: login payload too short (%d bytes)", len(payload))
		}
		ev.Type = EventLogin
		ev.IMEI = bcdIMEI(payload[:8])

	case gt06MsgLocation:
		if err := c.decodeLocation(ev, payload); err != nil {
			return nil, 0, err
		}
		ev.Type = EventLocation

	case gt06MsgHeartbeat:
		ev.Type = EventHeartbeat
		if len(payload) >= 3 {
			battery := int(payload[1])
			signal := int(payload[2])
			ev.BatteryLevel = &battery
			ev.SignalStrength = &signal
		}

	case gt06MsgAlarm:
		if err := c.decodeLocation(ev, payload); err != nil {
			return nil, 0, err
		}
		ev.Type = EventAlarm
		ev.AlarmCode = gt06AlarmCode(payload)
		ev.AlarmKind = gt06AlarmKind(ev.AlarmCode)

	case gt06MsgCommandResponse:
		ev.Type = EventCommandResponse
		ev.NeedsResponse = false
		ev.ResponseText = gt06ResponseContent(payload)

	default:
		ev.Type = EventUnknown
		ev.NeedsResponse = false
		ev.Hex = fmt.Sprintf("%X", buf[:total])
	}

	return ev, total, nil
}

// decodeLocation fills the shared location block used by both the
// position and alarm messages: date(6) sat(1) lat(4) lon(4) speed(1)
// course/status(2).
func (c *GT06Codec) decodeLocation(ev *Event, payload []byte) error {
	if len(payload) < 18 {
		return fmt.Errorf("gt06: location payload too short (%d bytes)", len(payload))
	}

	ev.Timestamp = time.Date(
		2000+int(payload[0]), time.Month(payload[1]), int(payload[2]),
		int(payload[3]), int(payload[4]), int(payload[5]), 0, time.UTC)

	sats := int(payload[6] & 0x0F)
	ev.Satellites = &sats

	lat := float64(binary.BigEndian.Uint32(payload[7:11])) / gt06CoordDivisor
	lon := float64(binary.BigEndian.Uint32(payload[11:15])) / gt06CoordDivisor
	speed := float64(payload[15])

	courseRaw := binary.BigEndian.Uint16(payload[16:18])
	course := float64(courseRaw & gt06CourseMask)

	if courseRaw&gt06FlagSouth != 0 {
		lat = -lat
	}
	if courseRaw&gt06FlagWest != 0 {
		lon = -lon
	}
	ev.Valid = courseRaw&gt06FlagGPSFixed != 0

	ev.Latitude = &lat
	ev.Longitude = &lon
	ev.Speed = &speed
	ev.Course = &course
	return nil
}

// gt06Serial reads the trailing two payload bytes, where the terminal
// puts its frame serial number.
func gt06Serial(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload[len(payload)-2:])
}

// gt06AlarmCode locates the alarm byte: offset 30 in the full layout
// with the 9-byte LBS tail, else the byte right after the location
// block on trimmed payloads.
func gt06AlarmCode(payload []byte) int {
	if len(payload) > 30 {
		return int(payload[30])
	}
	if len(payload) > 18 {
		return int(payload[18])
	}
	return 0
}

func gt06AlarmKind(code int) string {
	switch code {
	case 0x00:
		return "normal"
	case 0x01:
		return "sos"
	case 0x02:
		return "power_cut"
	case 0x03:
		return "vibration"
	case 0x04:
		return "fence_in"
	case 0x05:
		return "fence_out"
	case 0x06:
		return "over_speed"
	default:
		return "other"
	}
}

// gt06ResponseContent extracts the ASCII content of a 0x15 terminal
// response: length(1) serverflag(4) content lang(2) serial(2).
func gt06ResponseContent(payload []byte) string {
	if len(payload) < 5 {
		return ""
	}
	contentLen := int(payload[0]) - 4
	if contentLen < 0 {
		contentLen = 0
	}
	end := 5 + contentLen
	if end > len(payload) {
		end = len(payload)
	}
	return printableASCII(payload[5:end])
}

// bcdIMEI renders the 8 packed BCD bytes as the 16-digit identity the
// registry keys on.
func bcdIMEI(b []byte) string {
	return hex.EncodeToString(b)
}

// frame wraps data in the 0x7878 envelope. length is written as given:
// device-bound acks carry the bare data length, server commands carry
// data length + 1. The checksum is the additive sum over the length
// byte and the data.
func (c *GT06Codec) frame(length byte, data []byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0x78)
	buf.WriteByte(0x78)
	buf.WriteByte(length)
	buf.Write(data)

	sum := AdditiveChecksum(append([]byte{length}, data...))
	binary.Write(buf, binary.BigEndian, sum)

	buf.WriteByte(0x0D)
	buf.WriteByte(0x0A)
	return buf.Bytes()
}

func boolByte(ok bool) byte {
	if ok {
		return 1
	}
	return 0
}

// EncodeAuthAck builds the login acknowledgement frame
func (c *GT06Codec) EncodeAuthAck(ok bool) []byte {
	return c.frame(2, []byte{0x01, boolByte(ok)})
}

// EncodeLoginAck is identical to the auth ack for GT06
func (c *GT06Codec) EncodeLoginAck(ok bool) []byte {
	return c.EncodeAuthAck(ok)
}

// EncodeLocationAck echoes the low byte of the frame serial
func (c *GT06Codec) EncodeLocationAck(seq uint16) []byte {
	return c.frame(3, []byte{0x05, 0x01, byte(seq & 0xFF)})
}

// EncodeHeartbeatAck builds the heartbeat acknowledgement frame
func (c *GT06Codec) EncodeHeartbeatAck() []byte {
	return c.frame(2, []byte{0x13, 0x01})
}

// EncodeCommand builds a server command frame. Command frames carry
// length = data length + 1.
func (c *GT06Codec) EncodeCommand(kind string, params map[string]interface{}) ([]byte, error) {
	var data []byte
	switch kind {
	case "locate":
		data = []byte{gt06ServerCommand, 0x01, 0x01, 0x01}
	case "reboot":
		data = []byte{gt06ServerCommand, 0x02, 0x01, 0x01}
	case "engine_stop":
		data = []byte{gt06ServerCommand, 0x05, 0x01, 0x01}
	case "engine_resume":
		data = []byte{gt06ServerCommand, 0x05, 0x01, 0x00}
	case "raw":
		raw, err := rawParamBytes(params)
		if err != nil {
			return nil, err
		}
		data = raw
	default:
		return nil, ErrUnsupported
	}
	return c.frame(byte(len(data)+1), data), nil
}

// rawParamBytes pulls the raw command content out of a command's
// parameters: "hex" wins over "data".
func rawParamBytes(params map[string]interface{}) ([]byte, error) {
	if params != nil {
		if h, ok := params["hex"].(string); ok && h != "" {
			b, err := hex.DecodeString(h)
			if err != nil {
				return nil, fmt.Errorf("raw command hex invalid: %w", err)
			}
			return b, nil
		}
		if s, ok := params["data"].(string); ok && s != "" {
			return []byte(s), nil
		}
	}
	return nil, ErrUnsupported
}

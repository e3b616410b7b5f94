package protocol

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// GPS303Codec decodes the GPS303 ASCII dialect. Frames are not
// length-prefixed; each buffer is one frame. Two shapes exist: the
// "##" handshake (answered with LOAD, carries no identity) and the
// "imei:" report line.
type GPS303Codec struct{}

// NewGPS303Codec creates a GPS303 codec
func NewGPS303Codec() *GPS303Codec {
	return &GPS303Codec{}
}

func (c *GPS303Codec) Name() string { return "gps303" }

// Decode parses the buffer as one GPS303 frame, consuming it whole
func (c *GPS303Codec) Decode(buf []byte) (*Event, int, error) {
	s := strings.TrimSpace(string(buf))

	switch {
	case strings.HasPrefix(s, "##"):
		// Handshake: no IMEI yet; the device sends its report line
		// only after receiving LOAD.
		ev := &Event{
			Type:          EventLogin,
			Protocol:      c.Name(),
			NeedsResponse: true,
			Response:      []byte("LOAD"),
			Raw:           append([]byte(nil), buf...),
		}
		return ev, len(buf), nil

	case strings.HasPrefix(s, "imei:"):
		return c.decodeReport(s, buf)

	default:
		return nil, 0, ErrReject
	}
}

// decodeReport parses the comma-separated "imei:" line. Lines with the
// full field set are position reports; shorter lines are heartbeats
// that still identify the device.
func (c *GPS303Codec) decodeReport(s string, buf []byte) (*Event, int, error) {
	fields := strings.Split(s, ",")
	imei := strings.TrimSuffix(strings.TrimPrefix(fields[0], "imei:"), ";")

	ev := &Event{
		Protocol:      c.Name(),
		IMEI:          imei,
		NeedsResponse: true,
		Raw:           append([]byte(nil), buf...),
	}

	if len(fields) < 12 {
		ev.Type = EventHeartbeat
		return ev, len(buf), nil
	}

	ev.Type = EventLocation
	ev.Timestamp = parseGPS303Time(fields[2])
	ev.Valid = strings.TrimSpace(fields[6]) == "A"

	lat, latOK := parseDegreesMinutes(fields[7])
	if latOK && hemisphereNegative(fields[8]) {
		lat = -lat
	}
	lon, lonOK := parseDegreesMinutes(fields[9])
	if lonOK && hemisphereNegative(fields[10]) {
		lon = -lon
	}
	if latOK {
		ev.Latitude = &lat
	}
	if lonOK {
		ev.Longitude = &lon
	}

	if speed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(fields[11]), ";"), 64); err == nil {
		ev.Speed = &speed
	}

	return ev, len(buf), nil
}

// parseGPS303Time decodes the 12-digit YYMMDDhhmmss field. A zero time
// is returned on malformed input so the receipt time applies.
func parseGPS303Time(field string) time.Time {
	f := strings.TrimSpace(field)
	if len(f) != 12 {
		return time.Time{}
	}
	t, err := time.Parse("060102150405", f)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseDegreesMinutes decodes a DDMM.MMMM (or DDDMM.MMMM) coordinate
// into decimal degrees.
func parseDegreesMinutes(field string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(v / 100)
	min := v - deg*100
	return deg + min/60, true
}

func hemisphereNegative(field string) bool {
	h := strings.TrimSpace(field)
	return h == "S" || h == "W"
}

// EncodeAuthAck answers the handshake
func (c *GPS303Codec) EncodeAuthAck(ok bool) []byte {
	if !ok {
		return nil
	}
	return []byte("LOAD")
}

// EncodeLoginAck is the same literal as the auth ack
func (c *GPS303Codec) EncodeLoginAck(ok bool) []byte {
	return c.EncodeAuthAck(ok)
}

// EncodeLocationAck acknowledges a report line
func (c *GPS303Codec) EncodeLocationAck(seq uint16) []byte {
	return []byte("ON")
}

// EncodeHeartbeatAck acknowledges a heartbeat line
func (c *GPS303Codec) EncodeHeartbeatAck() []byte {
	return []byte("ON")
}

// EncodeCommand supports only raw passthrough for this ASCII dialect
func (c *GPS303Codec) EncodeCommand(kind string, params map[string]interface{}) ([]byte, error) {
	if kind != "raw" {
		return nil, ErrUnsupported
	}
	return rawParamBytes(params)
}

package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestGPS303Handshake(t *testing.T) {
	codec := NewGPS303Codec()
	buf := []byte("##,imei:359710045490084,A;")

	ev, n, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("Expected %d bytes consumed, got %d", len(buf), n)
	}
	if ev.Type != EventLogin {
		t.Errorf("Expected login event, got %s", ev.Type)
	}
	if ev.IMEI != "" {
		t.Errorf("Handshake must not carry an IMEI, got %q", ev.IMEI)
	}
	if !bytes.Equal(ev.Response, []byte("LOAD")) {
		t.Errorf("Expected LOAD response, got %q", ev.Response)
	}
}

func TestGPS303Position(t *testing.T) {
	codec := NewGPS303Codec()
	buf := []byte("imei:359710045490084,tracker,250101120000,,F,120000.000,A,2230.0000,S,04310.0000,W,42.5,;")

	ev, n, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("Expected %d bytes consumed, got %d", len(buf), n)
	}
	if ev.Type != EventLocation {
		t.Fatalf("Expected location event, got %s", ev.Type)
	}
	if ev.IMEI != "359710045490084" {
		t.Errorf("Expected IMEI 359710045490084, got %s", ev.IMEI)
	}
	if !ev.Valid {
		t.Error("A-flag fix should be valid")
	}

	if ev.Latitude == nil || ev.Longitude == nil {
		t.Fatal("Position missing coordinates")
	}
	if diff := *ev.Latitude - (-22.5); diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Expected latitude -22.5, got %.6f", *ev.Latitude)
	}
	wantLon := -(43.0 + 10.0/60.0)
	if diff := *ev.Longitude - wantLon; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Expected longitude %.6f, got %.6f", wantLon, *ev.Longitude)
	}

	if ev.Speed == nil || *ev.Speed != 42.5 {
		t.Errorf("Expected speed 42.5, got %v", ev.Speed)
	}

	want := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, ev.Timestamp)
	}
}

func TestGPS303PositionBadClockFallsBack(t *testing.T) {
	codec := NewGPS303Codec()
	buf := []byte("imei:359710045490084,tracker,garbage,,F,120000.000,A,0000.0000,N,00000.0000,E,0,;")

	ev, _, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ev.Timestamp.IsZero() {
		t.Errorf("Malformed clock should leave a zero timestamp, got %v", ev.Timestamp)
	}
	if *ev.Latitude != 0 || *ev.Longitude != 0 {
		t.Errorf("Expected (0, 0), got (%.6f, %.6f)", *ev.Latitude, *ev.Longitude)
	}
}

func TestGPS303Heartbeat(t *testing.T) {
	codec := NewGPS303Codec()
	buf := []byte("imei:359710045490084,tracker;")

	ev, _, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Type != EventHeartbeat {
		t.Errorf("Expected heartbeat event, got %s", ev.Type)
	}
	if ev.IMEI != "359710045490084" {
		t.Errorf("Expected IMEI on heartbeat, got %q", ev.IMEI)
	}
}

func TestGPS303Reject(t *testing.T) {
	codec := NewGPS303Codec()
	if _, _, err := codec.Decode([]byte{0x78, 0x78, 0x0D, 0x01}); err != ErrReject {
		t.Errorf("Binary buffer: expected ErrReject, got %v", err)
	}
}

func TestGPS303Acks(t *testing.T) {
	codec := NewGPS303Codec()
	if got := codec.EncodeLoginAck(true); !bytes.Equal(got, []byte("LOAD")) {
		t.Errorf("Expected LOAD, got %q", got)
	}
	if got := codec.EncodeLocationAck(7); !bytes.Equal(got, []byte("ON")) {
		t.Errorf("Expected ON, got %q", got)
	}
	if got := codec.EncodeHeartbeatAck(); !bytes.Equal(got, []byte("ON")) {
		t.Errorf("Expected ON, got %q", got)
	}
	if got := codec.EncodeLoginAck(false); got != nil {
		t.Errorf("Failed login must have no ack, got %q", got)
	}
}

func TestGPS303CommandUnsupported(t *testing.T) {
	codec := NewGPS303Codec()
	if _, err := codec.EncodeCommand("engine_stop", nil); err != ErrUnsupported {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	frame, err := codec.EncodeCommand("raw", map[string]interface{}{"data": "DWXX#"})
	if err != nil {
		t.Fatalf("Raw passthrough failed: %v", err)
	}
	if !bytes.Equal(frame, []byte("DWXX#")) {
		t.Errorf("Expected raw passthrough, got %q", frame)
	}
}

package tcp

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// pipeSession builds a session over an in-memory pipe. The returned
// reader channel carries everything the session writes back.
func pipeSession(t *testing.T) (*Session, chan []byte, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	replies := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 1024)
		for {
			_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := client.Read(buf)
			if err != nil {
				return
			}
			replies <- append([]byte(nil), buf[:n]...)
		}
	}()

	sess := NewSession(server, nil, nil, nil, nil)
	return sess, replies, client
}

func TestSessionHandshakeRepliesLoad(t *testing.T) {
	sess, replies, _ := pipeSession(t)

	sess.buffer = []byte("##,imei:359710045490084,A;")
	sess.drain()

	select {
	case reply := <-replies:
		if !bytes.Equal(reply, []byte("LOAD")) {
			t.Errorf("Expected LOAD, got %q", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("No handshake reply written")
	}

	if sess.isAuthenticated() {
		t.Error("Handshake alone must not authenticate the session")
	}
	if sess.Codec().Name() != "gps303" {
		t.Errorf("Expected gps303 fingerprint, got %s", sess.Codec().Name())
	}
}

func TestSessionDropsPreAuthEventsWithoutIMEI(t *testing.T) {
	sess, replies, _ := pipeSession(t)

	// An unfingerprintable buffer lands in the generic codec; with no
	// IMEI and no auth, the event is dropped with no reply.
	sess.buffer = []byte{0x01, 0x02, 0x03}
	sess.drain()

	select {
	case reply := <-replies:
		t.Errorf("Expected silence, got %q", reply)
	case <-time.After(100 * time.Millisecond):
	}

	if len(sess.buffer) != 0 {
		t.Errorf("Generic decode must consume the buffer, %d bytes left", len(sess.buffer))
	}
}

func TestSessionKeepsPartialFrame(t *testing.T) {
	sess, _, _ := pipeSession(t)

	// GT06 command response (0x15): pre-auth it is dropped, but the
	// split frame must survive the first drain intact.
	payload := []byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x00, 0x01, 0x00, 0x05}
	frame := buildTestGT06Frame(0x15, payload)

	sess.buffer = append([]byte(nil), frame[:7]...)
	sess.drain()
	if len(sess.buffer) != 7 {
		t.Fatalf("Partial frame must be kept, have %d bytes", len(sess.buffer))
	}

	sess.buffer = append(sess.buffer, frame[7:]...)
	sess.drain()
	if len(sess.buffer) != 0 {
		t.Errorf("Completed frame must be consumed, %d bytes left", len(sess.buffer))
	}
	if sess.Codec().Name() != "gt06" {
		t.Errorf("Expected gt06 fingerprint, got %s", sess.Codec().Name())
	}
}

func TestSessionTailCap(t *testing.T) {
	sess, _, _ := pipeSession(t)

	sess.buffer = make([]byte, maxTailBytes-1)
	sess.enforceTailCap()
	if len(sess.buffer) != maxTailBytes-1 {
		t.Error("Tail below the cap must be kept")
	}

	sess.buffer = make([]byte, maxTailBytes)
	sess.enforceTailCap()
	if sess.buffer != nil {
		t.Error("Tail at the cap must be cleared")
	}
}

func TestSessionWriteAfterClose(t *testing.T) {
	sess, _, _ := pipeSession(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Second close must be a no-op, got %v", err)
	}
	if err := sess.Write([]byte("x")); err == nil {
		t.Error("Write on a closed socket must fail")
	}
}

// buildTestGT06Frame mirrors the terminal framing used by the codec
// tests: start, length (type+payload+crc), type, payload, additive
// checksum, stop.
func buildTestGT06Frame(msgType byte, payload []byte) []byte {
	length := byte(1 + len(payload) + 2)
	body := append([]byte{msgType}, payload...)

	frame := []byte{0x78, 0x78, length}
	frame = append(frame, body...)

	var sum uint16
	for _, b := range append([]byte{length}, body...) {
		sum += uint16(b)
	}
	frame = append(frame, byte(sum>>8), byte(sum&0xFF))
	frame = append(frame, 0x0D, 0x0A)
	return frame
}

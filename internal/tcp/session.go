package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/models"
	"tracker_gateway/internal/protocol"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"
)

const (
	// authTimeout is how long a fresh connection may stay
	// unauthenticated before the socket is closed.
	authTimeout = 30 * time.Second

	// maxTailBytes caps the unparseable tail kept between reads. On
	// overflow the buffer is cleared so framing garbage cannot grow
	// without bound.
	maxTailBytes = 1024

	writeTimeout   = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Broadcaster receives realtime updates for connected UI clients. The
// session only knows this narrow interface, not the websocket hub.
type Broadcaster interface {
	BroadcastDeviceStatus(imei, status string)
	BroadcastLocation(imei string, loc *models.Location)
}

// Session owns one device socket: its inbound buffer, protocol
// fingerprint, and authentication state. A single goroutine reads,
// decodes, and dispatches; only the write path is shared (with the
// command dispatcher) and is mutex-serialized.
type Session struct {
	conn      net.Conn
	registry  *registry.Registry
	store     *store.Store
	publisher *broker.Publisher
	hub       Broadcaster

	buffer []byte
	codec  protocol.Codec

	mu            sync.Mutex
	imei          string
	deviceID      uint
	authenticated bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession wraps an accepted connection
func NewSession(conn net.Conn, reg *registry.Registry, st *store.Store, pub *broker.Publisher, hub Broadcaster) *Session {
	return &Session{
		conn:      conn,
		registry:  reg,
		store:     st,
		publisher: pub,
		hub:       hub,
	}
}

// IMEI returns the authenticated identity, empty before login
func (s *Session) IMEI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imei
}

// RemoteAddr returns the peer address for logging
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Codec returns the session's fixed protocol fingerprint. Before
// detection completes the generic codec stands in.
func (s *Session) Codec() protocol.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codec == nil {
		return protocol.NewGenericCodec()
	}
	return s.codec
}

// Write sends bytes on the socket, serialized against concurrent
// writers (the dispatcher and the session's own acks).
func (s *Session) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(b)
	return err
}

// Close shuts the socket down; safe to call more than once
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Run drives the session until the socket closes. It owns the read
// loop, the inbound buffer, and the auth deadline.
func (s *Session) Run() {
	colors.PrintConnection("Device connected from %s", s.RemoteAddr())

	authTimer := time.AfterFunc(authTimeout, func() {
		if !s.isAuthenticated() {
			colors.PrintInfo("Authentication deadline expired for %s, closing", s.RemoteAddr())
			_ = s.Close()
		}
	})
	defer authTimer.Stop()

	defer func() {
		_ = s.Close()
		s.mu.Lock()
		imei := s.imei
		authenticated := s.authenticated
		s.mu.Unlock()
		if authenticated {
			s.registry.Remove(imei, s)
			if s.hub != nil {
				s.hub.BroadcastDeviceStatus(imei, "disconnected")
			}
			colors.PrintConnection("Device %s disconnected", imei)
		} else {
			colors.PrintConnection("Connection from %s closed before authentication", s.RemoteAddr())
		}
	}()

	readBuf := make([]byte, 2048)
	for {
		n, err := s.conn.Read(readBuf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && err.Error() != "EOF" {
				colors.PrintDebug("Read error from %s: %v", s.RemoteAddr(), err)
			}
			return
		}
		if n == 0 {
			continue
		}

		colors.PrintData("Raw data from %s: %X", s.RemoteAddr(), readBuf[:n])
		s.buffer = append(s.buffer, readBuf[:n]...)
		s.drain()
	}
}

// drain decodes frames off the buffer until the codec wants more
// bytes. Each successful decode advances the buffer by exactly the
// consumed count.
func (s *Session) drain() {
	for len(s.buffer) > 0 {
		var (
			ev  *protocol.Event
			n   int
			err error
		)

		if s.codec == nil {
			var codec protocol.Codec
			codec, ev, n, err = protocol.Detect(s.buffer)
			if err == nil {
				// First successful decode fixes the fingerprint.
				s.mu.Lock()
				s.codec = codec
				s.mu.Unlock()
				colors.PrintDebug("Session %s fingerprinted as %s", s.RemoteAddr(), codec.Name())
			}
		} else {
			ev, n, err = s.codec.Decode(s.buffer)
		}

		if errors.Is(err, protocol.ErrNeedMoreData) {
			s.enforceTailCap()
			return
		}
		if err != nil {
			// Post-accept corruption or a mid-stream dialect change:
			// drop the buffer, keep the session.
			colors.PrintWarning("Unrecoverable frame from %s: %v", s.RemoteAddr(), err)
			s.buffer = nil
			return
		}

		s.buffer = s.buffer[n:]
		s.handleEvent(ev)
	}
}

func (s *Session) enforceTailCap() {
	if len(s.buffer) >= maxTailBytes {
		colors.PrintWarning("Clearing %d unparseable buffered bytes from %s", len(s.buffer), s.RemoteAddr())
		s.buffer = nil
	}
}

// handleEvent applies the dispatch rules: authenticate first when the
// frame carries an identity, then route by event kind.
func (s *Session) handleEvent(ev *protocol.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if !s.isAuthenticated() {
		if ev.Type == protocol.EventLogin && ev.IMEI == "" && len(ev.Response) > 0 {
			// gps303 two-step handshake: answer LOAD, stay
			// unauthenticated until a frame carries the IMEI.
			if err := s.Write(ev.Response); err != nil {
				colors.PrintDebug("Handshake reply to %s failed: %v", s.RemoteAddr(), err)
			}
			return
		}
		if ev.IMEI == "" {
			colors.PrintDebug("Dropping pre-auth %s event from %s", ev.Type, s.RemoteAddr())
			return
		}
		if !s.authenticate(ev.IMEI) {
			return
		}
	}

	s.registry.TouchSeen(s.IMEI())

	switch ev.Type {
	case protocol.EventLogin:
		s.handleLogin(ev)
	case protocol.EventLocation:
		s.handleLocation(ev)
	case protocol.EventHeartbeat:
		s.handleHeartbeat(ev)
	case protocol.EventAlarm:
		s.handleAlarm(ev)
	case protocol.EventCommandResponse:
		s.handleCommandResponse(ev)
	case protocol.EventUnknown:
		s.handleUnknown(ev)
	}
}

// authenticate installs the session in the registry. Failure closes
// the socket with no response.
func (s *Session) authenticate(imei string) bool {
	if err := s.registry.Authenticate(s, imei); err != nil {
		colors.PrintWarning("Rejected device %s from %s: %v", imei, s.RemoteAddr(), err)
		_ = s.Close()
		return false
	}

	var deviceID uint
	if device, err := s.store.GetDeviceByIMEI(imei); err == nil {
		deviceID = device.ID
	}

	s.mu.Lock()
	s.imei = imei
	s.deviceID = deviceID
	s.authenticated = true
	s.mu.Unlock()

	colors.PrintSuccess("Device %s authenticated from %s", imei, s.RemoteAddr())
	if s.hub != nil {
		s.hub.BroadcastDeviceStatus(imei, "connected")
	}
	return true
}

func (s *Session) handleLogin(ev *protocol.Event) {
	s.registry.TouchLogin(s.IMEI())
	s.respond(s.Codec().EncodeLoginAck(true))
	s.publishEvent(ev)
}

func (s *Session) handleLocation(ev *protocol.Event) {
	if ev.Latitude != nil && ev.Longitude != nil {
		loc := &models.Location{
			DeviceID:       s.deviceIDValue(),
			Latitude:       *ev.Latitude,
			Longitude:      *ev.Longitude,
			Speed:          ev.Speed,
			Course:         ev.Course,
			RecordedAt:     ev.Timestamp,
			Satellites:     ev.Satellites,
			BatteryLevel:   ev.BatteryLevel,
			SignalStrength: ev.SignalStrength,
			Raw:            fmt.Sprintf("%X", ev.Raw),
		}
		if err := s.store.SaveLocation(loc); err != nil {
			colors.PrintError("Failed to save location for %s: %v", s.IMEI(), err)
		} else {
			colors.PrintData("Location for %s: %.6f, %.6f", s.IMEI(), loc.Latitude, loc.Longitude)
			if s.hub != nil {
				s.hub.BroadcastLocation(s.IMEI(), loc)
			}
		}
		s.publishLocation(ev)
	}
	s.publishEvent(ev)
	s.respond(s.Codec().EncodeLocationAck(ev.Serial))
}

func (s *Session) handleHeartbeat(ev *protocol.Event) {
	s.registry.TouchHeartbeat(s.IMEI())
	s.respond(s.Codec().EncodeHeartbeatAck())
	s.publishEvent(ev)
}

func (s *Session) handleAlarm(ev *protocol.Event) {
	alert := &models.Alert{
		DeviceID:    s.deviceIDValue(),
		Kind:        models.AlertKind(ev.AlarmKind),
		Message:     fmt.Sprintf("Device alarm code %d", ev.AlarmCode),
		Latitude:    ev.Latitude,
		Longitude:   ev.Longitude,
		TriggeredAt: ev.Timestamp,
		Raw:         fmt.Sprintf("%X", ev.Raw),
	}
	if alert.Kind == "" {
		alert.Kind = models.AlertOther
	}
	if err := s.store.SaveAlert(alert); err != nil {
		colors.PrintError("Failed to save alert for %s: %v", s.IMEI(), err)
	}

	colors.PrintWarning("Alarm from %s: %s (code %d)", s.IMEI(), alert.Kind, ev.AlarmCode)

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishAlert(ctx, s.IMEI(), s.deviceIDValue(), ev); err != nil {
			colors.PrintDebug("Alert publish for %s failed: %v", s.IMEI(), err)
		}
	}
	s.publishEvent(ev)
}

// handleCommandResponse promotes the newest sent command for this
// device to acknowledged. Terminal responses carry no command id, so
// correlation is by device and recency.
func (s *Session) handleCommandResponse(ev *protocol.Event) {
	cmd, err := s.store.LatestSentCommand(s.deviceIDValue())
	if err != nil {
		colors.PrintError("Command response lookup failed for %s: %v", s.IMEI(), err)
		return
	}
	if cmd == nil {
		colors.PrintDebug("Unmatched command response from %s: %q", s.IMEI(), ev.ResponseText)
		return
	}

	now := time.Now()
	if err := s.store.UpdateCommandStatus(cmd.ID, models.CommandAcknowledged, map[string]interface{}{
		"ack_at":   now,
		"response": ev.ResponseText,
	}); err != nil {
		colors.PrintError("Failed to acknowledge command %s: %v", cmd.ID, err)
		return
	}
	colors.PrintCommand("Command %s acknowledged by %s", cmd.ID, s.IMEI())
	s.publishEvent(ev)
}

func (s *Session) handleUnknown(ev *protocol.Event) {
	colors.PrintData("Unknown frame from %s: %s", s.RemoteAddr(), ev.Hex)
	s.publishEvent(ev)
}

func (s *Session) deviceIDValue() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) respond(b []byte) {
	if len(b) == 0 {
		return
	}
	if err := s.Write(b); err != nil {
		colors.PrintDebug("Ack write to %s failed: %v", s.RemoteAddr(), err)
	}
}

func (s *Session) publishEvent(ev *protocol.Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishTrackerMessage(ctx, string(ev.Type), s.IMEI(), s.deviceIDValue(), ev); err != nil {
		colors.PrintDebug("Publish of %s event for %s failed: %v", ev.Type, s.IMEI(), err)
	}
}

func (s *Session) publishLocation(ev *protocol.Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishLocationUpdate(ctx, s.IMEI(), s.deviceIDValue(), ev); err != nil {
		colors.PrintDebug("Location publish for %s failed: %v", s.IMEI(), err)
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"tracker_gateway/config"
	"tracker_gateway/internal/broker"
	"tracker_gateway/pkg/colors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is the direct-TCP bridge payload shape. Only deliveries
// carrying a targetHost belong to the bridge; everything else is the
// main dispatcher's and is requeued untouched.
type Message struct {
	TargetHost string `json:"targetHost"`
	TargetPort int    `json:"targetPort"`
	RawCommand string `json:"rawCommand"`
}

// Bridge consumes the command queue and relays raw commands over
// one-shot TCP connections to arbitrary targets.
type Bridge struct {
	client *broker.Client
	cfg    *config.BridgeConfig
	tag    string
}

// New creates a bridge consumer
func New(client *broker.Client, cfg *config.BridgeConfig) *Bridge {
	return &Bridge{
		client: client,
		cfg:    cfg,
		tag:    "tracker-gateway-bridge",
	}
}

// Run consumes until the context is cancelled, restarting the consume
// loop with 1s -> 30s exponential backoff after broker hiccups.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		deliveries, err := b.client.Consume(b.cfg.QueueName, b.tag)
		if err != nil {
			colors.PrintError("Bridge consume failed: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
		colors.PrintServer("Direct-TCP bridge consuming %s", b.cfg.QueueName)

		if err := b.consume(ctx, deliveries); err != nil {
			return err
		}
	}
}

func (b *Bridge) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				colors.PrintWarning("Bridge delivery channel closed, waiting for reconnect")
				return nil
			}
			b.handleDelivery(msg)
		}
	}
}

func (b *Bridge) handleDelivery(msg amqp.Delivery) {
	var m Message
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		colors.PrintWarning("Bridge dropping malformed payload: %v", err)
		_ = msg.Ack(false)
		return
	}

	if m.TargetHost == "" {
		// Main dispatcher traffic; hand it back.
		_ = msg.Nack(false, true)
		return
	}

	if err := b.relay(&m); err != nil {
		colors.PrintError("Bridge relay to %s:%d failed: %v", m.TargetHost, m.TargetPort, err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// relay resolves the target first so resolver failures surface before
// any connect attempt, then writes the raw command on a one-shot
// connection.
func (b *Bridge) relay(m *Message) error {
	addrs, err := net.LookupHost(m.TargetHost)
	if err != nil {
		return fmt.Errorf("dns lookup failed: %w", err)
	}

	timeout := b.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	addr := net.JoinHostPort(addrs[0], strconv.Itoa(m.TargetPort))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(m.RawCommand)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	colors.PrintCommand("Bridge relayed %d bytes to %s", len(m.RawCommand), addr)
	return nil
}

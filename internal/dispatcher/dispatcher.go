package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/models"
	"tracker_gateway/internal/protocol"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Terminal command error strings, observable in the commands table
const (
	ErrTextNotConnected  = "Device not connected"
	ErrTextInvalidFormat = "Invalid command format"
)

// CommandMessage is the inbound device_commands payload. Producers
// disagree on field names, so id/commandId/command_id and
// command/command_type/kind are all accepted.
type CommandMessage struct {
	ID          string                 `json:"id"`
	CommandID   string                 `json:"commandId"`
	CommandIDSn string                 `json:"command_id"`
	DeviceID    uint                   `json:"device_id"`
	IMEI        string                 `json:"imei"`
	Command     string                 `json:"command"`
	CommandType string                 `json:"command_type"`
	Kind        string                 `json:"kind"`
	Parameters  map[string]interface{} `json:"parameters"`

	// TargetHost marks payloads that belong to the direct-TCP bridge,
	// not to this dispatcher.
	TargetHost string `json:"targetHost"`
}

// CommandIDValue resolves the id across its synonyms
func (m *CommandMessage) CommandIDValue() string {
	switch {
	case m.CommandID != "":
		return m.CommandID
	case m.CommandIDSn != "":
		return m.CommandIDSn
	default:
		return m.ID
	}
}

// KindValue resolves the command kind across its synonyms
func (m *CommandMessage) KindValue() string {
	switch {
	case m.Command != "":
		return m.Command
	case m.CommandType != "":
		return m.CommandType
	default:
		return m.Kind
	}
}

// Dispatcher consumes the device_commands queue and routes each
// command to the live session for its IMEI. Deliveries are handled
// sequentially so writes to any one socket stay in queue order.
type Dispatcher struct {
	client   *broker.Client
	registry *registry.Registry
	store    *store.Store
	tag      string
}

// New creates a dispatcher
func New(client *broker.Client, reg *registry.Registry, st *store.Store) *Dispatcher {
	return &Dispatcher{
		client:   client,
		registry: reg,
		store:    st,
		tag:      "tracker-gateway-dispatcher",
	}
}

// Run consumes until the context is cancelled. A closed delivery
// channel (broker reconnect) is retried with backoff.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		deliveries, err := d.client.Consume(broker.QueueDeviceCommands, d.tag)
		if err != nil {
			colors.PrintError("Command consume failed: %v, retrying in %s", err, backoff)
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
		colors.PrintServer("Command dispatcher consuming %s", broker.QueueDeviceCommands)

		if err := d.consume(ctx, deliveries); err != nil {
			return err
		}
		// Delivery channel closed underneath us; redial via Consume.
	}
}

func (d *Dispatcher) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				colors.PrintWarning("Command delivery channel closed, waiting for reconnect")
				return nil
			}
			d.handleDelivery(ctx, msg)
		}
	}
}

// handleDelivery runs one command through the outcome table. The store
// row is written before the broker ack so a crash between the two can
// only cause a redelivery, never a lost outcome.
func (d *Dispatcher) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var cmd CommandMessage
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		colors.PrintWarning("Dropping malformed command payload: %v", err)
		_ = msg.Ack(false)
		return
	}

	if cmd.TargetHost != "" {
		// Belongs to the direct-TCP bridge consumer.
		_ = msg.Nack(false, true)
		return
	}

	commandID := cmd.CommandIDValue()
	kind := cmd.KindValue()
	colors.PrintCommand("Command %s (%s) for %s", commandID, kind, cmd.IMEI)

	sess, ok := d.registry.Lookup(cmd.IMEI)
	if !ok {
		d.failCommand(commandID, ErrTextNotConnected)
		_ = msg.Ack(false)
		return
	}

	payload, err := sess.Codec().EncodeCommand(kind, cmd.Parameters)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnsupported) {
			colors.PrintWarning("Command %s encode error on %s: %v", commandID, sess.Codec().Name(), err)
		}
		d.failCommand(commandID, ErrTextInvalidFormat)
		_ = msg.Ack(false)
		return
	}

	if err := sess.Write(payload); err != nil {
		colors.PrintError("Command %s write to %s failed: %v", commandID, cmd.IMEI, err)
		d.failCommand(commandID, err.Error())
		// Socket write errors are transient from the queue's point of
		// view: the device may reconnect, so let another delivery try.
		_ = msg.Nack(false, true)
		return
	}

	now := time.Now()
	if err := d.store.UpdateCommandStatus(commandID, models.CommandSent, map[string]interface{}{
		"sent_at": now,
	}); err != nil {
		colors.PrintError("Failed to record sent status for command %s: %v", commandID, err)
	}
	_ = msg.Ack(false)
}

func (d *Dispatcher) failCommand(commandID, errText string) {
	if commandID == "" {
		return
	}
	now := time.Now()
	if err := d.store.UpdateCommandStatus(commandID, models.CommandFailed, map[string]interface{}{
		"failed_at": now,
		"error":     errText,
	}); err != nil {
		colors.PrintError("Failed to record failure for command %s: %v", commandID, err)
	}
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tracker_gateway/pkg/colors"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher builds the outbound gateway envelopes and publishes them
// with durable, persistent semantics.
type Publisher struct {
	client *Client
	source string
}

// NewPublisher creates a publisher over an open client
func NewPublisher(client *Client) *Publisher {
	return &Publisher{
		client: client,
		source: "tracker-gateway",
	}
}

// Envelope is the shared outbound message shape
type Envelope struct {
	Type       string      `json:"type"`
	IMEI       string      `json:"imei"`
	DeviceID   uint        `json:"device_id"`
	Data       interface{} `json:"data"`
	ReceivedAt time.Time   `json:"received_at"`
	Source     string      `json:"source"`
	Timestamp  time.Time   `json:"timestamp"`
}

// PublishTrackerMessage publishes any decoded device event
func (p *Publisher) PublishTrackerMessage(ctx context.Context, eventType, imei string, deviceID uint, data interface{}) error {
	return p.publish(ctx, QueueTrackerMessages, eventType, imei, deviceID, data)
}

// PublishAlert publishes an alarm event
func (p *Publisher) PublishAlert(ctx context.Context, imei string, deviceID uint, data interface{}) error {
	return p.publish(ctx, QueueDeviceAlerts, "alarm", imei, deviceID, data)
}

// PublishLocationUpdate publishes a position report
func (p *Publisher) PublishLocationUpdate(ctx context.Context, imei string, deviceID uint, data interface{}) error {
	return p.publish(ctx, QueueLocationUpdates, "location", imei, deviceID, data)
}

// PublishCommand enqueues a command for the dispatcher
func (p *Publisher) PublishCommand(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	return p.client.Publish(ctx, QueueDeviceCommands, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.New().String(),
	})
}

func (p *Publisher) publish(ctx context.Context, queue, eventType, imei string, deviceID uint, data interface{}) error {
	now := time.Now()
	envelope := Envelope{
		Type:       eventType,
		IMEI:       imei,
		DeviceID:   deviceID,
		Data:       data,
		ReceivedAt: now,
		Source:     p.source,
		Timestamp:  now,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = p.client.Publish(ctx, queue, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		MessageId:    uuid.New().String(),
	})
	if err != nil {
		colors.PrintError("Failed to publish %s for %s to %s: %v", eventType, imei, queue, err)
		return err
	}
	return nil
}

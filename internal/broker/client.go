package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tracker_gateway/config"
	"tracker_gateway/pkg/colors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names declared by the gateway
const (
	QueueDeviceCommands  = "device_commands"
	QueueTrackerMessages = "tracker_messages"
	QueueDeviceAlerts    = "device_alerts"
	QueueLocationUpdates = "location_updates"
)

// queueMaxLength bounds every declared queue
const queueMaxLength = 10000

func declaredQueues() []string {
	return []string{
		QueueDeviceCommands,
		QueueTrackerMessages,
		QueueDeviceAlerts,
		QueueLocationUpdates,
	}
}

// Client wraps the AMQP connection with separate publish and consume
// channels and a reconnect loop driven by NotifyClose.
type Client struct {
	config *config.RabbitMQConfig

	conn           *amqp.Connection
	pubChannel     *amqp.Channel
	consumeChannel *amqp.Channel

	mu     sync.RWMutex
	closed bool
}

// NewClient dials the broker, declares the queue topology, and starts
// the reconnect watcher.
func NewClient(cfg *config.RabbitMQConfig) (*Client, error) {
	client := &Client{config: cfg}
	if err := client.connect(); err != nil {
		return nil, err
	}
	go client.handleReconnect()
	return client, nil
}

func (c *Client) connect() error {
	colors.PrintInfo("Connecting to RabbitMQ...")

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open publish channel: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		_ = pubCh.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to open consume channel: %w", err)
	}

	pubCh, err = c.setupTopology(conn, pubCh)
	if err != nil {
		_ = consumeCh.Close()
		_ = conn.Close()
		return err
	}

	if err := consumeCh.Qos(c.config.PrefetchCount, 0, false); err != nil {
		_ = pubCh.Close()
		_ = consumeCh.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pubChannel = pubCh
	c.consumeChannel = consumeCh
	c.mu.Unlock()

	colors.PrintSuccess("RabbitMQ connected")
	return nil
}

// queueArgs builds the shared declaration arguments
func (c *Client) queueArgs() amqp.Table {
	args := amqp.Table{"x-max-length": int32(queueMaxLength)}
	if c.config.QueueTTL > 0 {
		args["x-message-ttl"] = int32(c.config.QueueTTL / time.Millisecond)
	}
	return args
}

// setupTopology declares every gateway queue. A PRECONDITION_FAILED on
// declare means the queue already exists with different arguments;
// that is treated as a soft success — the channel is reopened and the
// existing queue is used as-is rather than failing startup. Returns
// the (possibly reopened) channel.
func (c *Client) setupTopology(conn *amqp.Connection, ch *amqp.Channel) (*amqp.Channel, error) {
	for _, queue := range declaredQueues() {
		_, err := ch.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			c.queueArgs(),
		)
		if err == nil {
			continue
		}

		amqpErr, ok := err.(*amqp.Error)
		if !ok || amqpErr.Code != amqp.PreconditionFailed {
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}

		// Existing queue with incompatible arguments; the failed
		// declare killed the channel, so reopen and move on.
		colors.PrintWarning("Queue %s exists with different arguments, using it as-is", queue)
		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to reopen channel after declare conflict: %w", err)
		}
	}
	return ch, nil
}

// handleReconnect watches for connection loss and redials with capped
// exponential backoff.
func (c *Client) handleReconnect() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(3 * time.Second)
			continue
		}

		notifyClose := make(chan *amqp.Error, 1)
		conn.NotifyClose(notifyClose)

		err := <-notifyClose
		if err == nil {
			// Clean shutdown
			return
		}

		colors.PrintWarning("RabbitMQ connection lost: %v, reconnecting...", err)

		backoff := time.Second
		for {
			if c.isClosed() {
				return
			}
			time.Sleep(backoff)
			if err := c.connect(); err == nil {
				colors.PrintSuccess("RabbitMQ reconnected")
				break
			} else {
				colors.PrintError("Reconnect failed: %v", err)
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
}

// Publish sends a message on the publish channel
func (c *Client) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	c.mu.RLock()
	ch := c.pubChannel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("publish channel not available (connection may be down)")
	}

	return ch.PublishWithContext(ctx,
		"",    // default exchange routes by queue name
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
}

// Consume opens a manual-ack delivery stream on a queue
func (c *Client) Consume(queue, consumer string) (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.consumeChannel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil, fmt.Errorf("consume channel not available")
	}

	return ch.Consume(
		queue,
		consumer,
		false, // auto-ack off; handlers ack explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Purge drops all ready messages from a queue
func (c *Client) Purge(queue string) (int, error) {
	c.mu.RLock()
	ch := c.pubChannel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return 0, fmt.Errorf("channel not available")
	}
	return ch.QueuePurge(queue, false)
}

// QueueStats reports the message and consumer counts of a queue
func (c *Client) QueueStats(queue string) (messages, consumers int, err error) {
	c.mu.RLock()
	ch := c.pubChannel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return 0, 0, fmt.Errorf("channel not available")
	}
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}

// Close shuts the channels and the connection down
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var firstErr error
	if c.pubChannel != nil {
		if err := c.pubChannel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.pubChannel = nil
	}
	if c.consumeChannel != nil {
		if err := c.consumeChannel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.consumeChannel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || c.conn == nil
}

package broker

import (
	"context"
	"testing"
	"time"

	"tracker_gateway/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueArgs(t *testing.T) {
	client := &Client{config: &config.RabbitMQConfig{}}

	args := client.queueArgs()
	if args["x-max-length"] != int32(10000) {
		t.Errorf("Expected x-max-length 10000, got %v", args["x-max-length"])
	}
	if _, ok := args["x-message-ttl"]; ok {
		t.Error("TTL must be absent when unset")
	}
}

func TestQueueArgsWithTTL(t *testing.T) {
	client := &Client{config: &config.RabbitMQConfig{QueueTTL: 90 * time.Second}}

	args := client.queueArgs()
	if args["x-message-ttl"] != int32(90000) {
		t.Errorf("Expected x-message-ttl 90000, got %v", args["x-message-ttl"])
	}
}

func TestDeclaredQueues(t *testing.T) {
	queues := declaredQueues()
	want := map[string]bool{
		"device_commands":  false,
		"tracker_messages": false,
		"device_alerts":    false,
		"location_updates": false,
	}
	for _, q := range queues {
		if _, ok := want[q]; !ok {
			t.Errorf("Unexpected queue %s", q)
		}
		want[q] = true
	}
	for q, seen := range want {
		if !seen {
			t.Errorf("Queue %s not declared", q)
		}
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	client := &Client{config: &config.RabbitMQConfig{}}
	if err := client.Publish(context.Background(), QueueTrackerMessages, amqp.Publishing{}); err == nil {
		t.Error("Publish without a channel must fail")
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tracker_gateway/config"
	"tracker_gateway/internal/bridge"
	"tracker_gateway/internal/broker"
	"tracker_gateway/pkg/colors"

	"github.com/joho/godotenv"
)

// Sidecar entrypoint: relays queue deliveries that carry a targetHost
// over one-shot TCP connections. Needs no database.
func main() {
	if err := godotenv.Load(); err != nil {
		colors.PrintWarning("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration failed: %v", err)
	}
	colors.SetLevel(cfg.LogLevel)

	brokerClient, err := broker.NewClient(&cfg.RabbitMQ)
	if err != nil {
		log.Fatalf("Broker initialization failed: %v", err)
	}
	defer brokerClient.Close()

	b := bridge.New(brokerClient, &cfg.Bridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		colors.PrintShutdown()
		cancel()
	}()

	colors.PrintServer("Starting direct-TCP bridge on queue %s", cfg.Bridge.QueueName)
	if err := b.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Bridge failed: %v", err)
	}
}

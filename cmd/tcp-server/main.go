package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tracker_gateway/config"
	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/db"
	"tracker_gateway/internal/dispatcher"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/internal/tcp"
	"tracker_gateway/pkg/colors"

	"github.com/joho/godotenv"
)

// Gateway-only entrypoint: the device listener and dispatcher without
// the HTTP API.
func main() {
	if err := godotenv.Load(); err != nil {
		colors.PrintWarning("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration failed: %v", err)
	}
	colors.SetLevel(cfg.LogLevel)

	if err := db.Initialize(&cfg.Database); err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer db.Close()

	st := store.New(db.GetDB())

	brokerClient, err := broker.NewClient(&cfg.RabbitMQ)
	if err != nil {
		log.Fatalf("Broker initialization failed: %v", err)
	}
	defer brokerClient.Close()

	publisher := broker.NewPublisher(brokerClient)

	reg := registry.New(st)
	reg.StartSweeps()
	defer reg.Stop()

	tcpServer := tcp.NewServer(cfg.TCP.ListenAddr(), reg, st, publisher, nil)
	cmdDispatcher := dispatcher.New(brokerClient, reg, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := cmdDispatcher.Run(ctx); err != nil && err != context.Canceled {
			colors.PrintError("Dispatcher stopped: %v", err)
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		colors.PrintShutdown()
		cancel()
		tcpServer.Stop()
	}()

	colors.PrintServer("Starting tracker TCP server on %s", cfg.TCP.ListenAddr())
	if err := tcpServer.Start(); err != nil {
		log.Fatalf("TCP server failed: %v", err)
	}
}

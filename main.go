package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracker_gateway/config"
	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/db"
	"tracker_gateway/internal/dispatcher"
	httpserver "tracker_gateway/internal/http"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/internal/tcp"
	"tracker_gateway/pkg/colors"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		colors.PrintWarning("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		colors.PrintError("Invalid configuration: %v", err)
		log.Fatalf("Configuration failed: %v", err)
	}
	colors.SetLevel(cfg.LogLevel)

	colors.PrintHeader("TRACKER GATEWAY INITIALIZATION")

	if err := db.Initialize(&cfg.Database); err != nil {
		colors.PrintError("Failed to initialize database: %v", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer db.Close()

	st := store.New(db.GetDB())

	brokerClient, err := broker.NewClient(&cfg.RabbitMQ)
	if err != nil {
		colors.PrintError("Failed to connect to RabbitMQ: %v", err)
		log.Fatalf("Broker initialization failed: %v", err)
	}
	defer brokerClient.Close()

	publisher := broker.NewPublisher(brokerClient)

	reg := registry.New(st)
	reg.StartSweeps()
	defer reg.Stop()

	hub := httpserver.NewHub()
	tcpServer := tcp.NewServer(cfg.TCP.ListenAddr(), reg, st, publisher, hub)
	httpServer := httpserver.NewServer(&cfg.HTTP, st, reg, publisher, hub)
	cmdDispatcher := dispatcher.New(brokerClient, reg, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errorChan := make(chan error, 3)

	go func() {
		colors.PrintInfo("Starting TCP server for device connections...")
		if err := tcpServer.Start(); err != nil {
			errorChan <- fmt.Errorf("TCP server error: %v", err)
		}
	}()

	go func() {
		colors.PrintInfo("Starting HTTP server for REST API...")
		if err := httpServer.Start(); err != nil {
			errorChan <- fmt.Errorf("HTTP server error: %v", err)
		}
	}()

	go func() {
		colors.PrintInfo("Starting command dispatcher...")
		if err := cmdDispatcher.Run(ctx); err != nil && err != context.Canceled {
			errorChan <- fmt.Errorf("dispatcher error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-errorChan:
		colors.PrintError("Fatal: %v", err)
		exitCode = 1
	case <-quit:
		colors.PrintShutdown()
	}

	// Graceful stop: no new connections, drain sessions, cancel the
	// consumer, then let the deferred broker/store closes run.
	cancel()
	tcpServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		colors.PrintWarning("HTTP shutdown: %v", err)
	}

	if exitCode != 0 {
		db.Close()
		brokerClient.Close()
		os.Exit(exitCode)
	}
}

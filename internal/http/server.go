package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tracker_gateway/config"
	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/http/controllers"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"

	"github.com/gin-gonic/gin"
)

// Server is the REST API and websocket surface next to the TCP gateway
type Server struct {
	cfg    *config.HTTPConfig
	hub    *Hub
	engine *gin.Engine
	srv    *http.Server
}

// NewServer wires the controllers and routes
func NewServer(cfg *config.HTTPConfig, st *store.Store, reg *registry.Registry, pub *broker.Publisher, hub *Hub) *Server {
	if colors.GetLevel() < colors.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(rateLimitMiddleware(cfg.RequestsPerSecond, cfg.Burst))

	healthController := controllers.NewHealthController(reg)
	deviceController := controllers.NewDeviceController(st, reg)
	locationController := controllers.NewLocationController(st)
	commandController := controllers.NewCommandController(st, pub)

	engine.GET("/health", healthController.Health)
	engine.GET("/ws", func(c *gin.Context) {
		hub.HandleWS(c.Writer, c.Request)
	})

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/devices", deviceController.ListDevices)
		v1.GET("/sessions/active", deviceController.GetActiveDevices)
		v1.GET("/devices/:imei", deviceController.GetDevice)
		v1.GET("/devices/:imei/location", deviceController.GetLastLocation)
		v1.GET("/devices/:imei/history", deviceController.GetLocationHistory)
		v1.POST("/devices/:imei/commands", commandController.CreateCommand)
		v1.GET("/commands/:id", commandController.GetCommand)
		v1.GET("/locations/nearby", locationController.GetNearby)
		v1.GET("/stats", locationController.GetStats)
	}

	return &Server{cfg: cfg, hub: hub, engine: engine}
}

// Hub exposes the websocket hub for the TCP layer's broadcasts
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	colors.PrintServer("HTTP API listening on port %d", s.cfg.Port)
	colors.PrintSubHeader("Available REST API endpoints")
	colors.PrintEndpoint("GET", "/health", "Health check")
	colors.PrintEndpoint("GET", "/api/v1/devices", "List registered devices")
	colors.PrintEndpoint("GET", "/api/v1/sessions/active", "List connected devices")
	colors.PrintEndpoint("GET", "/api/v1/devices/:imei", "Get one device")
	colors.PrintEndpoint("GET", "/api/v1/devices/:imei/location", "Last known location")
	colors.PrintEndpoint("GET", "/api/v1/devices/:imei/history", "Location history")
	colors.PrintEndpoint("POST", "/api/v1/devices/:imei/commands", "Queue a command")
	colors.PrintEndpoint("GET", "/api/v1/commands/:id", "Command status")
	colors.PrintEndpoint("GET", "/api/v1/locations/nearby", "Radius search")
	colors.PrintEndpoint("GET", "/api/v1/stats", "System statistics")
	colors.PrintEndpoint("GET", "/ws", "Realtime updates (websocket)")

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

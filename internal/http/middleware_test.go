package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tracker_gateway/internal/http/controllers"
	"tracker_gateway/internal/registry"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(rateLimitMiddleware(1, 1))
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	first := httptest.NewRecorder()
	engine.ServeHTTP(first, httptest.NewRequest("GET", "/ping", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", first.Code)
	}

	// The one-token bucket is drained; the burst request is refused.
	second := httptest.NewRecorder()
	engine.ServeHTTP(second, httptest.NewRequest("GET", "/ping", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Burst request should be limited, got %d", second.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	health := controllers.NewHealthController(registry.New(nil))
	engine.GET("/health", health.Health)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Error("Expected a JSON body")
	}
}

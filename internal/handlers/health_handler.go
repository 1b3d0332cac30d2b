package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/metrics"
)

// HealthCheck reports whether one optional backend is usable.
type HealthCheck func(ctx context.Context) bool

type HealthHandler struct {
	checks  map[string]HealthCheck
	metrics *metrics.Metrics
}

func NewHealthHandler(m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{checks: map[string]HealthCheck{}, metrics: m}
}

func (hh *HealthHandler) AddCheck(name string, check HealthCheck) {
	hh.checks[name] = check
}

func (hh *HealthHandler) Register(app *fiber.App) {
	app.Get("/checkhealth", hh.CheckHealth)
	app.Get("/metrics", adaptor.HTTPHandler(hh.metrics.Handler()))
}

func (hh *HealthHandler) CheckHealth(c fiber.Ctx) error {
	backends := make(map[string]string, len(hh.checks))
	healthy := true
	for name, check := range hh.checks {
		if check(c.Context()) {
			backends[name] = "up"
		} else {
			backends[name] = "down"
			healthy = false
		}
	}
	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"service":  "leak-detection-service",
		"status":   state,
		"backends": backends,
	})
}

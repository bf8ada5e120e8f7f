package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-relay/pkg/logger"
)

// HealthCheck is one dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for _, hc := range h.Checks {
		if err := hc.Check(ctx); err != nil {
			logger.FromGin(c).Warn("health check failed", "check", hc.Name, "err", err)
			checks[hc.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

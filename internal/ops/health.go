package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PingFunc checks one backing service. Nil pings are treated as healthy so
// tests can wire only what they need.
type PingFunc func(ctx context.Context) error

type HealthHandler struct {
	pings map[string]PingFunc
}

func NewHealthHandler(pings map[string]PingFunc) *HealthHandler {
	return &HealthHandler{pings: pings}
}

// Healthz is liveness: the process is up.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz is readiness: every backing service answers a ping.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
	defer cancel()

	failing := make([]string, 0)

	for name, ping := range h.pings {
		if ping == nil {
			continue
		}
		if err := ping(cctx); err != nil {
			failing = append(failing, name)
		}
	}

	if len(failing) > 0 {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"failing": failing,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}

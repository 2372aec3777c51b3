package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clinic-cti/internal/httpapi"
	"clinic-cti/internal/telephony"
)

// healthCheck is one dependency probed by /healthz.
type healthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type routeDeps struct {
	Webhook telephony.CTIWebhookHandler
	ReadAPI httpapi.Handlers
	// ReadAccess guards /v1; see httpapi.ReadAccess.
	ReadAccess []gin.HandlerFunc
	Health     []healthCheck
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", healthHandler(d.Health))

	// CTI bridge webhooks. Authenticated by the shared token, not by JWT.
	cti := r.Group("/v2/cti")
	{
		cti.POST("/call-logs", d.Webhook.HandleCallLog)
		cti.GET("/call-logs", d.Webhook.Liveness)
		cti.POST("/incoming-call", d.Webhook.HandleIncomingCall)
		cti.GET("/incoming-call", d.Webhook.Liveness)
		cti.POST("/outgoing-call", d.Webhook.HandleOutgoingCall)
		cti.GET("/outgoing-call", d.Webhook.Liveness)
	}

	v1 := r.Group("/v1")
	v1.Use(d.ReadAccess...)
	{
		v1.GET("/call-logs", d.ReadAPI.ListCallLogs)
		v1.GET("/call-logs/:id", d.ReadAPI.GetCallLog)
		v1.GET("/reports/daily", d.ReadAPI.DailyReport)
	}
}

func healthHandler(checks []healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := gin.H{}
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				deps[hc.Name] = err.Error()
				continue
			}
			deps[hc.Name] = "ok"
		}
		body := gin.H{"status": "ok", "deps": deps}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}

package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ivr-platform/internal/auth"
	"ivr-platform/internal/httpapi"
	"ivr-platform/internal/rbac"
	"ivr-platform/internal/telephony"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, health func(ctx context.Context) error) {
	r.GET("/healthz", func(c *gin.Context) {
		if health != nil {
			if err := health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "live_calls": a.conversations.Len()})
	})

	// Provider webhooks (public, signed).
	hooks := r.Group("/webhooks/twilio/voice")
	if a.cfg.Twilio.ValidateSignature {
		hooks.Use(telephony.RequireTwilioSignature(a.cfg.Twilio.AuthToken, a.cfg.Twilio.PublicBaseURL))
	}
	{
		hooks.POST("", a.webhooks.HandleVoice)
		hooks.POST("/gather", a.webhooks.HandleGather)
		hooks.POST("/status", a.webhooks.HandleStatus)
	}

	r.POST("/v1/auth/refresh", a.operator.Refresh)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.authManager))
	{
		v1.GET("/me", a.operator.Me)

		callsGroup := v1.Group("/calls")
		callsGroup.Use(httpapi.RequireUserAndAnyRole(rbac.RoleOwner, rbac.RoleOperator)...)
		{
			callsGroup.GET("", a.operator.ListCalls)
			callsGroup.GET("/:provider_call_id", a.operator.GetCall)
		}
	}
}

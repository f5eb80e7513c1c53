package server

import (
	"net/http"

	"github.com/freshcart/push-engine/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the engine's HTTP surface.
func NewRouter(cfg *config.Config, handler *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.Default()

	router.Use(RequestIDMiddleware())
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		// Storefront-facing subscription management.
		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.POST("", handler.Subscribe)
			subscriptions.DELETE("", handler.Unsubscribe)
		}

		// Trigger and admin surface, guarded by the shared secret.
		protected := api.Group("")
		protected.Use(RequireTriggerSecret(cfg.TriggerSecret))
		{
			protected.POST("/notifications/send", handler.SendNotification)
			protected.POST("/notifications/queue", handler.EnqueueNotification)
			protected.POST("/scheduler/run", handler.RunScheduler)
			protected.POST("/broadcasts", handler.CreateBroadcast)
			protected.GET("/broadcasts/:id", handler.GetBroadcast)
			protected.GET("/breakers", handler.BreakerStatus)
		}
	}

	return router
}

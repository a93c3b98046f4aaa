package server

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/mantonx/vvf/internal/errors"
	"github.com/mantonx/vvf/internal/middleware"
	"github.com/mantonx/vvf/internal/server/handlers"
)

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(apperrors.RequestIDMiddleware(), apperrors.RecoveryMiddleware(), middleware.RequestLogger(s.logger))

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	if s.opts.Metrics != nil && s.opts.MetricsPath != "" {
		r.GET(s.opts.MetricsPath, gin.WrapH(s.opts.Metrics.Handler()))
	}

	ext := handlers.NewExtensionsHandler(s.opts.Manager)
	stream := handlers.NewStreamHandler(ext, s.logger)
	system := handlers.NewSystemHandler(ext, s.opts.DB, s.opts.Icons, s.opts.Launcher, s.opts.Updates)

	api := r.Group("/api")
	{
		api.GET("/health", system.Health)
		api.GET("/status", system.Statuses)
		api.GET("/processes", system.Processes)
		api.GET("/updates", system.Updates)
		api.POST("/updates/check", system.CheckUpdates)

		extensions := api.Group("/extensions")
		{
			extensions.GET("", ext.ListKinds)
			extensions.POST("/refresh", ext.RefreshAll)

			extensions.GET("/:kind", ext.GetView)
			extensions.GET("/:kind/known", ext.GetKnown)
			extensions.GET("/:kind/selected", ext.GetSelected)
			extensions.PUT("/:kind/priority", ext.SetPriority)
			extensions.POST("/:kind/refresh", ext.RefreshKind)
			extensions.GET("/:kind/errors/ws", stream.HandleErrors)

			extensions.GET("/:kind/:id", ext.GetExtension)
			extensions.POST("/:kind/:id/enable", ext.EnableExtension)
			extensions.POST("/:kind/:id/disable", ext.DisableExtension)
			extensions.GET("/:kind/:id/settings", ext.GetSettings)
			extensions.PUT("/:kind/:id/settings", ext.UpdateSettings)
			extensions.GET("/:kind/:id/icon", system.Icon)
		}
	}

	return r
}

// Package router provides docuseek service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/docuseek/docuseek/internal/docuseek/handler"
	"github.com/docuseek/docuseek/internal/docuseek/metrics"
)

// metricsNamespace prefixes all exported metric names.
const metricsNamespace = "docuseek"

// Register registers the docuseek service routes.
func Register(engine *gin.Engine, h *handler.Handler) {
	logger.Info("Registering routes...")

	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(metrics.Get().Export(metricsNamespace)))
	})

	v1 := engine.Group("/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("", h.Upload)
			documents.DELETE("/:id", h.DeleteDocument)
		}

		v1.POST("/query", h.Query)
		v1.POST("/query/conversation", h.QueryConversation)
		v1.GET("/stats", h.Stats)
		v1.GET("/formats", h.SupportedFormats)
	}

	logger.Info("HTTP routes registered")
}

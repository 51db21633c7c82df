package route

import (
	"net/http"

	"github.com/bassista/autopersist/internal/api/middleware"
	"github.com/bassista/autopersist/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes builds the engine serving the document API of appCtx.
func SetupRoutes(appCtx *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger))
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "UP",
			"documents": len(appCtx.Documents()),
		})
	})

	api := r.Group("")
	timeout := appCtx.Config.Server.RequestTimeout
	NewConfigurationRouter(timeout, api, appCtx.Config)
	NewDocumentRouter(timeout, api, appCtx)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

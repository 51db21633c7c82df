package route

import (
	"time"

	"github.com/bassista/autopersist/internal/api/controller"
	"github.com/bassista/autopersist/internal/api/middleware"
	"github.com/bassista/autopersist/internal/config"
	"github.com/gin-gonic/gin"
)

// NewConfigurationRouter exposes the effective persistence settings.
func NewConfigurationRouter(timeout time.Duration, group *gin.RouterGroup, cfg *config.Config) {
	cc := controller.NewConfigurationController(cfg)
	group.GET("configuration", middleware.RequestTimeout(timeout), cc.GetConfiguration)
}

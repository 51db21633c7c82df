package controller

import (
	"net/http"

	"github.com/bassista/autopersist/internal/config"
	"github.com/gin-gonic/gin"
)

// ConfigurationResponse is the persistence setup reported by GET /configuration.
type ConfigurationResponse struct {
	DebounceWindow  string                  `json:"debounceWindow"`
	IdleLogInterval string                  `json:"idleLogInterval"`
	WatchExternal   bool                    `json:"watchExternal"`
	DataDir         string                  `json:"dataDir"`
	Documents       []config.DocumentConfig `json:"documents"`
}

// ConfigurationController handles configuration-related API endpoints.
type ConfigurationController struct {
	config *config.Config
}

func NewConfigurationController(cfg *config.Config) *ConfigurationController {
	return &ConfigurationController{config: cfg}
}

// GetConfiguration returns the effective persistence settings.
func (cc *ConfigurationController) GetConfiguration(c *gin.Context) {
	docs := cc.config.Data.Documents
	if docs == nil {
		docs = []config.DocumentConfig{}
	}
	c.JSON(http.StatusOK, ConfigurationResponse{
		DebounceWindow:  cc.config.Persist.DebounceWindow.String(),
		IdleLogInterval: cc.config.Persist.IdleLogInterval.String(),
		WatchExternal:   cc.config.Persist.WatchExternal,
		DataDir:         cc.config.Data.Dir,
		Documents:       docs,
	})
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "AUTOPERSIST"

type ServerConfig struct {
	Port               int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutDownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
}

type PersistConfig struct {
	DebounceWindow  time.Duration `mapstructure:"debounce_window" validate:"gt=0"`
	IdleLogInterval time.Duration `mapstructure:"idle_log_interval" validate:"gte=0"`
	WatchExternal   bool          `mapstructure:"watch_external"`
}

// DocumentConfig names one document the server binds at startup. File is
// resolved against DataConfig.Dir unless it is absolute.
type DocumentConfig struct {
	Name  string `mapstructure:"name" json:"name" validate:"required,max=64,excludesall=/?#"`
	File  string `mapstructure:"file" json:"file" validate:"required"`
	Shape string `mapstructure:"shape" json:"shape" validate:"required,oneof=object array"`
}

type DataConfig struct {
	Dir       string           `mapstructure:"dir" validate:"required"`
	Documents []DocumentConfig `mapstructure:"documents" validate:"dive"`
}

type MiscConfig struct {
	LogLevel string `mapstructure:"log_level"`
	GinMode  string `mapstructure:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Persist PersistConfig `mapstructure:"persist"`
	Data    DataConfig    `mapstructure:"data"`
	Misc    MiscConfig    `mapstructure:"misc"`
}

// DocumentPath returns the backing file of d.
func (c *Config) DocumentPath(d DocumentConfig) string {
	if filepath.IsAbs(d.File) {
		return d.File
	}
	return filepath.Join(c.Data.Dir, d.File)
}

// LoadConfig reads config.yaml from AUTOPERSIST_CONFIG_PATH (default ./config),
// applies defaults and environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(getEnvOrDefault(envPrefix+"_CONFIG_PATH", "./config"))
}

// LoadConfigFrom is LoadConfig with an explicit config directory.
func LoadConfigFrom(confPath string) (*Config, error) {
	log := logger.WithComponent("config")

	// a missing .env is the normal case outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("cannot load .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(confPath)
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		log.Info("no config file found, using defaults and env vars")
	} else {
		log.Infof("using config file %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}

	port, err := getEnvOrViperPort(v, "PORT", "server.port")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.request_timeout", 2*time.Second)
	v.SetDefault("server.cors_allowed_origins", "")

	v.SetDefault("persist.debounce_window", 500*time.Millisecond)
	v.SetDefault("persist.idle_log_interval", time.Duration(0))
	v.SetDefault("persist.watch_external", true)

	v.SetDefault("data.dir", "./config/data")
	v.SetDefault("data.documents", []map[string]any{
		{"name": "default", "file": "default.json", "shape": string(document.ShapeObject)},
	})

	v.SetDefault("misc.log_level", "info")
	v.SetDefault("misc.gin_mode", "release")
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	names := map[string]struct{}{}
	files := map[string]string{}
	for _, d := range c.Data.Documents {
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate document name %q", d.Name)
		}
		names[d.Name] = struct{}{}

		path := filepath.Clean(c.DocumentPath(d))
		if other, dup := files[path]; dup {
			return fmt.Errorf("invalid configuration: documents %q and %q share file %s", other, d.Name, path)
		}
		files[path] = d.Name
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvOrViperPort prefers the plain env var (as set by most PaaS) over the
// viper key.
func getEnvOrViperPort(v *viper.Viper, envKey, viperKey string) (int, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return v.GetInt(viperKey), nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return port, nil
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bassista/autopersist/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/autopersist", "--log-level=debug"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/autopersist", opts.configPath)
	assert.Equal(t, "debug", opts.logLevel)

	opts, err = parseFlags([]string{"-c", "conf"})
	require.NoError(t, err)
	assert.Equal(t, "conf", opts.configPath)
	assert.Empty(t, opts.logLevel)

	_, err = parseFlags([]string{"--unknown"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadConfig_FlagDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9200\n"), 0o644))

	cfg, err := loadConfig(options{configPath: dir})
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestCreateGraceHttpServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := createGraceHttpServer(context.Background(), "test", config.ServerConfig{
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutDownTimeout: time.Second,
	}, gin.New())
	assert.NotNil(t, srv)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	route "github.com/bassista/autopersist/internal/api/route"
	appctx "github.com/bassista/autopersist/internal/app"
	"github.com/bassista/autopersist/internal/config"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/enrichman/httpgrace"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("autopersist", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "directory holding config.yaml (overrides AUTOPERSIST_CONFIG_PATH)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (overrides misc.log_level)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadConfigFrom(opts.configPath)
	}
	return config.LoadConfig()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.WithComponent("main").Fatalf("invalid arguments: %v", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	level := cfg.Misc.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if err := logger.SetLevel(level); err != nil {
		logger.WithComponent("main").Warnf("invalid log level '%s', keeping '%s': %v", level, logger.Logger.GetLevel(), err)
	}
	logger.WithComponent("main").Infof("App will run on port: %d", cfg.Server.Port)

	app, err := appctx.New(cfg, appctx.NewRegistry(cfg))
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	if err := app.OpenDocuments(); err != nil {
		app.Shutdown()
		logger.WithComponent("main").Fatalf("cannot open documents: %v", err)
	}
	if err := app.StartWatchers(); err != nil {
		logger.WithComponent("main").Warnf("external change detection unavailable: %v", err)
	}

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := route.SetupRoutes(app, logger.Logger)
	srv := createGraceHttpServer(app.BaseCtx, "main-server", cfg.Server, r)

	err = srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port))
	// the server has drained; flush every pending document before exiting
	app.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Fatal(err)
	}
	logger.WithComponent("main").Info("bye")
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	return httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
}

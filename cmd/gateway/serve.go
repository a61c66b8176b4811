package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"llms-gateway/internal/cache"
	"llms-gateway/internal/config"
	"llms-gateway/internal/dispatch"
	"llms-gateway/internal/handlers"
	"llms-gateway/internal/httpserver"
	"llms-gateway/internal/llm"
	"llms-gateway/internal/metrics"
	"llms-gateway/internal/provider"
	"llms-gateway/internal/reload"
	"llms-gateway/pkg/logging/logging"
)

var port string
var watchConfig bool
var watchInterval time.Duration

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the OpenAI-compatible HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "port",
			Usage:       "Port to listen on",
			Aliases:     []string{"p"},
			EnvVars:     []string{"PORT"},
			Value:       "8080",
			Destination: &port,
		},
		&cli.BoolFlag{
			Name:        "watch",
			Usage:       "Reload providers when the config file changes",
			EnvVars:     []string{"LLMS_WATCH"},
			Value:       true,
			Destination: &watchConfig,
		},
		&cli.DurationFlag{
			Name:        "watch-interval",
			Usage:       "How often the config file is checked for changes",
			Value:       reload.DefaultInterval,
			Destination: &watchInterval,
		},
	},
	Action: func(c *cli.Context) error {
		return serve()
	},
}

func serve() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("config", cfgPath),
		zap.Int("providers", len(cfg.Providers)),
		zap.Bool("image_conversion", cfg.Convert.Image != nil),
	)

	// ----- Providers -----
	client := llm.NewHTTPClient(llm.HTTPConfig{})
	mediaCache := cache.NewMemoryCache(time.Minute)
	defer mediaCache.Close()

	build := snapshotBuilder(client, cache.NewLoggingCache(mediaCache))
	snap, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry(snap)

	reloader := reload.New(cfgPath, registry, build, reload.WithInterval(watchInterval))
	if watchConfig {
		reloader.Prime(ctx)
		go reloader.Watch(ctx)
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Chat:   handlers.NewChatHandler(dispatch.New(registry)),
		Models: handlers.NewModelsHandler(registry),
		Admin:  handlers.NewAdminHandler(reloader, registry),
	})

	// ----- HTTP server -----
	// no WriteTimeout: streamed completions stay open as long as the upstream
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	st := snap.Status()
	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.Strings("enabled", st.Enabled),
		zap.Strings("disabled", st.Disabled),
		zap.Int("models", len(snap.Models())),
		zap.Bool("watch", watchConfig),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

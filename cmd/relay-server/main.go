package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"chatrelay/internal/config"
	httpapi "chatrelay/internal/microservices/http-api"
	relay "chatrelay/internal/microservices/udp-relay"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	opts, err := relay.ConfigOptions(cfg)
	if err != nil {
		log.Fatalf("Invalid relay config: %v", err)
	}
	opts = append(opts, relay.WithLogger(logger))

	server, err := relay.NewServer(cfg.RelayAddr(), opts...)
	if err != nil {
		log.Fatalf("Failed to create relay server: %v", err)
	}

	instanceID := uuid.NewString()
	logger.Info("starting_relay_server",
		"instance_id", instanceID,
		"relay_addr", server.Addr().String(),
		"admin_http_port", cfg.AdminHTTPPort,
		"env", cfg.GoEnv,
	)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	// Optional admin API for peer inspection and announcements
	if cfg.AdminHTTPPort > 0 {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := httpapi.NewRouter(server, logger, instanceID)
		admin := httpapi.NewAdminServer(":"+strconv.Itoa(cfg.AdminHTTPPort), router, logger)
		g.Go(func() error { return admin.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}

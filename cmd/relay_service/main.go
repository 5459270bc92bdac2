package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery-relay/internal/common/config"
	"delivery-relay/internal/common/log"
	"delivery-relay/internal/relay/adapters/httpapi"
	"delivery-relay/internal/relay/adapters/ws"
	"delivery-relay/internal/relay/bus"
	"delivery-relay/internal/relay/contracts"
	"delivery-relay/internal/relay/gateway"
	"delivery-relay/internal/relay/locations"
	"delivery-relay/internal/relay/registry"
	"delivery-relay/internal/relay/router"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.New("delivery-relay")
	log.Info(ctx, logger, "init_start", "Delivery relay initializing...")

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, logger, "config_load_fail", "Failed to load configuration", err)
		os.Exit(1)
	}
	log.Info(ctx, logger, "config_loaded", "Configuration loaded successfully")

	// Redis: ephemeral location cache, and the default broadcast substrate
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error(ctx, logger, "redis_url_invalid", "REDIS_URL could not be parsed", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		log.Error(ctx, logger, "redis_connect_fail", "Failed to connect to redis", err)
		os.Exit(1)
	}
	log.Info(ctx, logger, "redis_connected", "Redis client connected")

	rt := router.New(logger)
	reg := registry.New(logger, rt)
	store := locations.NewStore(rdb)
	gw := gateway.New(logger, reg, rt, store)

	// cross-process broadcast bus
	var relayBus bus.Bus
	switch cfg.Bus {
	case config.BusRabbitMQ:
		relayBus = bus.NewRabbitBus(cfg.RabbitMQURL, logger)
	default:
		relayBus = bus.NewRedisBus(rdb, logger)
	}
	if err := relayBus.Start(ctx, func(topics []string, evt contracts.Event) {
		rt.Fanout(topics, evt)
	}); err != nil {
		log.Error(ctx, logger, "bus_start_fail", "Failed to start broadcast bus", err)
		os.Exit(1)
	}
	rt.AttachBus(relayBus)
	log.Info(ctx, logger, "bus_ready", fmt.Sprintf("Broadcast bus ready (%s)", cfg.Bus))

	// transports
	origin := cfg.ClientURL
	if !cfg.Production {
		origin = "*"
	}
	wsHandler := ws.NewHandler(logger, gw, reg, origin)
	apiHandler := httpapi.NewHandler(logger, gw, cfg.SecretKey)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port),
		Handler:           apiHandler.Router(wsHandler),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info(ctx, logger, "server_start",
			fmt.Sprintf("Relay server running on %s:%d", cfg.Hostname, cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, logger, "server_fail", "HTTP server failed", err)
			cancel()
		}
	}()

	// free-tier hosts idle the process out; ping ourselves to stay warm
	if cfg.Production {
		go keepAlive(ctx, logger, cfg.Port)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info(ctx, logger, "shutdown_signal", "Shutdown signal received")
	case <-ctx.Done():
		log.Info(ctx, logger, "shutdown_ctx", "Context canceled")
	}

	// stop accepting, drain live connections, then close external clients
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, logger, "http_shutdown_fail", "HTTP server shutdown failed", err)
	} else {
		log.Info(ctx, logger, "http_shutdown", "HTTP server stopped")
	}

	wsHandler.CloseAll()

	if err := relayBus.Close(); err != nil {
		log.Error(ctx, logger, "bus_close_fail", "Broadcast bus close failed", err)
	}
	if err := rdb.Close(); err != nil {
		log.Error(ctx, logger, "redis_close_fail", "Redis client close failed", err)
	}

	log.Info(ctx, logger, "shutdown_complete", "Delivery relay stopped")
}

// keepAlive hits the local liveness endpoint every 10 minutes, starting a
// minute after boot.
func keepAlive(ctx context.Context, logger *slog.Logger, port int) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Minute):
	}

	url := fmt.Sprintf("http://localhost:%d/keep-alive", port)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	ping := func() {
		resp, err := http.Get(url)
		if err != nil {
			log.Warn(ctx, logger, "keep_alive_fail", "Keep-alive ping failed")
			return
		}
		_ = resp.Body.Close()
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
		}
	}
}

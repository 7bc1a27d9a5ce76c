/*
Package main is the entry point for the Meetline signaling server.

It loads configuration, initializes the global logging system, opens the
storage backend, starts the signaling hub and the expiry sweeper, serves the
HTTP API, and shuts everything down gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"meetline/internal/app/auth"
	"meetline/internal/app/db"
	"meetline/internal/app/directory"
	"meetline/internal/app/memstore"
	"meetline/internal/app/relay"
	"meetline/internal/app/user"
	"meetline/internal/configs"
	"meetline/internal/handler"
	"meetline/internal/pkg/auth/cipher"
	"meetline/internal/pkg/logx"
)

type store interface {
	user.Store
	directory.Store
}

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("cipher_iv_mode", string(cfg.CipherIVMode)).
		Bool("database", cfg.DatabaseDSN != "").
		Bool("redis", cfg.RedisURL != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to database")
		}
		defer pool.Close()
		st = db.NewQueries(pool)
	} else {
		logx.Warn("DATABASE_URL not set, using in-memory storage")
		st = memstore.New()
	}

	c, err := cipher.New(cfg.CipherKey, cfg.CipherIV, cfg.CipherIVMode)
	if err != nil {
		logx.Fatal(err, "Failed to initialize credential cipher")
	}

	users := user.NewService(st)
	manager := auth.NewManager(auth.Options{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		Cipher:        c,
		Users:         users,
		SecureCookies: !cfg.IsDevelopment(),
	})
	dir := directory.NewService(st, manager)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	presence := relay.Presence(relay.NopPresence{})
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logx.Fatal(err, "Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logx.Fatal(err, "Failed to connect to redis")
		}
		presence = relay.NewRedisPresence(rdb)
	}

	// Initialize signaling hub
	hub := relay.NewHub(dir, relay.Options{
		Sessions: manager,
		Presence: presence,
		Metrics:  relay.NewMetrics(reg),
	})
	dir.SetEventSink(hub)
	go hub.Run(ctx)

	go directory.NewSweeper(dir, cfg.ExpirySweepInterval).Run(ctx)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config:    cfg,
		Auth:      manager,
		Users:     users,
		Directory: dir,
		Hub:       hub,
		Metrics:   reg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Meetline server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// the hub stops with ctx; wait for in-flight directory releases
	hub.Wait()

	logx.Info("Server gracefully stopped.")
}

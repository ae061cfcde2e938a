package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/handlers"
	"github.com/lpernett/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Load environment variables from .env file
func init() {
	if err := godotenv.Load(); err != nil {
		// Logger is not up yet; the server still runs from real env vars.
		os.Stderr.WriteString("warning: no .env file loaded\n")
	}
}

func main() {
	// Set up logging
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("Server Version: PixelPilot Agent V1")

	// Set up Redis connection. Stats publishing degrades gracefully when
	// Redis is unavailable, so failure here is a warning, not fatal.
	var redisClient *redis.Client
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:        redisHost,
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          0,
			DialTimeout: 20 * time.Second,
		})

		redisCtx, cancelRedis := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := redisClient.Ping(redisCtx).Result(); err != nil {
			logger.Warn("Failed to connect to Redis, session stats disabled", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Successfully connected to Redis")
		}
		cancelRedis()
	} else {
		logger.Warn("REDIS_HOST not set, session stats disabled")
	}

	// Define HTTP routes
	http.HandleFunc("/healthz", handlers.HandleHealthCheck)
	http.HandleFunc("/stats", handlers.HandleStats)
	http.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleGameSession(w, r, redisClient)
	})

	// Set up signal handling
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverExit := make(chan struct{})

	// Start HTTP server in a goroutine
	go func() {
		port := ":" + os.Getenv("PORT")
		if port == ":" {
			port = ":8080"
		}
		logger.Info("Starting server", zap.String("port", port))
		if err := http.ListenAndServe(port, nil); err != nil {
			logger.Error("HTTP server exited", zap.Error(err))
		}
		close(serverExit)
	}()

	select {
	case <-stop:
		logger.Info("Shutting down server...")
	case <-serverExit:
		logger.Info("Server exited unexpectedly...")
	}

	logger.Info("Server shut down gracefully")
}

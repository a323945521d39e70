package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/demandcast/internal/api"
	"github.com/irfndi/demandcast/internal/api/handlers"
	"github.com/irfndi/demandcast/internal/cache"
	"github.com/irfndi/demandcast/internal/config"
	"github.com/irfndi/demandcast/internal/database"
	"github.com/irfndi/demandcast/internal/logging"
	"github.com/irfndi/demandcast/internal/services"
	"github.com/irfndi/demandcast/internal/telemetry"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	tp, err := telemetry.Init(cfg.Environment)
	if err != nil {
		logger.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = redisClient.Close() }()

	repo := database.NewForecastRepository(db.Pool, cfg.Database.Schema)
	forecastService := services.NewForecastService(repo, repo, cfg.Forecast, logger)

	cacheTTL, err := time.ParseDuration(cfg.Forecast.CacheTTL)
	if err != nil {
		logger.WithError(err).Warn("invalid cache TTL, using 15m")
		cacheTTL = 15 * time.Minute
	}
	forecastCache := cache.NewForecastCache(redisClient, cacheTTL, logger)

	forecastHandler := handlers.NewForecastHandler(forecastService, repo, forecastCache, logger)
	healthHandler := handlers.NewHealthHandler(db, redisClient)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, forecastHandler, healthHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	forecastCache.LogStats()
	logger.Info("Server exited")
}

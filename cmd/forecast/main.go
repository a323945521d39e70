// Command forecast runs a single forecast from the command line and persists
// the result, for operators and scheduled jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/demandcast/internal/config"
	"github.com/irfndi/demandcast/internal/database"
	"github.com/irfndi/demandcast/internal/logging"
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/services"
)

func main() {
	var (
		tenantID    = flag.String("tenant-id", "", "tenant UUID (required)")
		modelType   = flag.String("model", "sma", "model type: sma, wma, exp-smoothing, holt-winters, arima, prophet")
		productID   = flag.String("product-id", "", "restrict to one product")
		locationID  = flag.String("location-id", "", "restrict to one location")
		horizonDays = flag.Int("horizon", 0, "forecast horizon in days (default from config)")
		granularity = flag.String("granularity", "", "time granularity: daily, weekly, monthly, quarterly")
		userID      = flag.String("user-id", "", "acting user UUID recorded as created_by")
		name        = flag.String("name", "", "forecast name (default \"<model> - <timestamp>\")")
		dryRun      = flag.Bool("dry-run", false, "run the engine without persisting")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Environment)

	tenant, err := uuid.Parse(*tenantID)
	if err != nil {
		logger.Fatalf("a valid --tenant-id is required: %v", err)
	}

	req := services.RunRequest{
		TenantID:    tenant,
		ModelType:   models.ModelType(*modelType),
		HorizonDays: *horizonDays,
		Granularity: models.Granularity(*granularity),
		ProductID:   *productID,
		LocationID:  *locationID,
		Name:        *name,
	}
	if *userID != "" {
		createdBy, err := uuid.Parse(*userID)
		if err != nil {
			logger.Fatalf("invalid --user-id: %v", err)
		}
		req.CreatedBy = &createdBy
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewForecastRepository(db.Pool, cfg.Database.Schema)
	svc := services.NewForecastService(repo, repo, cfg.Forecast, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := svc.Run(ctx, req)
	if err != nil {
		logger.Fatalf("forecast run failed: %v", err)
	}

	if !*dryRun {
		if err := repo.CreateForecast(ctx, result.Run); err != nil {
			logger.Fatalf("failed to persist forecast: %v", err)
		}
		if err := repo.InsertDetails(ctx, result.Details); err != nil {
			logger.Fatalf("failed to persist forecast details: %v", err)
		}
	}

	fields := logrus.Fields{
		"run_id":       result.Run.ID,
		"name":         result.Run.Name,
		"model":        result.Run.ModelType,
		"granularity":  result.Run.Granularity,
		"combinations": result.Combinations,
		"succeeded":    result.Succeeded,
		"details":      len(result.Details),
		"persisted":    !*dryRun,
	}
	if result.Metrics != nil {
		if result.Metrics.MAPE != nil {
			fields["mape"] = fmt.Sprintf("%.2f", *result.Metrics.MAPE)
		}
		fields["mad"] = fmt.Sprintf("%.4f", result.Metrics.MAD)
		fields["rmse"] = fmt.Sprintf("%.4f", result.Metrics.RMSE)
		fields["tracking_signal"] = fmt.Sprintf("%.2f", result.Metrics.TrackingSignal)
	}
	if result.ControlDeviation {
		fields["control_deviation"] = true
	}
	logger.WithFields(fields).Info("forecast complete")
}

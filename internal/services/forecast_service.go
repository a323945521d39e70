package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/irfndi/demandcast/internal/config"
	"github.com/irfndi/demandcast/internal/engine"
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/telemetry"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

// ObservationSource supplies materialized historical sales to the engine.
// Retrieval is the caller's concern; the engine never touches the data source
// during computation.
type ObservationSource interface {
	GetHistoricalSales(ctx context.Context, tenantID uuid.UUID, filter SalesFilter) ([]models.Observation, error)
}

// ModelConfigSource resolves reusable named parameter sets.
type ModelConfigSource interface {
	GetModelConfiguration(ctx context.Context, id uuid.UUID) (*models.ModelConfiguration, error)
}

// SalesFilter restricts historical retrieval by dimension and date range.
type SalesFilter struct {
	ProductID  string
	LocationID string
	CustomerID string
	From       time.Time
	To         time.Time
}

// RunRequest describes one forecast invocation.
type RunRequest struct {
	TenantID      uuid.UUID              `json:"tenant_id"`
	ModelType     models.ModelType       `json:"model_type"`
	HorizonDays   int                    `json:"forecast_horizon_days"`
	Granularity   models.Granularity     `json:"time_granularity,omitempty"`
	ProductID     string                 `json:"product_id,omitempty"`
	LocationID    string                 `json:"location_id,omitempty"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	Name          string                 `json:"forecast_name,omitempty"`
	CreatedBy     *uuid.UUID             `json:"created_by,omitempty"`
	ModelConfigID *uuid.UUID             `json:"model_config_id,omitempty"`
	Parameters    map[string]interface{} `json:"model_parameters,omitempty"`
	Aggregation   timeseries.Aggregation `json:"aggregation,omitempty"`
	Fill          timeseries.FillMethod  `json:"gap_fill,omitempty"`
}

// RunResult is the fully-formed output of a run: the header, its detail rows,
// and run diagnostics. Persistence belongs to the caller.
type RunResult struct {
	Run     *models.ForecastRun     `json:"forecast"`
	Details []models.ForecastDetail `json:"details"`
	Metrics *stats.Metrics          `json:"metrics,omitempty"`
	// ControlDeviation is set when the tracking signal exceeds the configured
	// threshold; it is surfaced, never auto-corrected.
	ControlDeviation bool `json:"control_deviation"`
	// Combinations and Succeeded report the product/location fan-out outcome.
	Combinations int `json:"combinations"`
	Succeeded    int `json:"succeeded"`
}

// ForecastService orchestrates a run: request validation, series preparation,
// model dispatch, interval and metric computation, and record assembly.
type ForecastService struct {
	source       ObservationSource
	modelConfigs ModelConfigSource
	cfg          config.ForecastConfig
	logger       *logrus.Logger
}

// NewForecastService creates the orchestrator. modelConfigs may be nil when
// configuration reuse is not wired (e.g. in the CLI).
func NewForecastService(source ObservationSource, modelConfigs ModelConfigSource, cfg config.ForecastConfig, logger *logrus.Logger) *ForecastService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastService{
		source:       source,
		modelConfigs: modelConfigs,
		cfg:          cfg,
		logger:       logger,
	}
}

type dimensionKey struct {
	productID  string
	locationID string
}

// Run executes one forecast invocation and returns the assembled records.
func (s *ForecastService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ForecastService.Run",
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("model_type", string(req.ModelType)),
	)
	var runErr error
	defer func() { telemetry.FinishSpan(span, runErr) }()

	if runErr = s.normalize(&req); runErr != nil {
		return nil, runErr
	}

	params, err := s.resolveParameters(ctx, req)
	if err != nil {
		runErr = err
		return nil, err
	}

	// Model construction validates parameters before any series is touched.
	model, err := engine.New(req.ModelType, req.Granularity, params)
	if err != nil {
		runErr = err
		return nil, err
	}

	observations, err := s.source.GetHistoricalSales(ctx, req.TenantID, SalesFilter{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		runErr = fmt.Errorf("fetch historical sales: %w", err)
		return nil, runErr
	}
	if len(observations) == 0 {
		runErr = utils.NewInsufficientDataError(string(req.ModelType), model.MinObservations(), 0)
		return nil, runErr
	}

	combos := s.combinations(req, observations)
	periods := req.Granularity.PeriodsForHorizon(req.HorizonDays)

	result := &RunResult{Combinations: len(combos)}
	var effectiveParams map[string]interface{}

	for _, combo := range combos {
		details, fittedParams, metrics, err := s.runCombination(ctx, req, model, observations, combo, periods)
		if err != nil {
			if len(combos) == 1 {
				runErr = err
				return nil, err
			}
			s.logger.WithFields(logrus.Fields{
				"tenant_id":   req.TenantID,
				"model_type":  req.ModelType,
				"product_id":  combo.productID,
				"location_id": combo.locationID,
			}).WithError(err).Warn("skipping product/location combination")
			continue
		}

		result.Details = append(result.Details, details...)
		result.Succeeded++
		if effectiveParams == nil {
			effectiveParams = fittedParams
		}
		// Summary metrics come from the first combination that yields a
		// backtest, mirroring the run-level sample validation.
		if result.Metrics == nil && metrics != nil {
			result.Metrics = metrics
		}
	}

	if result.Succeeded == 0 {
		runErr = utils.NewInsufficientDataError(string(req.ModelType), model.MinObservations(), 0)
		return nil, runErr
	}

	run := s.assembleRun(req, effectiveParams, result.Metrics)
	for i := range result.Details {
		result.Details[i].ForecastID = run.ID
	}
	result.Run = run

	if result.Metrics != nil && result.Metrics.ExceedsControlLimit(s.cfg.TrackingSignalThreshold) {
		result.ControlDeviation = true
		s.logger.WithFields(logrus.Fields{
			"tenant_id":       req.TenantID,
			"run_id":          run.ID,
			"tracking_signal": result.Metrics.TrackingSignal,
			"threshold":       s.cfg.TrackingSignalThreshold,
		}).Warn("tracking signal outside control limits")
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":    req.TenantID,
		"run_id":       run.ID,
		"model_type":   req.ModelType,
		"granularity":  req.Granularity,
		"periods":      periods,
		"combinations": result.Combinations,
		"succeeded":    result.Succeeded,
		"details":      len(result.Details),
	}).Info("forecast run completed")

	return result, nil
}

// normalize applies defaults and rejects invalid requests before any
// computation begins.
func (s *ForecastService) normalize(req *RunRequest) error {
	if req.TenantID == uuid.Nil {
		return utils.NewConfigurationError("tenant_id", "tenant id is required")
	}
	if !req.ModelType.Valid() {
		return utils.NewConfigurationError("model_type", "unknown model type %q", req.ModelType)
	}
	if req.HorizonDays == 0 && s.cfg.DefaultHorizonDays > 0 {
		req.HorizonDays = s.cfg.DefaultHorizonDays
	}
	if req.HorizonDays <= 0 {
		return utils.NewConfigurationError("forecast_horizon_days", "horizon must be positive, got %d", req.HorizonDays)
	}
	if req.Granularity == "" {
		req.Granularity = models.Granularity(s.cfg.DefaultGranularity)
		if req.Granularity == "" {
			req.Granularity = models.GranularityDaily
		}
	}
	if !req.Granularity.Valid() {
		return utils.NewConfigurationError("time_granularity", "unknown granularity %q", req.Granularity)
	}
	if req.Fill == "" {
		req.Fill = timeseries.FillMethod(s.cfg.GapFill)
		if req.Fill == "" {
			req.Fill = timeseries.FillZero
		}
	}
	if req.Aggregation == "" {
		req.Aggregation = timeseries.AggregationSum
	}
	return nil
}

// resolveParameters merges a referenced model configuration with request
// overrides; request values win.
func (s *ForecastService) resolveParameters(ctx context.Context, req RunRequest) (engine.Parameters, error) {
	merged := engine.Parameters{}
	if req.ModelConfigID != nil {
		if s.modelConfigs == nil {
			return nil, utils.NewConfigurationError("model_config_id", "model configurations are not available")
		}
		mc, err := s.modelConfigs.GetModelConfiguration(ctx, *req.ModelConfigID)
		if err != nil {
			return nil, fmt.Errorf("load model configuration: %w", err)
		}
		if mc.ModelType != req.ModelType {
			return nil, utils.NewConfigurationError("model_config_id",
				"configuration %q is for model %q, requested %q", mc.Name, mc.ModelType, req.ModelType)
		}
		for k, v := range mc.Parameters {
			merged[k] = v
		}
	}
	for k, v := range req.Parameters {
		merged[k] = v
	}
	return merged, nil
}

// combinations resolves the dimension fan-out: an explicit product+location
// pair runs once; otherwise every distinct pair present in the history runs.
func (s *ForecastService) combinations(req RunRequest, observations []models.Observation) []dimensionKey {
	if req.ProductID != "" && req.LocationID != "" {
		return []dimensionKey{{productID: req.ProductID, locationID: req.LocationID}}
	}

	seen := make(map[dimensionKey]struct{})
	var combos []dimensionKey
	for _, obs := range observations {
		key := dimensionKey{productID: obs.ProductID, locationID: obs.LocationID}
		if req.ProductID != "" && key.productID != req.ProductID {
			continue
		}
		if req.LocationID != "" && key.locationID != req.LocationID {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		combos = append(combos, key)
	}
	return combos
}

// runCombination prepares, fits, and forecasts one product/location slice,
// returning its detail rows and any backtest metrics.
func (s *ForecastService) runCombination(
	ctx context.Context,
	req RunRequest,
	model engine.Model,
	observations []models.Observation,
	combo dimensionKey,
	periods int,
) ([]models.ForecastDetail, map[string]interface{}, *stats.Metrics, error) {
	quantitySamples, revenueSamples := s.samplesFor(observations, combo, req.CustomerID)

	series, err := timeseries.Prepare(quantitySamples, timeseries.PrepareOptions{
		Granularity: req.Granularity,
		Aggregation: req.Aggregation,
		Fill:        req.Fill,
		MinPoints:   model.MinObservations(),
		ModelType:   string(req.ModelType),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	fitted, err := model.Fit(series)
	if err != nil {
		return nil, nil, nil, err
	}
	predictions := fitted.Forecast(periods)

	// Revenue is forecast with the same model over the revenue series; a
	// failure there degrades to quantity-only detail rows.
	valuePredictions := s.forecastRevenue(model, revenueSamples, req, periods)

	details := s.assembleDetails(series, predictions, valuePredictions, combo, req)

	metrics := s.validate(ctx, model, series, req)

	return details, fitted.Parameters(), metrics, nil
}

func (s *ForecastService) samplesFor(observations []models.Observation, combo dimensionKey, customerID string) ([]timeseries.Sample, []timeseries.Sample) {
	var quantity, revenue []timeseries.Sample
	for _, obs := range observations {
		if obs.ProductID != combo.productID || obs.LocationID != combo.locationID {
			continue
		}
		if customerID != "" && obs.CustomerID != customerID {
			continue
		}
		q, _ := obs.Quantity.Float64()
		r, _ := obs.Revenue.Float64()
		quantity = append(quantity, timeseries.Sample{Timestamp: obs.SaleDate, Value: q})
		revenue = append(revenue, timeseries.Sample{Timestamp: obs.SaleDate, Value: r})
	}
	return quantity, revenue
}

func (s *ForecastService) forecastRevenue(model engine.Model, samples []timeseries.Sample, req RunRequest, periods int) []engine.Prediction {
	series, err := timeseries.Prepare(samples, timeseries.PrepareOptions{
		Granularity: req.Granularity,
		Aggregation: req.Aggregation,
		Fill:        req.Fill,
		MinPoints:   model.MinObservations(),
		ModelType:   string(req.ModelType),
	})
	if err != nil {
		return nil
	}
	fitted, err := model.Fit(series)
	if err != nil {
		return nil
	}
	return fitted.Forecast(periods)
}

// assembleDetails builds one detail row per forecasted period, with periods
// spaced contiguously after the last prepared period.
func (s *ForecastService) assembleDetails(
	series timeseries.Series,
	predictions []engine.Prediction,
	valuePredictions []engine.Prediction,
	combo dimensionKey,
	req RunRequest,
) []models.ForecastDetail {
	details := make([]models.ForecastDetail, 0, len(predictions))

	periodStart := series[len(series)-1].PeriodStart
	for i, p := range predictions {
		periodStart = req.Granularity.Next(periodStart)
		bounds := engine.Bounds(p.Value, p.ResidualStd)

		detail := models.ForecastDetail{
			ID:                 uuid.New(),
			ForecastDate:       periodStart,
			PeriodStart:        periodStart,
			PeriodEnd:          req.Granularity.PeriodEnd(periodStart),
			ForecastedQuantity: decimal.NewFromFloat(p.Value).Round(4),
			LowerBound80:       decimal.NewFromFloat(bounds.Lower80).Round(4),
			UpperBound80:       decimal.NewFromFloat(bounds.Upper80).Round(4),
			LowerBound95:       decimal.NewFromFloat(bounds.Lower95).Round(4),
			UpperBound95:       decimal.NewFromFloat(bounds.Upper95).Round(4),
		}
		if combo.productID != "" {
			productID := combo.productID
			detail.ProductID = &productID
		}
		if combo.locationID != "" {
			locationID := combo.locationID
			detail.LocationID = &locationID
		}
		if req.CustomerID != "" {
			customerID := req.CustomerID
			detail.CustomerID = &customerID
		}
		if i < len(valuePredictions) {
			value := decimal.NewFromFloat(valuePredictions[i].Value).Round(4)
			detail.ForecastedValue = &value
		}
		details = append(details, detail)
	}
	return details
}

// validate backtests the model on a trailing holdout when enough history
// exists. A MetricsError leaves the run without metrics instead of failing it.
func (s *ForecastService) validate(ctx context.Context, model engine.Model, series timeseries.Series, req RunRequest) *stats.Metrics {
	_, span := telemetry.StartSpan(ctx, "ForecastService.Validate",
		attribute.String("model_type", string(req.ModelType)),
		attribute.Int("series_points", series.Len()),
	)
	defer telemetry.FinishSpan(span, nil)

	if series.Len() <= s.cfg.ValidationMinPoints {
		return nil
	}

	holdout := series.Len() / 4
	if s.cfg.ValidationMaxHoldout > 0 && holdout > s.cfg.ValidationMaxHoldout {
		holdout = s.cfg.ValidationMaxHoldout
	}
	if holdout < 1 {
		return nil
	}

	train, test := series.Split(holdout)
	if train.Len() < model.MinObservations() {
		return nil
	}

	fitted, err := model.Fit(train)
	if err != nil {
		s.logger.WithError(err).WithField("model_type", req.ModelType).Debug("holdout fit failed, skipping metrics")
		return nil
	}

	predictions := fitted.Forecast(test.Len())
	actual := test.Values()
	forecast := make([]float64, len(predictions))
	for i, p := range predictions {
		forecast[i] = p.Value
	}

	metrics, err := stats.Calculate(actual, forecast)
	if err != nil {
		s.logger.WithError(err).WithField("model_type", req.ModelType).Warn("metrics unavailable for run")
		return nil
	}
	return metrics
}

// assembleRun builds the persisted header record.
func (s *ForecastService) assembleRun(req RunRequest, params map[string]interface{}, metrics *stats.Metrics) *models.ForecastRun {
	now := time.Now().UTC()

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s - %s", req.ModelType.DisplayName(), now.Format("2006-01-02 15:04"))
	}

	run := &models.ForecastRun{
		ID:            uuid.New(),
		TenantID:      req.TenantID,
		Name:          name,
		ModelType:     req.ModelType,
		Granularity:   req.Granularity,
		HorizonDays:   req.HorizonDays,
		Status:        models.ForecastStatusDraft,
		Parameters:    params,
		ModelConfigID: req.ModelConfigID,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	run.Metrics = MetricsToModel(metrics)
	return run
}

// MetricsToModel maps engine metrics onto the nullable header columns.
func MetricsToModel(metrics *stats.Metrics) models.AccuracyMetrics {
	if metrics == nil {
		return models.AccuracyMetrics{}
	}
	out := models.AccuracyMetrics{
		MAPE: metrics.MAPE,
		Bias: metrics.Bias,
	}
	mad := metrics.MAD
	rmse := metrics.RMSE
	ts := metrics.TrackingSignal
	out.MAD = &mad
	out.RMSE = &rmse
	out.TrackingSignal = &ts
	return out
}

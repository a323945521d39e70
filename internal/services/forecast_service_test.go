package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/demandcast/internal/config"
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/utils"
)

type stubSource struct {
	observations []models.Observation
	err          error
	lastFilter   SalesFilter
}

func (s *stubSource) GetHistoricalSales(_ context.Context, _ uuid.UUID, filter SalesFilter) ([]models.Observation, error) {
	s.lastFilter = filter
	return s.observations, s.err
}

type stubConfigSource struct {
	config *models.ModelConfiguration
	err    error
}

func (s *stubConfigSource) GetModelConfiguration(_ context.Context, _ uuid.UUID) (*models.ModelConfiguration, error) {
	return s.config, s.err
}

func testForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		DefaultGranularity:      "daily",
		DefaultHorizonDays:      90,
		TrackingSignalThreshold: 4.0,
		ValidationMinPoints:     30,
		ValidationMaxHoldout:    30,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// salesHistory builds daily observations for one product/location pair.
func salesHistory(product, location string, days int, quantity float64) []models.Observation {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := make([]models.Observation, days)
	for i := range observations {
		observations[i] = models.Observation{
			TenantID:   uuid.New(),
			ProductID:  product,
			LocationID: location,
			SaleDate:   start.AddDate(0, 0, i),
			Quantity:   decimal.NewFromFloat(quantity),
			Revenue:    decimal.NewFromFloat(quantity * 10),
		}
	}
	return observations
}

func TestRunProducesDetailRowsAndDraftHeader(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 20, 10)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 7,
		Granularity: models.GranularityDaily,
		ProductID:   "P1",
		LocationID:  "L1",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Run)
	assert.Equal(t, models.ForecastStatusDraft, result.Run.Status)
	assert.Equal(t, models.ModelTypeSMA, result.Run.ModelType)
	assert.Contains(t, result.Run.Name, "Simple Moving Average - ")

	require.Len(t, result.Details, 7)
	for i, d := range result.Details {
		assert.Equal(t, result.Run.ID, d.ForecastID)
		assert.Equal(t, "P1", *d.ProductID)
		assert.Equal(t, "L1", *d.LocationID)
		// Constant history of 10/day forecasts 10 with collapsed bounds.
		assert.True(t, d.ForecastedQuantity.Equal(decimal.NewFromInt(10)), "detail %d quantity %s", i, d.ForecastedQuantity)
		assert.True(t, d.LowerBound95.LessThanOrEqual(d.LowerBound80))
		assert.True(t, d.LowerBound80.LessThanOrEqual(d.ForecastedQuantity))
		assert.True(t, d.ForecastedQuantity.LessThanOrEqual(d.UpperBound80))
		assert.True(t, d.UpperBound80.LessThanOrEqual(d.UpperBound95))
		require.NotNil(t, d.ForecastedValue)
		assert.Nil(t, d.ActualQuantity, "future periods carry no actuals")
	}

	// Detail periods are contiguous daily buckets after the last observed day.
	first := result.Details[0]
	assert.Equal(t, time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC), first.PeriodStart)
	for i := 1; i < len(result.Details); i++ {
		assert.Equal(t, result.Details[i-1].PeriodStart.AddDate(0, 0, 1), result.Details[i].PeriodStart)
	}
}

func TestRunHorizonConversionByGranularity(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 90, 5)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 90,
		Granularity: models.GranularityWeekly,
		ProductID:   "P1",
		LocationID:  "L1",
	})
	require.NoError(t, err)
	assert.Len(t, result.Details, 13, "ceil(90/7) weekly periods")
}

func TestRunAppliesDefaults(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 10, 5)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:  uuid.New(),
		ModelType: models.ModelTypeSMA,
		ProductID: "P1",
		LocationID: "L1",
	})
	require.NoError(t, err)

	assert.Equal(t, 90, result.Run.HorizonDays)
	assert.Equal(t, models.GranularityDaily, result.Run.Granularity)
	assert.Len(t, result.Details, 90)
}

func TestRunConfigurationErrors(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 10, 5)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	var configErr *utils.ConfigurationError

	_, err := svc.Run(context.Background(), RunRequest{
		ModelType: models.ModelTypeSMA,
	})
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "tenant_id", configErr.Field)

	_, err = svc.Run(context.Background(), RunRequest{
		TenantID:  uuid.New(),
		ModelType: "croston",
	})
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "model_type", configErr.Field)

	_, err = svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: -30,
	})
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "forecast_horizon_days", configErr.Field)

	_, err = svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		Granularity: "hourly",
	})
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "time_granularity", configErr.Field)
}

func TestRunParameterValidationPrecedesData(t *testing.T) {
	// An invalid parameter must fail before history is ever fetched.
	source := &stubSource{err: assert.AnError}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	var fitErr *utils.ModelFitError
	_, err := svc.Run(context.Background(), RunRequest{
		TenantID:   uuid.New(),
		ModelType:  models.ModelTypeSMA,
		Parameters: map[string]interface{}{"window": 0},
	})
	require.ErrorAs(t, err, &fitErr)
}

func TestRunInsufficientData(t *testing.T) {
	source := &stubSource{observations: nil}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	var insufficientErr *utils.InsufficientDataError
	_, err := svc.Run(context.Background(), RunRequest{
		TenantID:   uuid.New(),
		ModelType:  models.ModelTypeSMA,
		ProductID:  "P1",
		LocationID: "L1",
	})
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 0, insufficientErr.Available)
}

func TestRunFansOutOverDimensionPairs(t *testing.T) {
	observations := append(
		salesHistory("P1", "L1", 15, 10),
		salesHistory("P2", "L1", 15, 20)...,
	)
	source := &stubSource{observations: observations}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 3,
		Granularity: models.GranularityDaily,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Combinations)
	assert.Equal(t, 2, result.Succeeded)
	assert.Len(t, result.Details, 6, "3 periods per combination")
}

func TestRunCustomerScopedForecast(t *testing.T) {
	// Two customers share the product/location pair; a customer-scoped run
	// pushes the filter to the source and forecasts from that slice only.
	forC1 := salesHistory("P1", "L1", 15, 10)
	forC2 := salesHistory("P1", "L1", 15, 90)
	for i := range forC1 {
		forC1[i].CustomerID = "C1"
	}
	for i := range forC2 {
		forC2[i].CustomerID = "C2"
	}
	source := &stubSource{observations: append(forC1, forC2...)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 3,
		Granularity: models.GranularityDaily,
		ProductID:   "P1",
		LocationID:  "L1",
		CustomerID:  "C1",
	})
	require.NoError(t, err)

	assert.Equal(t, "C1", source.lastFilter.CustomerID)
	require.Len(t, result.Details, 3)
	for _, d := range result.Details {
		require.NotNil(t, d.CustomerID)
		assert.Equal(t, "C1", *d.CustomerID)
		assert.True(t, d.ForecastedQuantity.Equal(decimal.NewFromInt(10)),
			"forecast must come from C1 history only, got %s", d.ForecastedQuantity)
	}
}

func TestRunFanOutSkipsFailingCombination(t *testing.T) {
	// P2/L1 has too little history for the window; the run continues with P1.
	observations := append(
		salesHistory("P1", "L1", 15, 10),
		salesHistory("P2", "L1", 2, 20)...,
	)
	source := &stubSource{observations: observations}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 3,
		Granularity: models.GranularityDaily,
		Parameters:  map[string]interface{}{"window": 5},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Combinations)
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Details, 3)
}

func TestRunSingleCombinationErrorPropagates(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 2, 10)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	var insufficientErr *utils.InsufficientDataError
	_, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		ProductID:   "P1",
		LocationID:  "L1",
		Parameters:  map[string]interface{}{"window": 5},
	})
	require.ErrorAs(t, err, &insufficientErr)
}

func TestRunComputesHoldoutMetricsOnLongHistory(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 60, 10)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 7,
		ProductID:   "P1",
		LocationID:  "L1",
	})
	require.NoError(t, err)

	// Constant history backtests perfectly.
	require.NotNil(t, result.Metrics)
	assert.Zero(t, result.Metrics.MAD)
	require.NotNil(t, result.Run.Metrics.MAD)
	assert.Zero(t, *result.Run.Metrics.MAD)
	assert.False(t, result.ControlDeviation)
}

func TestRunWithoutMetricsOnShortHistory(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 20, 10)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 7,
		ProductID:   "P1",
		LocationID:  "L1",
	})
	require.NoError(t, err)

	assert.Nil(t, result.Metrics, "20 points is below the validation threshold")
	assert.Nil(t, result.Run.Metrics.MAD, "the run still persists without metrics")
}

func TestRunModelConfigurationMerge(t *testing.T) {
	configID := uuid.New()
	configs := &stubConfigSource{config: &models.ModelConfiguration{
		ID:         configID,
		ModelType:  models.ModelTypeSMA,
		Name:       "wide-window",
		Parameters: map[string]interface{}{"window": float64(5)},
	}}
	source := &stubSource{observations: salesHistory("P1", "L1", 20, 10)}
	svc := NewForecastService(source, configs, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:      uuid.New(),
		ModelType:     models.ModelTypeSMA,
		HorizonDays:   3,
		ProductID:     "P1",
		LocationID:    "L1",
		ModelConfigID: &configID,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Run.Parameters["window"])
	assert.Equal(t, &configID, result.Run.ModelConfigID)
}

func TestRunModelConfigurationTypeMismatch(t *testing.T) {
	configID := uuid.New()
	configs := &stubConfigSource{config: &models.ModelConfiguration{
		ID:        configID,
		ModelType: models.ModelTypeARIMA,
		Name:      "arima-default",
	}}
	source := &stubSource{observations: salesHistory("P1", "L1", 20, 10)}
	svc := NewForecastService(source, configs, testForecastConfig(), quietLogger())

	var configErr *utils.ConfigurationError
	_, err := svc.Run(context.Background(), RunRequest{
		TenantID:      uuid.New(),
		ModelType:     models.ModelTypeSMA,
		ProductID:     "P1",
		LocationID:    "L1",
		ModelConfigID: &configID,
	})
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "model_config_id", configErr.Field)
}

func TestRunRequestParametersOverrideConfiguration(t *testing.T) {
	configID := uuid.New()
	configs := &stubConfigSource{config: &models.ModelConfiguration{
		ID:         configID,
		ModelType:  models.ModelTypeSMA,
		Parameters: map[string]interface{}{"window": float64(5)},
	}}
	source := &stubSource{observations: salesHistory("P1", "L1", 20, 10)}
	svc := NewForecastService(source, configs, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:      uuid.New(),
		ModelType:     models.ModelTypeSMA,
		HorizonDays:   3,
		ProductID:     "P1",
		LocationID:    "L1",
		ModelConfigID: &configID,
		Parameters:    map[string]interface{}{"window": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Run.Parameters["window"], "request parameters win the merge")
}

func TestRunCustomName(t *testing.T) {
	source := &stubSource{observations: salesHistory("P1", "L1", 10, 5)}
	svc := NewForecastService(source, nil, testForecastConfig(), quietLogger())

	result, err := svc.Run(context.Background(), RunRequest{
		TenantID:    uuid.New(),
		ModelType:   models.ModelTypeSMA,
		HorizonDays: 3,
		ProductID:   "P1",
		LocationID:  "L1",
		Name:        "Q3 replenishment",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3 replenishment", result.Run.Name)
}

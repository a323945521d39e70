package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/utils"
)

func strPtr(s string) *string { return &s }

func detailRow(date time.Time, product string, forecast float64) models.ForecastDetail {
	return models.ForecastDetail{
		ID:                 uuid.New(),
		ForecastID:         uuid.New(),
		ProductID:          strPtr(product),
		ForecastDate:       date,
		ForecastedQuantity: decimal.NewFromFloat(forecast),
	}
}

func TestApplyActualsMatchesByDateAndDimensions(t *testing.T) {
	day1 := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	details := []models.ForecastDetail{
		detailRow(day1, "P1", 100),
		detailRow(day1, "P2", 50),
		detailRow(day2, "P1", 110),
	}

	updated := ApplyActuals(details, []RecordedActual{
		{ForecastDate: day1, ProductID: "P1", Quantity: decimal.NewFromInt(90)},
		{ForecastDate: day2, ProductID: "P1", Quantity: decimal.NewFromInt(120)},
	})

	assert.Equal(t, 2, updated)

	require.NotNil(t, details[0].ActualQuantity)
	assert.True(t, details[0].ActualQuantity.Equal(decimal.NewFromInt(90)))
	require.NotNil(t, details[0].QuantityVariance)
	assert.True(t, details[0].QuantityVariance.Equal(decimal.NewFromInt(-10)), "variance is actual minus forecast")

	assert.Nil(t, details[1].ActualQuantity, "P2 had no matching actual")

	require.NotNil(t, details[2].QuantityVariance)
	assert.True(t, details[2].QuantityVariance.Equal(decimal.NewFromInt(10)))
}

func TestApplyActualsRecordsValueVariance(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	forecastValue := decimal.NewFromInt(1000)
	detail := detailRow(day, "P1", 100)
	detail.ForecastedValue = &forecastValue
	details := []models.ForecastDetail{detail}

	actualValue := decimal.NewFromInt(950)
	updated := ApplyActuals(details, []RecordedActual{{
		ForecastDate: day,
		ProductID:    "P1",
		Quantity:     decimal.NewFromInt(95),
		Value:        &actualValue,
	}})

	assert.Equal(t, 1, updated)
	require.NotNil(t, details[0].ValueVariance)
	assert.True(t, details[0].ValueVariance.Equal(decimal.NewFromInt(-50)))
}

func TestApplyActualsIgnoresMismatchedDimensions(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	details := []models.ForecastDetail{detailRow(day, "P1", 100)}

	updated := ApplyActuals(details, []RecordedActual{
		{ForecastDate: day, ProductID: "P2", Quantity: decimal.NewFromInt(90)},
		{ForecastDate: day.AddDate(0, 0, 5), ProductID: "P1", Quantity: decimal.NewFromInt(90)},
	})

	assert.Zero(t, updated)
	assert.Nil(t, details[0].ActualQuantity)
}

func TestRecomputeMetricsFromRecordedActuals(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	details := []models.ForecastDetail{
		detailRow(day, "P1", 100),
		detailRow(day.AddDate(0, 0, 1), "P1", 200),
		detailRow(day.AddDate(0, 0, 2), "P1", 300), // no actual yet
	}
	ApplyActuals(details, []RecordedActual{
		{ForecastDate: day, ProductID: "P1", Quantity: decimal.NewFromInt(110)},
		{ForecastDate: day.AddDate(0, 0, 1), ProductID: "P1", Quantity: decimal.NewFromInt(180)},
	})

	metrics, err := RecomputeMetrics(details)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.Pairs, "rows without actuals are excluded")
	assert.InDelta(t, 15, metrics.MAD, 1e-9)

	// Feeding the same details back produces identical metrics.
	again, err := RecomputeMetrics(details)
	require.NoError(t, err)
	assert.Equal(t, metrics, again)
}

func TestRecomputeMetricsNoActuals(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	details := []models.ForecastDetail{detailRow(day, "P1", 100)}

	_, err := RecomputeMetrics(details)
	var metricsErr *utils.MetricsError
	require.ErrorAs(t, err, &metricsErr)
}

func TestNewAdjustmentPreservesOriginal(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	detail := detailRow(day, "P1", 100)
	userID := uuid.New()

	adj, err := NewAdjustment(&detail, decimal.NewFromInt(130), "promo uplift", userID)
	require.NoError(t, err)

	assert.Equal(t, detail.ID, adj.DetailID)
	assert.True(t, adj.OriginalQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, adj.AdjustedQuantity.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, userID, adj.AdjustedBy)
	// The detail row itself is untouched; adjustments are an overlay.
	assert.True(t, detail.ForecastedQuantity.Equal(decimal.NewFromInt(100)))
}

func TestNewAdjustmentValidation(t *testing.T) {
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	detail := detailRow(day, "P1", 100)
	var configErr *utils.ConfigurationError

	_, err := NewAdjustment(nil, decimal.NewFromInt(1), "r", uuid.New())
	require.ErrorAs(t, err, &configErr)

	_, err = NewAdjustment(&detail, decimal.NewFromInt(1), "", uuid.New())
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "reason", configErr.Field)

	_, err = NewAdjustment(&detail, decimal.NewFromInt(1), "r", uuid.Nil)
	require.ErrorAs(t, err, &configErr)
}

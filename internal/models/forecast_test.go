package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestModelTypeValid(t *testing.T) {
	valid := []ModelType{
		ModelTypeSMA, ModelTypeWMA, ModelTypeExpSmoothing,
		ModelTypeHoltWinters, ModelTypeARIMA, ModelTypeProphet,
	}
	for _, m := range valid {
		assert.True(t, m.Valid(), "expected %q to be valid", m)
	}

	assert.False(t, ModelType("").Valid())
	assert.False(t, ModelType("linear-regression").Valid())
	assert.False(t, ModelType("SMA").Valid(), "model codes are case-sensitive")
}

func TestModelTypeDisplayName(t *testing.T) {
	assert.Equal(t, "Simple Moving Average", ModelTypeSMA.DisplayName())
	assert.Equal(t, "Holt-Winters", ModelTypeHoltWinters.DisplayName())
	assert.Equal(t, "ARIMA", ModelTypeARIMA.DisplayName())
	// Unknown codes fall through to the raw string.
	assert.Equal(t, "mystery", ModelType("mystery").DisplayName())
}

func TestForecastStatusTransitions(t *testing.T) {
	tests := []struct {
		from    ForecastStatus
		to      ForecastStatus
		allowed bool
	}{
		{ForecastStatusDraft, ForecastStatusApproved, true},
		{ForecastStatusDraft, ForecastStatusArchived, true},
		{ForecastStatusApproved, ForecastStatusArchived, true},
		{ForecastStatusApproved, ForecastStatusDraft, false},
		{ForecastStatusArchived, ForecastStatusDraft, false},
		{ForecastStatusArchived, ForecastStatusApproved, false},
		{ForecastStatusDraft, ForecastStatusDraft, false},
	}
	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestForecastStatusValid(t *testing.T) {
	assert.True(t, ForecastStatusDraft.Valid())
	assert.True(t, ForecastStatusApproved.Valid())
	assert.True(t, ForecastStatusArchived.Valid())
	assert.False(t, ForecastStatus("pending").Valid())
}

func TestNewModelConfiguration(t *testing.T) {
	tenantID := uuid.New()
	params := map[string]interface{}{"alpha": 0.5}

	mc := NewModelConfiguration(tenantID, "fast-smoothing", ModelTypeExpSmoothing, params)

	assert.NotEqual(t, uuid.Nil, mc.ID)
	assert.Equal(t, tenantID, mc.TenantID)
	assert.Equal(t, "fast-smoothing", mc.Name)
	assert.Equal(t, ModelTypeExpSmoothing, mc.ModelType)
	assert.Equal(t, params, mc.Parameters)
	assert.Nil(t, mc.AvgMAPE, "a fresh configuration has no accuracy history")
	assert.Zero(t, mc.RunCount)
	assert.Equal(t, mc.CreatedAt, mc.UpdatedAt)
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ModelType identifies one of the supported forecasting models.
type ModelType string

const (
	ModelTypeSMA          ModelType = "sma"
	ModelTypeWMA          ModelType = "wma"
	ModelTypeExpSmoothing ModelType = "exp-smoothing"
	ModelTypeHoltWinters  ModelType = "holt-winters"
	ModelTypeARIMA        ModelType = "arima"
	ModelTypeProphet      ModelType = "prophet"
)

// Valid reports whether the model type is one of the supported codes.
func (m ModelType) Valid() bool {
	switch m {
	case ModelTypeSMA, ModelTypeWMA, ModelTypeExpSmoothing,
		ModelTypeHoltWinters, ModelTypeARIMA, ModelTypeProphet:
		return true
	}
	return false
}

// DisplayName returns the human-readable model name used in forecast names.
func (m ModelType) DisplayName() string {
	switch m {
	case ModelTypeSMA:
		return "Simple Moving Average"
	case ModelTypeWMA:
		return "Weighted Moving Average"
	case ModelTypeExpSmoothing:
		return "Exponential Smoothing"
	case ModelTypeHoltWinters:
		return "Holt-Winters"
	case ModelTypeARIMA:
		return "ARIMA"
	case ModelTypeProphet:
		return "Prophet"
	}
	return string(m)
}

// ForecastStatus represents the lifecycle state of a forecast run.
type ForecastStatus string

const (
	ForecastStatusDraft    ForecastStatus = "draft"
	ForecastStatusApproved ForecastStatus = "approved"
	ForecastStatusArchived ForecastStatus = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s ForecastStatus) Valid() bool {
	switch s {
	case ForecastStatusDraft, ForecastStatusApproved, ForecastStatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status transition is allowed.
// Runs move draft -> approved -> archived; draft may be archived directly.
func (s ForecastStatus) CanTransitionTo(target ForecastStatus) bool {
	switch s {
	case ForecastStatusDraft:
		return target == ForecastStatusApproved || target == ForecastStatusArchived
	case ForecastStatusApproved:
		return target == ForecastStatusArchived
	}
	return false
}

// AccuracyMetrics holds the five summary accuracy measures for a run.
// All fields are nullable: a run persists without metrics when no
// actual/forecast pairs were available.
type AccuracyMetrics struct {
	MAPE           *float64 `json:"mape,omitempty" db:"mape"`
	MAD            *float64 `json:"mad,omitempty" db:"mad"`
	RMSE           *float64 `json:"rmse,omitempty" db:"rmse"`
	Bias           *float64 `json:"bias,omitempty" db:"bias"`
	TrackingSignal *float64 `json:"tracking_signal,omitempty" db:"tracking_signal"`
}

// ForecastRun is the persisted forecast header. One row per engine invocation.
type ForecastRun struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	TenantID      uuid.UUID              `json:"tenant_id" db:"tenant_id"`
	Name          string                 `json:"forecast_name" db:"forecast_name"`
	ModelType     ModelType              `json:"model_type" db:"model_type"`
	Granularity   Granularity            `json:"time_granularity" db:"time_granularity"`
	HorizonDays   int                    `json:"forecast_horizon_days" db:"forecast_horizon_days"`
	Status        ForecastStatus         `json:"status" db:"status"`
	Parameters    map[string]interface{} `json:"model_parameters" db:"model_parameters"`
	Metrics       AccuracyMetrics        `json:"metrics"`
	ModelConfigID *uuid.UUID             `json:"model_config_id,omitempty" db:"model_config_id"`
	CreatedBy     *uuid.UUID             `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// ForecastDetail is a single forecasted period for one dimension combination.
// Actual and variance fields stay nil until the period elapses and actuals
// are recorded.
type ForecastDetail struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	ForecastID         uuid.UUID        `json:"forecast_id" db:"forecast_id"`
	ProductID          *string          `json:"product_id,omitempty" db:"product_id"`
	LocationID         *string          `json:"location_id,omitempty" db:"location_id"`
	CustomerID         *string          `json:"customer_id,omitempty" db:"customer_id"`
	ForecastDate       time.Time        `json:"forecast_date" db:"forecast_date"`
	PeriodStart        time.Time        `json:"period_start" db:"period_start"`
	PeriodEnd          time.Time        `json:"period_end" db:"period_end"`
	ForecastedQuantity decimal.Decimal  `json:"forecasted_quantity" db:"forecasted_quantity"`
	ForecastedValue    *decimal.Decimal `json:"forecasted_value,omitempty" db:"forecasted_value"`
	LowerBound80       decimal.Decimal  `json:"lower_bound_80" db:"lower_bound_80"`
	UpperBound80       decimal.Decimal  `json:"upper_bound_80" db:"upper_bound_80"`
	LowerBound95       decimal.Decimal  `json:"lower_bound_95" db:"lower_bound_95"`
	UpperBound95       decimal.Decimal  `json:"upper_bound_95" db:"upper_bound_95"`
	ActualQuantity     *decimal.Decimal `json:"actual_quantity,omitempty" db:"actual_quantity"`
	ActualValue        *decimal.Decimal `json:"actual_value,omitempty" db:"actual_value"`
	QuantityVariance   *decimal.Decimal `json:"quantity_variance,omitempty" db:"quantity_variance"`
	ValueVariance      *decimal.Decimal `json:"value_variance,omitempty" db:"value_variance"`
}

// ModelConfiguration is a named, reusable parameter set for one model type.
// Rolling accuracy is updated after every metric-bearing run that used it.
type ModelConfiguration struct {
	ID          uuid.UUID              `json:"id" db:"id"`
	TenantID    uuid.UUID              `json:"tenant_id" db:"tenant_id"`
	Name        string                 `json:"name" db:"name"`
	ModelType   ModelType              `json:"model_type" db:"model_type"`
	Parameters  map[string]interface{} `json:"parameters" db:"parameters"`
	AvgMAPE     *float64               `json:"avg_mape,omitempty" db:"avg_mape"`
	RunCount    int                    `json:"run_count" db:"run_count"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// NewModelConfiguration builds a fresh configuration with zeroed accuracy.
func NewModelConfiguration(tenantID uuid.UUID, name string, modelType ModelType, parameters map[string]interface{}) *ModelConfiguration {
	now := time.Now().UTC()
	return &ModelConfiguration{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       name,
		ModelType:  modelType,
		Parameters: parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Adjustment is an audited manual override of a detail row's forecast.
// Rows are append-only; the original forecasted quantity is never mutated.
type Adjustment struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	DetailID         uuid.UUID       `json:"detail_id" db:"detail_id"`
	OriginalQuantity decimal.Decimal `json:"original_quantity" db:"original_quantity"`
	AdjustedQuantity decimal.Decimal `json:"adjusted_quantity" db:"adjusted_quantity"`
	Reason           string          `json:"reason" db:"reason"`
	AdjustedBy       uuid.UUID       `json:"adjusted_by" db:"adjusted_by"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

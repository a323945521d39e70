// Package engine implements the forecasting models behind a uniform
// fit/forecast contract, the confidence interval estimator, and the model
// factory dispatch.
package engine

import (
	"fmt"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

// Prediction is one horizon step produced by a fitted model: the point
// estimate and the model's own uncertainty estimate at that step.
type Prediction struct {
	Step        int     `json:"step"`
	Value       float64 `json:"value"`
	ResidualStd float64 `json:"residual_std"`
}

// Model is the shared contract for all six forecasting models. Construction
// validates parameters; Fit validates the series and returns an immutable
// fitted state.
type Model interface {
	Type() models.ModelType
	// MinObservations is the minimum prepared series length the model can fit.
	MinObservations() int
	Fit(series timeseries.Series) (Fitted, error)
}

// Fitted is an immutable fitted model state. Forecast is pure: calling it
// repeatedly with the same horizon yields identical predictions, and a zero
// horizon yields an empty sequence.
type Fitted interface {
	Forecast(periods int) []Prediction
	// Parameters returns the effective parameter set, persisted on the run
	// header.
	Parameters() map[string]interface{}
}

// New constructs the requested model with the given parameter overrides.
// Unknown model types are a ConfigurationError; invalid parameter values are
// a ModelFitError raised before any series is touched.
func New(modelType models.ModelType, granularity models.Granularity, params Parameters) (Model, error) {
	switch modelType {
	case models.ModelTypeSMA:
		return newSMA(params)
	case models.ModelTypeWMA:
		return newWMA(params)
	case models.ModelTypeExpSmoothing:
		return newExpSmoothing(params)
	case models.ModelTypeHoltWinters:
		return newHoltWinters(granularity, params)
	case models.ModelTypeARIMA:
		return newARIMA(params)
	case models.ModelTypeProphet:
		return newProphet(granularity, params)
	}
	return nil, utils.NewConfigurationError("model_type", "unknown model type %q", modelType)
}

// validateSeries applies the shared fit preconditions: enough points and no
// non-numeric values. Imputation happens only in series preparation, never
// inside a model.
func validateSeries(m Model, series timeseries.Series) error {
	if series.Len() < m.MinObservations() {
		return utils.NewInsufficientDataError(string(m.Type()), m.MinObservations(), series.Len())
	}
	if series.HasInvalidValues() {
		return utils.NewModelFitError(string(m.Type()), "", "series contains non-numeric values")
	}
	return nil
}

// Parameters is a free-form model parameter map with typed accessors.
// Numeric values arrive as float64 when decoded from JSON, so the accessors
// accept both int and float64 representations.
type Parameters map[string]interface{}

// Int returns the named integer parameter or def when absent.
func (p Parameters) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("parameter %q must be an integer, got %T", key, raw)
}

// Float returns the named float parameter or def when absent.
func (p Parameters) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
}

// Floats returns the named float slice parameter or nil when absent.
func (p Parameters) Floats(key string) ([]float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, item := range v {
			switch n := item.(type) {
			case int:
				out[i] = float64(n)
			case float64:
				out[i] = n
			default:
				return nil, fmt.Errorf("parameter %q must be a list of numbers, got %T at index %d", key, item, i)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("parameter %q must be a list of numbers, got %T", key, raw)
}

// String returns the named string parameter or def when absent.
func (p Parameters) String(key, def string) (string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
}

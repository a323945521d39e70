package utils

import "fmt"

// InsufficientDataError indicates the prepared series has fewer points than
// the target model requires. The caller can recover by supplying more history
// or choosing a shorter horizon.
type InsufficientDataError struct {
	ModelType string
	Required  int
	Available int
}

// Error returns the error message string.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least %d points, have %d",
		e.ModelType, e.Required, e.Available)
}

// NewInsufficientDataError creates an InsufficientDataError for a model type.
func NewInsufficientDataError(modelType string, required, available int) error {
	return &InsufficientDataError{ModelType: modelType, Required: required, Available: available}
}

// ModelFitError indicates invalid model parameters or a degenerate series.
// It names the offending parameter so the caller can act without re-deriving
// state. Fit errors are never retried.
type ModelFitError struct {
	ModelType string
	Parameter string
	Message   string
}

// Error returns the error message string.
func (e *ModelFitError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s fit failed: parameter %q: %s", e.ModelType, e.Parameter, e.Message)
	}
	return fmt.Sprintf("%s fit failed: %s", e.ModelType, e.Message)
}

// NewModelFitError creates a ModelFitError with a formatted message.
func NewModelFitError(modelType, parameter, format string, args ...interface{}) error {
	return &ModelFitError{
		ModelType: modelType,
		Parameter: parameter,
		Message:   fmt.Sprintf(format, args...),
	}
}

// MetricsError indicates no valid actual/forecast pairs remained after
// exclusions. The run still persists its forecasts without metrics.
type MetricsError struct {
	Message string
}

// Error returns the error message string.
func (e *MetricsError) Error() string {
	return e.Message
}

// NewMetricsError creates a MetricsError with a formatted message.
func NewMetricsError(format string, args ...interface{}) error {
	return &MetricsError{Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError indicates an invalid run request: unknown model type,
// non-positive horizon, or invalid granularity. Rejected before any
// computation begins.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error returns the error message string.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError with a formatted message.
func NewConfigurationError(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

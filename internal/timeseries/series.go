// Package timeseries provides the prepared series representation consumed by
// the forecasting models, and the preparation step that builds it from raw
// sales observations.
package timeseries

import (
	"math"
	"time"
)

// Point is one aggregated period of a prepared series.
type Point struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Value       float64   `json:"value"`
}

// Series is an ordered, contiguous, gap-free sequence of period points.
type Series []Point

// Len returns the number of points in the series.
func (s Series) Len() int {
	return len(s)
}

// Values returns the point values in period order.
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// Last returns the trailing n points. If n exceeds the series length the
// whole series is returned.
func (s Series) Last(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Mean returns the arithmetic mean of the series values.
func (s Series) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range s {
		sum += p.Value
	}
	return sum / float64(len(s))
}

// Std returns the sample standard deviation of the series values.
func (s Series) Std() float64 {
	if len(s) < 2 {
		return 0
	}
	mean := s.Mean()
	sumSq := 0.0
	for _, p := range s {
		diff := p.Value - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(s)-1))
}

// HasInvalidValues reports whether any point carries a NaN or infinite value.
// Models fail fast on such series instead of imputing.
func (s Series) HasInvalidValues() bool {
	for _, p := range s {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return true
		}
	}
	return false
}

// Split returns the leading train portion and trailing holdout portion of the
// series, used for backtest validation.
func (s Series) Split(holdout int) (Series, Series) {
	if holdout <= 0 || holdout >= len(s) {
		return s, nil
	}
	return s[:len(s)-holdout], s[len(s)-holdout:]
}

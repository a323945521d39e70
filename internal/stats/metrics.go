// Package stats provides forecast accuracy metrics and the shared numeric
// helpers used by the model implementations.
package stats

import (
	"math"

	"github.com/irfndi/demandcast/internal/utils"
)

// Metrics holds the five accuracy measures computed from aligned
// actual/forecast pairs. MAPE is nil when every period had a zero actual;
// Bias is nil when the mean actual is zero.
type Metrics struct {
	MAPE           *float64 `json:"mape,omitempty"`
	MAD            float64  `json:"mad"`
	RMSE           float64  `json:"rmse"`
	Bias           *float64 `json:"bias,omitempty"`
	TrackingSignal float64  `json:"tracking_signal"`
	// Pairs is the number of actual/forecast pairs evaluated.
	Pairs int `json:"pairs"`
	// SkippedZeroActuals counts periods excluded from MAPE because the
	// actual was zero.
	SkippedZeroActuals int `json:"skipped_zero_actuals"`
}

// Calculate computes accuracy metrics over aligned actual/forecast pairs.
// Pairs where either side is NaN are dropped. Returns a MetricsError when no
// valid pairs remain.
func Calculate(actual, forecast []float64) (*Metrics, error) {
	if len(actual) != len(forecast) {
		return nil, utils.NewMetricsError("actual and forecast lengths differ: %d vs %d", len(actual), len(forecast))
	}

	var (
		sumAbsErr  float64
		sumSqErr   float64
		sumErr     float64
		sumActual  float64
		sumAPE     float64
		apeCount   int
		skipped    int
		pairs      int
	)

	for i := range actual {
		a, f := actual[i], forecast[i]
		if math.IsNaN(a) || math.IsNaN(f) {
			continue
		}
		pairs++
		err := a - f
		sumErr += err
		sumAbsErr += math.Abs(err)
		sumSqErr += err * err
		sumActual += a

		if a == 0 {
			skipped++
			continue
		}
		sumAPE += math.Abs(err) / math.Abs(a)
		apeCount++
	}

	if pairs == 0 {
		return nil, utils.NewMetricsError("no valid actual/forecast pairs")
	}

	n := float64(pairs)
	m := &Metrics{
		MAD:                sumAbsErr / n,
		RMSE:               math.Sqrt(sumSqErr / n),
		Pairs:              pairs,
		SkippedZeroActuals: skipped,
	}

	if apeCount > 0 {
		mape := sumAPE / float64(apeCount) * 100
		m.MAPE = &mape
	}

	// Bias is signed and normalized by the mean actual; positive means
	// under-forecasting.
	if meanActual := sumActual / n; meanActual != 0 {
		bias := (sumErr / n) / meanActual * 100
		m.Bias = &bias
	}

	// Tracking signal: cumulative error over MAD, a single scalar at the most
	// recent period.
	if m.MAD != 0 {
		m.TrackingSignal = sumErr / m.MAD
	}

	return m, nil
}

// ExceedsControlLimit reports whether the tracking signal is outside the
// +/- threshold band, signalling statistical control deviation. Exceedance is
// surfaced to the caller, never auto-corrected.
func (m *Metrics) ExceedsControlLimit(threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return math.Abs(m.TrackingSignal) > threshold
}

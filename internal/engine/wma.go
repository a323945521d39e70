package engine

import (
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

// wmaModel forecasts a weighted mean of the last window periods. Weights are
// normalized to sum to 1; by convention the last weight applies to the most
// recent period.
type wmaModel struct {
	window  int
	weights []float64
}

func newWMA(params Parameters) (Model, error) {
	window, err := params.Int("window", defaultSMAWindow)
	if err != nil {
		return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "window", "%v", err)
	}
	if window <= 0 {
		return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "window", "window must be positive, got %d", window)
	}

	weights, err := params.Floats("weights")
	if err != nil {
		return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "weights", "%v", err)
	}
	if weights == nil {
		// Linear weights, most recent period highest.
		weights = make([]float64, window)
		for i := range weights {
			weights[i] = float64(i + 1)
		}
	}
	if len(weights) != window {
		return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "weights",
			"weight count %d does not match window size %d", len(weights), window)
	}

	sum := 0.0
	for i, w := range weights {
		if w < 0 {
			return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "weights",
				"weights must be non-negative, got %v at index %d", w, i)
		}
		sum += w
	}
	if sum == 0 {
		return nil, utils.NewModelFitError(string(models.ModelTypeWMA), "weights", "weights sum to zero")
	}
	normalized := make([]float64, window)
	for i, w := range weights {
		normalized[i] = w / sum
	}

	return &wmaModel{window: window, weights: normalized}, nil
}

func (m *wmaModel) Type() models.ModelType { return models.ModelTypeWMA }

func (m *wmaModel) MinObservations() int { return m.window }

func (m *wmaModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	values := series.Values()
	point := m.weightedMean(values[len(values)-m.window:])

	residualStd := m.backtestStd(values)
	if residualStd == 0 {
		residualStd = series.Std()
	}

	return &flatFitted{
		modelType:   models.ModelTypeWMA,
		value:       point,
		residualStd: residualStd,
		params: map[string]interface{}{
			"window":  m.window,
			"weights": m.weights,
		},
	}, nil
}

func (m *wmaModel) weightedMean(window []float64) float64 {
	sum := 0.0
	for i, v := range window {
		sum += v * m.weights[i]
	}
	return sum
}

// backtestStd runs a rolling one-step-ahead backtest with the weighted mean.
func (m *wmaModel) backtestStd(values []float64) float64 {
	if len(values) <= m.window {
		return 0
	}
	residuals := make([]float64, 0, len(values)-m.window)
	for t := m.window; t < len(values); t++ {
		pred := m.weightedMean(values[t-m.window : t])
		residuals = append(residuals, values[t]-pred)
	}
	return stats.SampleStd(residuals)
}

package engine

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

const defaultSMAWindow = 3

// smaModel forecasts the unweighted mean of the last window periods. The
// forecast is flat across the horizon.
type smaModel struct {
	window int
}

func newSMA(params Parameters) (Model, error) {
	window, err := params.Int("window", defaultSMAWindow)
	if err != nil {
		return nil, utils.NewModelFitError(string(models.ModelTypeSMA), "window", "%v", err)
	}
	if window <= 0 {
		return nil, utils.NewModelFitError(string(models.ModelTypeSMA), "window", "window must be positive, got %d", window)
	}
	return &smaModel{window: window}, nil
}

func (m *smaModel) Type() models.ModelType { return models.ModelTypeSMA }

func (m *smaModel) MinObservations() int { return m.window }

func (m *smaModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	values := series.Values()
	point := stats.Mean(values[len(values)-m.window:])

	residualStd := rollingMeanBacktestStd(values, m.window)
	if residualStd == 0 {
		residualStd = series.Std()
	}

	return &flatFitted{
		modelType:   models.ModelTypeSMA,
		value:       point,
		residualStd: residualStd,
		params:      map[string]interface{}{"window": m.window},
	}, nil
}

// rollingMeanBacktestStd runs a rolling one-step-ahead backtest: each point is
// predicted by the mean of the preceding window, and the sample standard
// deviation of those errors estimates forecast uncertainty.
func rollingMeanBacktestStd(values []float64, window int) float64 {
	if len(values) <= window {
		return 0
	}

	sma := trend.NewSmaWithPeriod[float64](window)
	means := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))

	// means[i] is the mean of values[i .. i+window-1], so the one-step-ahead
	// prediction for values[t] is means[t-window].
	residuals := make([]float64, 0, len(values)-window)
	for t := window; t < len(values); t++ {
		if t-window >= len(means) {
			break
		}
		residuals = append(residuals, values[t]-means[t-window])
	}
	return stats.SampleStd(residuals)
}

// flatFitted is the fitted state shared by the moving-average family: a single
// point estimate repeated across every horizon step.
type flatFitted struct {
	modelType   models.ModelType
	value       float64
	residualStd float64
	params      map[string]interface{}
}

func (f *flatFitted) Forecast(periods int) []Prediction {
	if periods <= 0 {
		return nil
	}
	predictions := make([]Prediction, periods)
	for i := range predictions {
		predictions[i] = Prediction{Step: i + 1, Value: f.value, ResidualStd: f.residualStd}
	}
	return predictions
}

func (f *flatFitted) Parameters() map[string]interface{} { return f.params }

package engine

import (
	"math"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

// Seasonality modes for Holt-Winters.
const (
	SeasonalAdditive       = "additive"
	SeasonalMultiplicative = "multiplicative"
)

const (
	defaultHWAlpha = 0.2
	defaultHWBeta  = 0.1
	defaultHWGamma = 0.1
)

// holtWintersModel is triple exponential smoothing with level, trend, and
// seasonal components:
//
//	level_t    = alpha*(y_t - s_{t-m}) + (1-alpha)*(level_{t-1} + trend_{t-1})
//	trend_t    = beta*(level_t - level_{t-1}) + (1-beta)*trend_{t-1}
//	seasonal_t = gamma*(y_t - level_t) + (1-gamma)*s_{t-m}
//
// with the multiplicative variant dividing instead of subtracting.
type holtWintersModel struct {
	alpha           float64
	beta            float64
	gamma           float64
	seasonalPeriods int
	seasonalType    string
}

func newHoltWinters(granularity models.Granularity, params Parameters) (Model, error) {
	const name = string(models.ModelTypeHoltWinters)

	alpha, err := params.Float("alpha", defaultHWAlpha)
	if err != nil {
		return nil, utils.NewModelFitError(name, "alpha", "%v", err)
	}
	beta, err := params.Float("beta", defaultHWBeta)
	if err != nil {
		return nil, utils.NewModelFitError(name, "beta", "%v", err)
	}
	gamma, err := params.Float("gamma", defaultHWGamma)
	if err != nil {
		return nil, utils.NewModelFitError(name, "gamma", "%v", err)
	}
	for _, p := range []struct {
		key   string
		value float64
	}{{"alpha", alpha}, {"beta", beta}, {"gamma", gamma}} {
		if p.value <= 0 || p.value > 1 {
			return nil, utils.NewModelFitError(name, p.key, "%s must be in (0,1], got %v", p.key, p.value)
		}
	}

	seasonalPeriods, err := params.Int("seasonal_periods", defaultSeasonalPeriods(granularity))
	if err != nil {
		return nil, utils.NewModelFitError(name, "seasonal_periods", "%v", err)
	}
	if seasonalPeriods < 2 {
		return nil, utils.NewModelFitError(name, "seasonal_periods",
			"seasonal period must be at least 2, got %d", seasonalPeriods)
	}

	seasonalType, err := params.String("seasonal", SeasonalAdditive)
	if err != nil {
		return nil, utils.NewModelFitError(name, "seasonal", "%v", err)
	}
	if seasonalType != SeasonalAdditive && seasonalType != SeasonalMultiplicative {
		return nil, utils.NewModelFitError(name, "seasonal",
			"seasonal must be %q or %q, got %q", SeasonalAdditive, SeasonalMultiplicative, seasonalType)
	}

	return &holtWintersModel{
		alpha:           alpha,
		beta:            beta,
		gamma:           gamma,
		seasonalPeriods: seasonalPeriods,
		seasonalType:    seasonalType,
	}, nil
}

// defaultSeasonalPeriods mirrors the conventional cycle length per
// granularity: 12 for monthly, 4 for quarterly, 7 otherwise.
func defaultSeasonalPeriods(granularity models.Granularity) int {
	switch granularity {
	case models.GranularityMonthly:
		return 12
	case models.GranularityQuarterly:
		return 4
	default:
		return 7
	}
}

func (m *holtWintersModel) Type() models.ModelType { return models.ModelTypeHoltWinters }

// MinObservations requires two full seasonal cycles.
func (m *holtWintersModel) MinObservations() int { return 2 * m.seasonalPeriods }

func (m *holtWintersModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	values := series.Values()
	if m.seasonalType == SeasonalMultiplicative {
		for _, v := range values {
			if v <= 0 {
				return nil, utils.NewModelFitError(string(models.ModelTypeHoltWinters), "seasonal",
					"multiplicative seasonality requires strictly positive values")
			}
		}
	}

	level, trend, seasonals := m.initialize(values)

	sp := m.seasonalPeriods
	residuals := make([]float64, 0, len(values)-sp)
	for t := sp; t < len(values); t++ {
		idx := t % sp

		var predicted float64
		if m.seasonalType == SeasonalAdditive {
			predicted = level + trend + seasonals[idx]
		} else {
			predicted = (level + trend) * seasonals[idx]
		}
		residuals = append(residuals, values[t]-predicted)

		prevLevel := level
		if m.seasonalType == SeasonalAdditive {
			level = m.alpha*(values[t]-seasonals[idx]) + (1-m.alpha)*(level+trend)
			trend = m.beta*(level-prevLevel) + (1-m.beta)*trend
			seasonals[idx] = m.gamma*(values[t]-level) + (1-m.gamma)*seasonals[idx]
		} else {
			level = m.alpha*(values[t]/seasonals[idx]) + (1-m.alpha)*(level+trend)
			trend = m.beta*(level-prevLevel) + (1-m.beta)*trend
			if level != 0 {
				seasonals[idx] = m.gamma*(values[t]/level) + (1-m.gamma)*seasonals[idx]
			}
		}
	}

	return &holtWintersFitted{
		model:       *m,
		level:       level,
		trend:       trend,
		seasonals:   seasonals,
		n:           len(values),
		residualStd: stats.SampleStd(residuals),
	}, nil
}

// initialize seeds level from the first season's mean, trend from the average
// season-over-season change, and seasonals from first-season deviations.
func (m *holtWintersModel) initialize(values []float64) (float64, float64, []float64) {
	sp := m.seasonalPeriods

	level := stats.Mean(values[:sp])

	trend := 0.0
	for i := 0; i < sp; i++ {
		trend += (values[sp+i] - values[i]) / float64(sp)
	}
	trend /= float64(sp)

	seasonals := make([]float64, sp)
	if m.seasonalType == SeasonalAdditive {
		for i := 0; i < sp; i++ {
			seasonals[i] = values[i] - level
		}
		// Normalize to sum to zero.
		avg := stats.Mean(seasonals)
		for i := range seasonals {
			seasonals[i] -= avg
		}
	} else {
		for i := 0; i < sp; i++ {
			if level != 0 {
				seasonals[i] = values[i] / level
			} else {
				seasonals[i] = 1
			}
		}
		// Normalize to average to one.
		avg := stats.Mean(seasonals)
		if avg != 0 {
			for i := range seasonals {
				seasonals[i] /= avg
			}
		}
	}

	return level, trend, seasonals
}

type holtWintersFitted struct {
	model       holtWintersModel
	level       float64
	trend       float64
	seasonals   []float64
	n           int
	residualStd float64
}

func (f *holtWintersFitted) Forecast(periods int) []Prediction {
	if periods <= 0 {
		return nil
	}

	sp := f.model.seasonalPeriods
	predictions := make([]Prediction, periods)
	for h := 1; h <= periods; h++ {
		idx := (f.n + h - 1) % sp

		var value float64
		if f.model.seasonalType == SeasonalAdditive {
			value = f.level + float64(h)*f.trend + f.seasonals[idx]
		} else {
			value = (f.level + float64(h)*f.trend) * f.seasonals[idx]
		}

		// Uncertainty compounds with horizon as trend and seasonal errors
		// accumulate.
		predictions[h-1] = Prediction{
			Step:        h,
			Value:       value,
			ResidualStd: f.residualStd * math.Sqrt(float64(h)),
		}
	}
	return predictions
}

func (f *holtWintersFitted) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"alpha":            f.model.alpha,
		"beta":             f.model.beta,
		"gamma":            f.model.gamma,
		"seasonal_periods": f.model.seasonalPeriods,
		"seasonal":         f.model.seasonalType,
	}
}

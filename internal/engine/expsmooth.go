package engine

import (
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

const defaultAlpha = 0.3

// expSmoothingModel is single exponential smoothing: a recursively updated
// level with smoothing parameter alpha. Forecasts are flat at the final level.
// With alpha = 1 it reduces to a naive last-observed-value forecast.
type expSmoothingModel struct {
	alpha float64
}

func newExpSmoothing(params Parameters) (Model, error) {
	alpha, err := params.Float("alpha", defaultAlpha)
	if err != nil {
		return nil, utils.NewModelFitError(string(models.ModelTypeExpSmoothing), "alpha", "%v", err)
	}
	if alpha <= 0 || alpha > 1 {
		return nil, utils.NewModelFitError(string(models.ModelTypeExpSmoothing), "alpha",
			"alpha must be in (0,1], got %v", alpha)
	}
	return &expSmoothingModel{alpha: alpha}, nil
}

func (m *expSmoothingModel) Type() models.ModelType { return models.ModelTypeExpSmoothing }

func (m *expSmoothingModel) MinObservations() int { return 2 }

func (m *expSmoothingModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	values := series.Values()
	level := values[0]
	residuals := make([]float64, 0, len(values)-1)
	for _, v := range values[1:] {
		// One-step-ahead prediction error before the level absorbs the
		// observation.
		residuals = append(residuals, v-level)
		level = m.alpha*v + (1-m.alpha)*level
	}

	residualStd := stats.SampleStd(residuals)
	if residualStd == 0 {
		residualStd = series.Std()
	}

	return &flatFitted{
		modelType:   models.ModelTypeExpSmoothing,
		value:       level,
		residualStd: residualStd,
		params:      map[string]interface{}{"alpha": m.alpha},
	}, nil
}

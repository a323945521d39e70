package engine

import (
	"math"
	"time"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

const (
	defaultFourierOrder = 3
	prophetMinPoints    = 10

	// Small ridge term keeps the normal equations solvable when Fourier
	// columns are nearly collinear.
	prophetRidge = 1e-8
)

// prophetModel is a decomposable additive-regression forecaster in the
// Prophet style: a piecewise-linear trend plus Fourier seasonal terms per
// configured cycle length, plus optional known-date event effects. Fit is a
// single least-squares solve, so there is no iterative convergence concern.
type prophetModel struct {
	granularity     models.Granularity
	seasonalPeriods []float64
	fourierOrder    int
	changepoints    int
	events          []time.Time
}

func newProphet(granularity models.Granularity, params Parameters) (Model, error) {
	const name = string(models.ModelTypeProphet)

	periods, err := params.Floats("seasonal_periods")
	if err != nil {
		return nil, utils.NewModelFitError(name, "seasonal_periods", "%v", err)
	}
	if periods == nil {
		periods = defaultProphetPeriods(granularity)
	}
	for _, p := range periods {
		if p <= 1 {
			return nil, utils.NewModelFitError(name, "seasonal_periods",
				"seasonal period must exceed 1, got %v", p)
		}
	}

	order, err := params.Int("fourier_order", defaultFourierOrder)
	if err != nil {
		return nil, utils.NewModelFitError(name, "fourier_order", "%v", err)
	}
	if order < 1 {
		return nil, utils.NewModelFitError(name, "fourier_order",
			"fourier order must be at least 1, got %d", order)
	}

	changepoints, err := params.Int("changepoints", 0)
	if err != nil {
		return nil, utils.NewModelFitError(name, "changepoints", "%v", err)
	}
	if changepoints < 0 {
		return nil, utils.NewModelFitError(name, "changepoints",
			"changepoints must be non-negative, got %d", changepoints)
	}

	var events []time.Time
	if raw, ok := params["events"]; ok && raw != nil {
		list, ok := raw.([]interface{})
		if !ok {
			if strs, ok := raw.([]string); ok {
				list = make([]interface{}, len(strs))
				for i, s := range strs {
					list[i] = s
				}
			} else {
				return nil, utils.NewModelFitError(name, "events", "events must be a list of dates")
			}
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, utils.NewModelFitError(name, "events", "event entries must be date strings")
			}
			d, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil, utils.NewModelFitError(name, "events", "invalid event date %q", s)
			}
			events = append(events, d)
		}
	}

	return &prophetModel{
		granularity:     granularity,
		seasonalPeriods: periods,
		fourierOrder:    order,
		changepoints:    changepoints,
		events:          events,
	}, nil
}

// defaultProphetPeriods picks cycle lengths, measured in periods, that
// correspond to yearly and weekly seasonality at each granularity.
func defaultProphetPeriods(granularity models.Granularity) []float64 {
	switch granularity {
	case models.GranularityWeekly:
		return []float64{52.18}
	case models.GranularityMonthly:
		return []float64{12}
	case models.GranularityQuarterly:
		return []float64{4}
	default:
		return []float64{365.25, 7}
	}
}

func (m *prophetModel) Type() models.ModelType { return models.ModelTypeProphet }

func (m *prophetModel) MinObservations() int { return prophetMinPoints }

func (m *prophetModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	n := series.Len()
	order := m.fourierOrder
	// Shrink the Fourier order when the series is too short to identify the
	// full feature set.
	for order > 1 && m.featureCount(order) >= n {
		order--
	}
	if m.featureCount(order) >= n {
		return nil, utils.NewModelFitError(string(models.ModelTypeProphet), "seasonal_periods",
			"seasonal configuration needs %d coefficients but only %d points are available",
			m.featureCount(order), n)
	}

	features := make([][]float64, n)
	for i := 0; i < n; i++ {
		features[i] = m.featureRow(i, n, series[i].PeriodStart, order)
	}
	values := series.Values()

	weights := solveOLS(features, values)
	if weights == nil {
		return nil, utils.NewModelFitError(string(models.ModelTypeProphet), "",
			"regression design matrix is singular")
	}

	residuals := make([]float64, n)
	for i := 0; i < n; i++ {
		residuals[i] = values[i] - dot(features[i], weights)
	}

	return &prophetFitted{
		model:       *m,
		order:       order,
		weights:     weights,
		n:           n,
		lastStart:   series[n-1].PeriodStart,
		residualStd: stats.SampleStd(residuals),
	}, nil
}

// featureCount is the regression coefficient count for a given Fourier order:
// intercept, trend, changepoint hinges, sin/cos pairs per cycle, one
// indicator per event.
func (m *prophetModel) featureCount(order int) int {
	return 2 + m.changepoints + 2*order*len(m.seasonalPeriods) + len(m.events)
}

// featureRow builds the regression features for the period at index i of a
// series with n fitted points. Future periods use i >= n.
func (m *prophetModel) featureRow(i, n int, periodStart time.Time, order int) []float64 {
	row := make([]float64, 0, m.featureCount(order))

	t := float64(i) / float64(n)
	row = append(row, 1, t)

	// Changepoint hinge features spread evenly over the fitted range give the
	// trend its piecewise-linear flexibility.
	for c := 1; c <= m.changepoints; c++ {
		cp := float64(c) / float64(m.changepoints+1)
		row = append(row, math.Max(0, t-cp))
	}

	for _, period := range m.seasonalPeriods {
		for k := 1; k <= order; k++ {
			angle := 2 * math.Pi * float64(k) * float64(i) / period
			row = append(row, math.Sin(angle), math.Cos(angle))
		}
	}

	periodEnd := m.granularity.PeriodEnd(periodStart)
	for _, event := range m.events {
		if !event.Before(periodStart) && !event.After(periodEnd) {
			row = append(row, 1)
		} else {
			row = append(row, 0)
		}
	}

	return row
}

// solveOLS solves the least-squares problem via ridge-stabilized normal
// equations.
func solveOLS(features [][]float64, values []float64) []float64 {
	n := len(features)
	if n == 0 {
		return nil
	}
	k := len(features[0])

	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := 0; i < k; i++ {
		xtx[i] = make([]float64, k)
	}
	for row := 0; row < n; row++ {
		for i := 0; i < k; i++ {
			xty[i] += features[row][i] * values[row]
			for j := i; j < k; j++ {
				xtx[i][j] += features[row][i] * features[row][j]
			}
		}
	}
	for i := 0; i < k; i++ {
		xtx[i][i] += prophetRidge
		for j := 0; j < i; j++ {
			xtx[i][j] = xtx[j][i]
		}
	}

	return stats.SolveLinear(xtx, xty)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

type prophetFitted struct {
	model       prophetModel
	order       int
	weights     []float64
	n           int
	lastStart   time.Time
	residualStd float64
}

func (f *prophetFitted) Forecast(periods int) []Prediction {
	if periods <= 0 {
		return nil
	}

	predictions := make([]Prediction, periods)
	periodStart := f.lastStart
	for h := 1; h <= periods; h++ {
		periodStart = f.model.granularity.Next(periodStart)
		row := f.model.featureRow(f.n+h-1, f.n, periodStart, f.order)

		// In-sample residual spread, widened for trend uncertainty as the
		// horizon extends past the fitted range.
		widening := math.Sqrt(1 + float64(h)/float64(f.n))
		predictions[h-1] = Prediction{
			Step:        h,
			Value:       dot(row, f.weights),
			ResidualStd: f.residualStd * widening,
		}
	}
	return predictions
}

func (f *prophetFitted) Parameters() map[string]interface{} {
	params := map[string]interface{}{
		"seasonal_periods": f.model.seasonalPeriods,
		"fourier_order":    f.order,
		"changepoints":     f.model.changepoints,
	}
	if len(f.model.events) > 0 {
		events := make([]string, len(f.model.events))
		for i, e := range f.model.events {
			events[i] = e.Format("2006-01-02")
		}
		params["events"] = events
	}
	return params
}

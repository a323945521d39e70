package engine

import (
	"math"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/timeseries"
	"github.com/irfndi/demandcast/internal/utils"
)

const (
	defaultARIMAP = 1
	defaultARIMAD = 1
	defaultARIMAQ = 1

	// Iteration cap bounds worst-case fit latency for the coefficient search.
	arimaMaxIterations = 100
	arimaTolerance     = 1e-6
	arimaLearningRate  = 0.01
)

// arimaModel is an ARIMA(p,d,q): the series is differenced d times, then an
// ARMA(p,q) is estimated by conditional least squares with Yule-Walker
// initialized AR coefficients.
type arimaModel struct {
	p, d, q int
}

func newARIMA(params Parameters) (Model, error) {
	const name = string(models.ModelTypeARIMA)

	p, err := params.Int("p", defaultARIMAP)
	if err != nil {
		return nil, utils.NewModelFitError(name, "p", "%v", err)
	}
	d, err := params.Int("d", defaultARIMAD)
	if err != nil {
		return nil, utils.NewModelFitError(name, "d", "%v", err)
	}
	q, err := params.Int("q", defaultARIMAQ)
	if err != nil {
		return nil, utils.NewModelFitError(name, "q", "%v", err)
	}

	if p < 0 || d < 0 || q < 0 {
		return nil, utils.NewModelFitError(name, "order", "orders must be non-negative, got (%d,%d,%d)", p, d, q)
	}
	if p > 5 || q > 5 || d > 2 {
		return nil, utils.NewModelFitError(name, "order", "order (%d,%d,%d) exceeds supported maximum (5,2,5)", p, d, q)
	}

	return &arimaModel{p: p, d: d, q: q}, nil
}

func (m *arimaModel) Type() models.ModelType { return models.ModelTypeARIMA }

func (m *arimaModel) MinObservations() int { return m.p + m.d + m.q + 10 }

func (m *arimaModel) Fit(series timeseries.Series) (Fitted, error) {
	if err := validateSeries(m, series); err != nil {
		return nil, err
	}

	values := series.Values()

	diffed := values
	for i := 0; i < m.d; i++ {
		diffed = stats.Diff(diffed)
		if len(diffed) == 0 {
			return nil, utils.NewModelFitError(string(models.ModelTypeARIMA), "d",
				"differencing degree %d leaves an empty series", m.d)
		}
	}

	fitted := &arimaFitted{
		model:    *m,
		original: values,
		diffed:   diffed,
		arCoeffs: make([]float64, m.p),
		maCoeffs: make([]float64, m.q),
	}
	fitted.estimate()

	return fitted, nil
}

type arimaFitted struct {
	model     arimaModel
	original  []float64
	diffed    []float64
	arCoeffs  []float64
	maCoeffs  []float64
	intercept float64
	variance  float64
	residuals []float64
}

// estimate fits the ARMA coefficients on the differenced series by
// conditional sum of squares with a simple gradient refinement.
func (f *arimaFitted) estimate() {
	y := f.diffed
	n := len(y)
	p, q := f.model.p, f.model.q

	f.intercept = stats.Mean(y)

	if p == 0 && q == 0 {
		// White noise around the mean.
		f.residuals = make([]float64, n)
		for i, v := range y {
			f.residuals[i] = v - f.intercept
		}
		f.variance = sampleVariance(f.residuals, 1)
		return
	}

	if p > 0 {
		if acf := stats.ACF(y, p); acf != nil {
			if phi := stats.YuleWalker(acf, p); phi != nil {
				copy(f.arCoeffs, phi)
			}
		}
	}
	for i := range f.maCoeffs {
		f.maCoeffs[i] = 0.1
	}

	start := p
	if q > start {
		start = q
	}

	prevSSE := math.Inf(1)
	for iter := 0; iter < arimaMaxIterations; iter++ {
		residuals, sse := f.residualPass(y, start)

		arGrad := make([]float64, p)
		maGrad := make([]float64, q)
		for t := start; t < n; t++ {
			for i := 0; i < p && t-i-1 >= 0; i++ {
				arGrad[i] -= 2 * residuals[t] * (y[t-i-1] - f.intercept)
			}
			for i := 0; i < q && t-i-1 >= 0; i++ {
				maGrad[i] -= 2 * residuals[t] * residuals[t-i-1]
			}
		}

		for i := 0; i < p; i++ {
			f.arCoeffs[i] -= arimaLearningRate * arGrad[i] / float64(n)
			f.arCoeffs[i] = clamp(f.arCoeffs[i], -0.99, 0.99)
		}
		for i := 0; i < q; i++ {
			f.maCoeffs[i] -= arimaLearningRate * maGrad[i] / float64(n)
			f.maCoeffs[i] = clamp(f.maCoeffs[i], -0.99, 0.99)
		}

		if math.Abs(prevSSE-sse) < arimaTolerance {
			break
		}
		prevSSE = sse
	}

	f.residuals, _ = f.residualPass(y, start)

	sse := 0.0
	count := 0
	for t := start; t < n; t++ {
		sse += f.residuals[t] * f.residuals[t]
		count++
	}
	dof := count - p - q - 1
	if dof < 1 {
		dof = count
	}
	if dof > 0 {
		f.variance = sse / float64(dof)
	}
}

// residualPass computes one-step residuals of the current coefficients over
// the differenced series.
func (f *arimaFitted) residualPass(y []float64, start int) ([]float64, float64) {
	n := len(y)
	p, q := f.model.p, f.model.q

	residuals := make([]float64, n)
	sse := 0.0
	for t := 0; t < n; t++ {
		pred := f.intercept
		if t >= start {
			for i := 0; i < p && t-i-1 >= 0; i++ {
				pred += f.arCoeffs[i] * (y[t-i-1] - f.intercept)
			}
			for i := 0; i < q && t-i-1 >= 0; i++ {
				pred += f.maCoeffs[i] * residuals[t-i-1]
			}
		}
		residuals[t] = y[t] - pred
		if t >= start {
			sse += residuals[t] * residuals[t]
		}
	}
	return residuals, sse
}

func (f *arimaFitted) Forecast(periods int) []Prediction {
	if periods <= 0 {
		return nil
	}

	p, q, d := f.model.p, f.model.q, f.model.d
	n := len(f.diffed)

	extY := make([]float64, n+periods)
	copy(extY, f.diffed)
	extResiduals := make([]float64, n+periods)
	copy(extResiduals, f.residuals)

	for h := 0; h < periods; h++ {
		t := n + h
		pred := f.intercept
		for i := 0; i < p && t-i-1 >= 0; i++ {
			pred += f.arCoeffs[i] * (extY[t-i-1] - f.intercept)
		}
		// Future residuals have expectation zero.
		for i := 0; i < q && t-i-1 >= 0 && t-i-1 < n; i++ {
			pred += f.maCoeffs[i] * extResiduals[t-i-1]
		}
		extY[t] = pred
	}

	forecasts := make([]float64, periods)
	copy(forecasts, extY[n:])
	if d > 0 {
		forecasts = f.integrate(forecasts)
	}

	stds := f.forecastStds(periods)

	predictions := make([]Prediction, periods)
	for h := 0; h < periods; h++ {
		predictions[h] = Prediction{Step: h + 1, Value: forecasts[h], ResidualStd: stds[h]}
	}
	return predictions
}

// integrate undoes the d differencing passes to return forecasts on the
// original scale. Each pass lifts the forecasts one differencing level,
// seeded with the last value of the series at that level.
func (f *arimaFitted) integrate(forecasts []float64) []float64 {
	result := make([]float64, len(forecasts))
	copy(result, forecasts)

	levels := make([][]float64, f.model.d)
	levels[0] = f.original
	for k := 1; k < f.model.d; k++ {
		levels[k] = stats.Diff(levels[k-1])
	}

	for k := f.model.d - 1; k >= 0; k-- {
		result[0] += levels[k][len(levels[k])-1]
		for j := 1; j < len(result); j++ {
			result[j] += result[j-1]
		}
	}
	return result
}

// forecastStds accumulates forecast-error variance per step from the psi
// (MA-infinity) weights, with differencing handled by cumulative summing the
// weights d times. Uncertainty grows with horizon.
func (f *arimaFitted) forecastStds(periods int) []float64 {
	p, q, d := f.model.p, f.model.q, f.model.d

	psi := make([]float64, periods)
	if periods > 0 {
		psi[0] = 1
	}
	for j := 1; j < periods; j++ {
		if j <= q {
			psi[j] = f.maCoeffs[j-1]
		}
		for i := 1; i <= p && j-i >= 0; i++ {
			psi[j] += f.arCoeffs[i-1] * psi[j-i]
		}
	}

	for i := 0; i < d; i++ {
		for j := 1; j < len(psi); j++ {
			psi[j] += psi[j-1]
		}
	}

	stds := make([]float64, periods)
	cumVar := 0.0
	for h := 0; h < periods; h++ {
		cumVar += psi[h] * psi[h]
		stds[h] = math.Sqrt(f.variance * cumVar)
	}
	return stds
}

func (f *arimaFitted) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"p": f.model.p,
		"d": f.model.d,
		"q": f.model.q,
	}
}

func sampleVariance(values []float64, ddof int) float64 {
	if len(values) <= ddof {
		return 0
	}
	mean := stats.Mean(values)
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(values)-ddof)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package engine

// z-scores for the two confidence levels, assuming approximately normal
// forecast errors. This is a deliberate simplification shared across all
// models so accuracy comparisons stay uniform.
const (
	z80 = 1.2816
	z95 = 1.96
)

// Interval carries the four confidence bounds for one forecasted period.
// Bounds always satisfy Lower95 <= Lower80 <= point <= Upper80 <= Upper95.
type Interval struct {
	Lower80 float64 `json:"lower_bound_80"`
	Upper80 float64 `json:"upper_bound_80"`
	Lower95 float64 `json:"lower_bound_95"`
	Upper95 float64 `json:"upper_bound_95"`
}

// Bounds derives the 80% and 95% intervals from a point estimate and the
// model's residual standard deviation at that step.
func Bounds(point, residualStd float64) Interval {
	if residualStd < 0 {
		residualStd = 0
	}
	return Interval{
		Lower80: point - z80*residualStd,
		Upper80: point + z80*residualStd,
		Lower95: point - z95*residualStd,
		Upper95: point + z95*residualStd,
	}
}

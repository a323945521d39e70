package timeseries

import (
	"sort"
	"time"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/utils"
)

// Aggregation selects how raw observations inside one bucket combine into a
// single period value.
type Aggregation string

const (
	AggregationSum     Aggregation = "sum"
	AggregationCount   Aggregation = "count"
	AggregationAverage Aggregation = "average"
)

// FillMethod selects how missing interior periods are represented.
type FillMethod string

const (
	FillZero        FillMethod = "zero"
	FillInterpolate FillMethod = "interpolate"
)

// Sample is one raw observation handed to preparation: a timestamp and the
// numeric value being forecast (quantity or revenue).
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// PrepareOptions controls aggregation, gap filling, and the minimum point
// check for the target model.
type PrepareOptions struct {
	Granularity models.Granularity
	Aggregation Aggregation
	Fill        FillMethod
	// From/To optionally restrict the usable observation range. Zero values
	// mean unbounded.
	From time.Time
	To   time.Time
	// MinPoints is the minimum prepared series length required by the target
	// model; ModelType names it in the returned error.
	MinPoints int
	ModelType string
}

type bucketAgg struct {
	sum   float64
	count int
}

// Prepare aggregates raw samples into granularity buckets, fills interior
// gaps, and validates the minimum length required by the target model.
// Leading and trailing gaps are never filled: the series spans exactly the
// first through last observed bucket.
func Prepare(samples []Sample, opts PrepareOptions) (Series, error) {
	if !opts.Granularity.Valid() {
		return nil, utils.NewConfigurationError("granularity", "unknown granularity %q", opts.Granularity)
	}
	if opts.Aggregation == "" {
		opts.Aggregation = AggregationSum
	}
	if opts.Fill == "" {
		opts.Fill = FillZero
	}

	buckets := make(map[time.Time]*bucketAgg)
	for _, s := range samples {
		if !opts.From.IsZero() && s.Timestamp.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && s.Timestamp.After(opts.To) {
			continue
		}
		start := opts.Granularity.BucketStart(s.Timestamp.UTC())
		agg, ok := buckets[start]
		if !ok {
			agg = &bucketAgg{}
			buckets[start] = agg
		}
		agg.sum += s.Value
		agg.count++
	}

	if len(buckets) == 0 {
		return nil, utils.NewInsufficientDataError(opts.ModelType, opts.MinPoints, 0)
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	series := buildContiguous(starts, buckets, opts)
	if opts.Fill == FillInterpolate {
		interpolateGaps(series, buckets, opts.Granularity)
	}

	if opts.MinPoints > 0 && len(series) < opts.MinPoints {
		return nil, utils.NewInsufficientDataError(opts.ModelType, opts.MinPoints, len(series))
	}

	return series, nil
}

// buildContiguous walks from the first to the last observed bucket one period
// at a time, emitting an explicit point for every period. Missing interior
// periods get a zero value; interpolation replaces them afterwards if
// requested.
func buildContiguous(starts []time.Time, buckets map[time.Time]*bucketAgg, opts PrepareOptions) Series {
	g := opts.Granularity
	first, last := starts[0], starts[len(starts)-1]

	var series Series
	for cur := first; !cur.After(last); cur = g.Next(cur) {
		point := Point{
			PeriodStart: cur,
			PeriodEnd:   g.PeriodEnd(cur),
		}
		if agg, ok := buckets[cur]; ok {
			switch opts.Aggregation {
			case AggregationCount:
				point.Value = float64(agg.count)
			case AggregationAverage:
				point.Value = agg.sum / float64(agg.count)
			default:
				point.Value = agg.sum
			}
		}
		series = append(series, point)
	}
	return series
}

// interpolateGaps replaces zero-filled interior periods with linear
// interpolation between the surrounding observed periods.
func interpolateGaps(series Series, buckets map[time.Time]*bucketAgg, g models.Granularity) {
	i := 0
	for i < len(series) {
		if _, observed := buckets[series[i].PeriodStart]; observed {
			i++
			continue
		}
		// Find the gap run [i, j) and its observed neighbors.
		j := i
		for j < len(series) {
			if _, observed := buckets[series[j].PeriodStart]; observed {
				break
			}
			j++
		}
		// Leading/trailing gaps cannot occur: the series spans observed
		// endpoints. Interior runs always have neighbors on both sides.
		prev := series[i-1].Value
		next := series[j].Value
		span := float64(j - i + 1)
		for k := i; k < j; k++ {
			frac := float64(k-i+1) / span
			series[k].Value = prev + (next-prev)*frac
		}
		i = j
	}
}

package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Observation is a single raw sales record as retrieved from tenant history.
type Observation struct {
	TenantID   uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	ProductID  string          `json:"product_id" db:"product_id"`
	LocationID string          `json:"location_id" db:"location_id"`
	CustomerID string          `json:"customer_id,omitempty" db:"customer_id"`
	SaleDate   time.Time       `json:"sale_date" db:"sale_date"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Revenue    decimal.Decimal `json:"revenue" db:"revenue"`
}

// Granularity is the time bucket size observations are aggregated into.
type Granularity string

const (
	GranularityDaily     Granularity = "daily"
	GranularityWeekly    Granularity = "weekly"
	GranularityMonthly   Granularity = "monthly"
	GranularityQuarterly Granularity = "quarterly"
)

// Valid reports whether the granularity is one of the supported bucket sizes.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly, GranularityQuarterly:
		return true
	}
	return false
}

// PeriodDays returns the nominal day count of one period, used to convert a
// horizon expressed in days into a period count.
func (g Granularity) PeriodDays() int {
	switch g {
	case GranularityWeekly:
		return 7
	case GranularityMonthly:
		return 30
	case GranularityQuarterly:
		return 90
	default:
		return 1
	}
}

// PeriodsForHorizon converts a horizon in days to a whole period count,
// rounding up so a partial trailing period is still forecast.
func (g Granularity) PeriodsForHorizon(horizonDays int) int {
	if horizonDays <= 0 {
		return 0
	}
	return int(math.Ceil(float64(horizonDays) / float64(g.PeriodDays())))
}

// BucketStart truncates t to the start of its period. Weeks start on Monday,
// months on the 1st, quarters on Jan/Apr/Jul/Oct 1st.
func (g Granularity) BucketStart(t time.Time) time.Time {
	year, month, day := t.Date()
	switch g {
	case GranularityWeekly:
		d := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case GranularityMonthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
	case GranularityQuarterly:
		qm := time.Month(((int(month)-1)/3)*3 + 1)
		return time.Date(year, qm, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	}
}

// Next returns the start of the period immediately following the period
// starting at t.
func (g Granularity) Next(t time.Time) time.Time {
	switch g {
	case GranularityWeekly:
		return t.AddDate(0, 0, 7)
	case GranularityMonthly:
		return t.AddDate(0, 1, 0)
	case GranularityQuarterly:
		return t.AddDate(0, 3, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// PeriodEnd returns the inclusive last day of the period starting at start.
func (g Granularity) PeriodEnd(start time.Time) time.Time {
	return g.Next(start).AddDate(0, 0, -1)
}

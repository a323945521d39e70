package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/stats"
	"github.com/irfndi/demandcast/internal/utils"
)

// RecordedActual is an observed outcome for one elapsed forecast period.
type RecordedActual struct {
	ForecastDate time.Time        `json:"forecast_date"`
	ProductID    string           `json:"product_id,omitempty"`
	LocationID   string           `json:"location_id,omitempty"`
	CustomerID   string           `json:"customer_id,omitempty"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Value        *decimal.Decimal `json:"value,omitempty"`
}

// ApplyActuals backfills actual and variance fields on matching detail rows
// and returns how many rows were updated. Matching is by forecast date plus
// dimension keys.
func ApplyActuals(details []models.ForecastDetail, actuals []RecordedActual) int {
	updated := 0
	for i := range details {
		d := &details[i]
		for _, a := range actuals {
			if !sameDay(d.ForecastDate, a.ForecastDate) {
				continue
			}
			if !dimensionMatches(d.ProductID, a.ProductID) ||
				!dimensionMatches(d.LocationID, a.LocationID) ||
				!dimensionMatches(d.CustomerID, a.CustomerID) {
				continue
			}

			quantity := a.Quantity
			d.ActualQuantity = &quantity
			variance := quantity.Sub(d.ForecastedQuantity)
			d.QuantityVariance = &variance

			if a.Value != nil {
				value := *a.Value
				d.ActualValue = &value
				if d.ForecastedValue != nil {
					valueVariance := value.Sub(*d.ForecastedValue)
					d.ValueVariance = &valueVariance
				}
			}
			updated++
			break
		}
	}
	return updated
}

// RecomputeMetrics rebuilds the summary metrics from detail rows that have
// recorded actuals. The same inputs always produce identical metrics, so
// previously persisted actuals can be fed back for a byte-identical result.
func RecomputeMetrics(details []models.ForecastDetail) (*stats.Metrics, error) {
	var actual, forecast []float64
	for _, d := range details {
		if d.ActualQuantity == nil {
			continue
		}
		a, _ := d.ActualQuantity.Float64()
		f, _ := d.ForecastedQuantity.Float64()
		actual = append(actual, a)
		forecast = append(forecast, f)
	}
	if len(actual) == 0 {
		return nil, utils.NewMetricsError("no detail rows with recorded actuals")
	}
	return stats.Calculate(actual, forecast)
}

// NewAdjustment records a manual override of one detail row. The original
// forecasted quantity stays untouched; adjustments are an append-only
// overlay.
func NewAdjustment(detail *models.ForecastDetail, adjusted decimal.Decimal, reason string, adjustedBy uuid.UUID) (*models.Adjustment, error) {
	if detail == nil {
		return nil, utils.NewConfigurationError("detail_id", "detail row is required")
	}
	if reason == "" {
		return nil, utils.NewConfigurationError("reason", "an adjustment reason is required")
	}
	if adjustedBy == uuid.Nil {
		return nil, utils.NewConfigurationError("adjusted_by", "acting user is required")
	}

	return &models.Adjustment{
		ID:               uuid.New(),
		DetailID:         detail.ID,
		OriginalQuantity: detail.ForecastedQuantity,
		AdjustedQuantity: adjusted,
		Reason:           reason,
		AdjustedBy:       adjustedBy,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dimensionMatches(detail *string, actual string) bool {
	if detail == nil {
		return actual == ""
	}
	return *detail == actual
}

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/services"
	"github.com/irfndi/demandcast/internal/utils"
)

// DatabasePool defines the pool operations the repository needs. Both the
// real pgx pool and pgxmock satisfy it.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// ForecastRepository handles persistence of forecast runs, detail rows,
// model configurations, adjustments, and historical sales retrieval. It also
// implements services.ObservationSource and services.ModelConfigSource.
type ForecastRepository struct {
	pool   DatabasePool
	schema string
}

// NewForecastRepository creates a repository bound to a tenant data schema.
func NewForecastRepository(pool DatabasePool, schema string) *ForecastRepository {
	if schema == "" {
		schema = "raw_tenant_data"
	}
	return &ForecastRepository{pool: pool, schema: schema}
}

// CreateForecast inserts the run header.
func (r *ForecastRepository) CreateForecast(ctx context.Context, run *models.ForecastRun) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("marshal model parameters: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.forecasts (
			id, tenant_id, forecast_name, model_type, time_granularity,
			forecast_horizon_days, status, model_parameters, model_config_id,
			mape, mad, rmse, bias, tracking_signal, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`, r.schema)

	_, err = r.pool.Exec(ctx, query,
		run.ID, run.TenantID, run.Name, run.ModelType, run.Granularity,
		run.HorizonDays, run.Status, params, run.ModelConfigID,
		run.Metrics.MAPE, run.Metrics.MAD, run.Metrics.RMSE,
		run.Metrics.Bias, run.Metrics.TrackingSignal,
		run.CreatedBy, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert forecast header: %w", err)
	}
	return nil
}

// InsertDetails persists the per-period detail rows of a run.
func (r *ForecastRepository) InsertDetails(ctx context.Context, details []models.ForecastDetail) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.forecast_data (
			id, forecast_id, product_id, location_id, customer_id,
			forecast_date, period_start, period_end,
			forecasted_quantity, forecasted_value,
			lower_bound_80, upper_bound_80, lower_bound_95, upper_bound_95
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, r.schema)

	for _, d := range details {
		_, err := r.pool.Exec(ctx, query,
			d.ID, d.ForecastID, d.ProductID, d.LocationID, d.CustomerID,
			d.ForecastDate, d.PeriodStart, d.PeriodEnd,
			d.ForecastedQuantity, d.ForecastedValue,
			d.LowerBound80, d.UpperBound80, d.LowerBound95, d.UpperBound95,
		)
		if err != nil {
			return fmt.Errorf("insert forecast detail for %s: %w", d.ForecastDate.Format("2006-01-02"), err)
		}
	}
	return nil
}

// GetForecast loads one run header.
func (r *ForecastRepository) GetForecast(ctx context.Context, id uuid.UUID) (*models.ForecastRun, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant_id, forecast_name, model_type, time_granularity,
			forecast_horizon_days, status, model_parameters, model_config_id,
			mape, mad, rmse, bias, tracking_signal, created_by, created_at, updated_at
		FROM %s.forecasts WHERE id = $1`, r.schema)

	var run models.ForecastRun
	var params []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.TenantID, &run.Name, &run.ModelType, &run.Granularity,
		&run.HorizonDays, &run.Status, &params, &run.ModelConfigID,
		&run.Metrics.MAPE, &run.Metrics.MAD, &run.Metrics.RMSE,
		&run.Metrics.Bias, &run.Metrics.TrackingSignal,
		&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load forecast %s: %w", id, err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal model parameters: %w", err)
		}
	}
	return &run, nil
}

// GetDetails loads the detail rows of a run ordered by period and dimensions.
func (r *ForecastRepository) GetDetails(ctx context.Context, forecastID uuid.UUID) ([]models.ForecastDetail, error) {
	query := fmt.Sprintf(`
		SELECT id, forecast_id, product_id, location_id, customer_id,
			forecast_date, period_start, period_end,
			forecasted_quantity::float8, forecasted_value::float8,
			lower_bound_80::float8, upper_bound_80::float8,
			lower_bound_95::float8, upper_bound_95::float8,
			actual_quantity::float8, actual_value::float8
		FROM %s.forecast_data
		WHERE forecast_id = $1
		ORDER BY forecast_date, product_id, location_id`, r.schema)

	rows, err := r.pool.Query(ctx, query, forecastID)
	if err != nil {
		return nil, fmt.Errorf("load forecast details: %w", err)
	}
	defer rows.Close()

	var details []models.ForecastDetail
	for rows.Next() {
		var d models.ForecastDetail
		var forecastedQty, lower80, upper80, lower95, upper95 float64
		var forecastedValue, actualQty, actualValue *float64
		if err := rows.Scan(
			&d.ID, &d.ForecastID, &d.ProductID, &d.LocationID, &d.CustomerID,
			&d.ForecastDate, &d.PeriodStart, &d.PeriodEnd,
			&forecastedQty, &forecastedValue,
			&lower80, &upper80, &lower95, &upper95,
			&actualQty, &actualValue,
		); err != nil {
			return nil, fmt.Errorf("scan forecast detail: %w", err)
		}
		d.ForecastedQuantity = decimal.NewFromFloat(forecastedQty)
		d.LowerBound80 = decimal.NewFromFloat(lower80)
		d.UpperBound80 = decimal.NewFromFloat(upper80)
		d.LowerBound95 = decimal.NewFromFloat(lower95)
		d.UpperBound95 = decimal.NewFromFloat(upper95)
		if forecastedValue != nil {
			v := decimal.NewFromFloat(*forecastedValue)
			d.ForecastedValue = &v
		}
		if actualQty != nil {
			v := decimal.NewFromFloat(*actualQty)
			d.ActualQuantity = &v
			variance := v.Sub(d.ForecastedQuantity)
			d.QuantityVariance = &variance
		}
		if actualValue != nil {
			v := decimal.NewFromFloat(*actualValue)
			d.ActualValue = &v
		}
		details = append(details, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return details, nil
}

// ListForecasts returns a tenant's run headers, newest first.
func (r *ForecastRepository) ListForecasts(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.ForecastRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, forecast_name, model_type, time_granularity,
			forecast_horizon_days, status, model_parameters, model_config_id,
			mape, mad, rmse, bias, tracking_signal, created_by, created_at, updated_at
		FROM %s.forecasts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, r.schema)

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	defer rows.Close()

	var runs []models.ForecastRun
	for rows.Next() {
		var run models.ForecastRun
		var params []byte
		if err := rows.Scan(
			&run.ID, &run.TenantID, &run.Name, &run.ModelType, &run.Granularity,
			&run.HorizonDays, &run.Status, &params, &run.ModelConfigID,
			&run.Metrics.MAPE, &run.Metrics.MAD, &run.Metrics.RMSE,
			&run.Metrics.Bias, &run.Metrics.TrackingSignal,
			&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan forecast header: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &run.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshal model parameters: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// UpdateStatus applies a lifecycle transition, rejecting illegal moves.
func (r *ForecastRepository) UpdateStatus(ctx context.Context, id uuid.UUID, target models.ForecastStatus) error {
	if !target.Valid() {
		return utils.NewConfigurationError("status", "unknown status %q", target)
	}

	var current models.ForecastStatus
	query := fmt.Sprintf(`SELECT status FROM %s.forecasts WHERE id = $1`, r.schema)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&current); err != nil {
		return fmt.Errorf("load forecast status: %w", err)
	}
	if !current.CanTransitionTo(target) {
		return utils.NewConfigurationError("status", "cannot transition from %q to %q", current, target)
	}

	update := fmt.Sprintf(`UPDATE %s.forecasts SET status = $1, updated_at = $2 WHERE id = $3`, r.schema)
	if _, err := r.pool.Exec(ctx, update, target, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update forecast status: %w", err)
	}
	return nil
}

// UpdateMetrics stores recomputed summary metrics on the header.
func (r *ForecastRepository) UpdateMetrics(ctx context.Context, id uuid.UUID, metrics models.AccuracyMetrics) error {
	query := fmt.Sprintf(`
		UPDATE %s.forecasts
		SET mape = $1, mad = $2, rmse = $3, bias = $4, tracking_signal = $5, updated_at = $6
		WHERE id = $7`, r.schema)

	_, err := r.pool.Exec(ctx, query,
		metrics.MAPE, metrics.MAD, metrics.RMSE, metrics.Bias, metrics.TrackingSignal,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update forecast metrics: %w", err)
	}
	return nil
}

// UpdateDetailActuals persists backfilled actual and variance fields.
func (r *ForecastRepository) UpdateDetailActuals(ctx context.Context, d models.ForecastDetail) error {
	query := fmt.Sprintf(`
		UPDATE %s.forecast_data
		SET actual_quantity = $1, actual_value = $2,
			quantity_variance = $3, value_variance = $4
		WHERE id = $5`, r.schema)

	_, err := r.pool.Exec(ctx, query,
		d.ActualQuantity, d.ActualValue, d.QuantityVariance, d.ValueVariance, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update detail actuals: %w", err)
	}
	return nil
}

// CreateAdjustment appends an audited manual override.
func (r *ForecastRepository) CreateAdjustment(ctx context.Context, adj *models.Adjustment) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.forecast_adjustments (
			id, detail_id, original_quantity, adjusted_quantity, reason, adjusted_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`, r.schema)

	_, err := r.pool.Exec(ctx, query,
		adj.ID, adj.DetailID, adj.OriginalQuantity, adj.AdjustedQuantity,
		adj.Reason, adj.AdjustedBy, adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

// GetModelConfiguration loads a reusable parameter set.
func (r *ForecastRepository) GetModelConfiguration(ctx context.Context, id uuid.UUID) (*models.ModelConfiguration, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant_id, name, model_type, parameters, avg_mape, run_count, created_at, updated_at
		FROM %s.model_configurations WHERE id = $1`, r.schema)

	var mc models.ModelConfiguration
	var params []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&mc.ID, &mc.TenantID, &mc.Name, &mc.ModelType, &params,
		&mc.AvgMAPE, &mc.RunCount, &mc.CreatedAt, &mc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load model configuration %s: %w", id, err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &mc.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal configuration parameters: %w", err)
		}
	}
	return &mc, nil
}

// CreateModelConfiguration stores a new named parameter set.
func (r *ForecastRepository) CreateModelConfiguration(ctx context.Context, mc *models.ModelConfiguration) error {
	params, err := json.Marshal(mc.Parameters)
	if err != nil {
		return fmt.Errorf("marshal configuration parameters: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.model_configurations (
			id, tenant_id, name, model_type, parameters, avg_mape, run_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, r.schema)

	_, err = r.pool.Exec(ctx, query,
		mc.ID, mc.TenantID, mc.Name, mc.ModelType, params,
		mc.AvgMAPE, mc.RunCount, mc.CreatedAt, mc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert model configuration: %w", err)
	}
	return nil
}

// RecordConfigurationRun folds a run's MAPE into the configuration's rolling
// average and bumps its run count.
func (r *ForecastRepository) RecordConfigurationRun(ctx context.Context, id uuid.UUID, mape float64) error {
	query := fmt.Sprintf(`
		UPDATE %s.model_configurations
		SET avg_mape = (COALESCE(avg_mape, 0) * run_count + $1) / (run_count + 1),
			run_count = run_count + 1,
			updated_at = $2
		WHERE id = $3`, r.schema)

	_, err := r.pool.Exec(ctx, query, mape, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record configuration run: %w", err)
	}
	return nil
}

// GetHistoricalSales fetches tenant sales grouped by day and dimensions,
// oldest first. It implements services.ObservationSource.
func (r *ForecastRepository) GetHistoricalSales(ctx context.Context, tenantID uuid.UUID, filter services.SalesFilter) ([]models.Observation, error) {
	query := fmt.Sprintf(`
		SELECT sale_date, product_external_id, location_external_id,
			COALESCE(customer_external_id, '') AS customer_external_id,
			SUM(quantity)::float8 AS quantity,
			SUM(total_amount)::float8 AS revenue
		FROM %s.tenant_sales
		WHERE tenant_id = $1`, r.schema)

	args := []interface{}{tenantID}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(" AND product_external_id = $%d", len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		query += fmt.Sprintf(" AND location_external_id = $%d", len(args))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		query += fmt.Sprintf(" AND customer_external_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND sale_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND sale_date <= $%d", len(args))
	}
	query += `
		GROUP BY sale_date, product_external_id, location_external_id, customer_external_id
		ORDER BY sale_date`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query historical sales: %w", err)
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var obs models.Observation
		var quantity, revenue float64
		if err := rows.Scan(&obs.SaleDate, &obs.ProductID, &obs.LocationID, &obs.CustomerID, &quantity, &revenue); err != nil {
			return nil, fmt.Errorf("scan historical sale: %w", err)
		}
		obs.TenantID = tenantID
		obs.Quantity = decimal.NewFromFloat(quantity)
		obs.Revenue = decimal.NewFromFloat(revenue)
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/services"
	"github.com/irfndi/demandcast/internal/utils"
)

// MockPoolAdapter wraps pgxmock.PgxPoolIface to implement DatabasePool.
type MockPoolAdapter struct {
	mock pgxmock.PgxPoolIface
}

func NewMockPoolAdapter(mock pgxmock.PgxPoolIface) DatabasePool {
	return &MockPoolAdapter{mock: mock}
}

func (m *MockPoolAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return m.mock.QueryRow(ctx, sql, args...)
}

func (m *MockPoolAdapter) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	result, err := m.mock.Exec(ctx, sql, args...)
	if err == nil {
		rows := result.RowsAffected()
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", rows)), nil
	}
	return pgconn.CommandTag{}, err
}

func (m *MockPoolAdapter) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return m.mock.Query(ctx, sql, args...)
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockRepository(t *testing.T) (*ForecastRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewForecastRepository(NewMockPoolAdapter(mockPool), "raw_tenant_data"), mockPool
}

func TestCreateForecastInsertsHeader(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	run := &models.ForecastRun{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Name:        "Simple Moving Average - 2024-07-01 10:00",
		ModelType:   models.ModelTypeSMA,
		Granularity: models.GranularityDaily,
		HorizonDays: 30,
		Status:      models.ForecastStatusDraft,
		Parameters:  map[string]interface{}{"window": 3},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	mockPool.ExpectExec("INSERT INTO raw_tenant_data.forecasts").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.CreateForecast(context.Background(), run)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertDetailsOneRowPerPeriod(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	details := []models.ForecastDetail{
		{ID: uuid.New(), ForecastID: uuid.New(), ForecastDate: time.Now(), ForecastedQuantity: decimal.NewFromInt(10)},
		{ID: uuid.New(), ForecastID: uuid.New(), ForecastDate: time.Now(), ForecastedQuantity: decimal.NewFromInt(12)},
	}

	mockPool.ExpectExec("INSERT INTO raw_tenant_data.forecast_data").
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec("INSERT INTO raw_tenant_data.forecast_data").
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertDetails(context.Background(), details)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateStatusAllowsLegalTransition(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	id := uuid.New()

	mockPool.ExpectQuery("SELECT status FROM raw_tenant_data.forecasts").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.ForecastStatusDraft))
	mockPool.ExpectExec("UPDATE raw_tenant_data.forecasts SET status").
		WithArgs(models.ForecastStatusApproved, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateStatus(context.Background(), id, models.ForecastStatusApproved)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	id := uuid.New()

	mockPool.ExpectQuery("SELECT status FROM raw_tenant_data.forecasts").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.ForecastStatusArchived))

	err := repo.UpdateStatus(context.Background(), id, models.ForecastStatusApproved)
	var configErr *utils.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.NoError(t, mockPool.ExpectationsWereMet(), "no update must be issued for an illegal transition")
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	repo, _ := newMockRepository(t)

	err := repo.UpdateStatus(context.Background(), uuid.New(), models.ForecastStatus("pending"))
	var configErr *utils.ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestUpdateMetricsWritesNullableColumns(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	id := uuid.New()

	mad := 2.5
	mockPool.ExpectExec("UPDATE raw_tenant_data.forecasts").
		WithArgs(pgxmock.AnyArg(), &mad, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateMetrics(context.Background(), id, models.AccuracyMetrics{MAD: &mad})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordConfigurationRunRollingAverage(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	id := uuid.New()

	mockPool.ExpectExec("UPDATE raw_tenant_data.model_configurations").
		WithArgs(12.5, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.RecordConfigurationRun(context.Background(), id, 12.5)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetHistoricalSalesScansObservations(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	tenantID := uuid.New()
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"sale_date", "product_external_id", "location_external_id", "customer_external_id", "quantity", "revenue"}).
		AddRow(day, "P1", "L1", "C1", 10.5, 105.0).
		AddRow(day.AddDate(0, 0, 1), "P1", "L1", "C1", 8.0, 80.0)

	mockPool.ExpectQuery("FROM raw_tenant_data.tenant_sales").
		WithArgs(tenantID).
		WillReturnRows(rows)

	observations, err := repo.GetHistoricalSales(context.Background(), tenantID, services.SalesFilter{})
	require.NoError(t, err)

	require.Len(t, observations, 2)
	assert.Equal(t, tenantID, observations[0].TenantID)
	assert.Equal(t, "P1", observations[0].ProductID)
	assert.Equal(t, "C1", observations[0].CustomerID)
	assert.True(t, observations[0].Quantity.Equal(decimal.NewFromFloat(10.5)))
	assert.True(t, observations[0].Revenue.Equal(decimal.NewFromFloat(105.0)))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetHistoricalSalesAppliesFilters(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	tenantID := uuid.New()

	rows := pgxmock.NewRows([]string{"sale_date", "product_external_id", "location_external_id", "customer_external_id", "quantity", "revenue"})

	mockPool.ExpectQuery("AND product_external_id = \\$2 AND location_external_id = \\$3").
		WithArgs(tenantID, "P1", "L1").
		WillReturnRows(rows)

	_, err := repo.GetHistoricalSales(context.Background(), tenantID, services.SalesFilter{
		ProductID:  "P1",
		LocationID: "L1",
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetHistoricalSalesFiltersByCustomer(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	tenantID := uuid.New()
	day := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"sale_date", "product_external_id", "location_external_id", "customer_external_id", "quantity", "revenue"}).
		AddRow(day, "P1", "L1", "C1", 4.0, 40.0)

	mockPool.ExpectQuery("AND customer_external_id = \\$2").
		WithArgs(tenantID, "C1").
		WillReturnRows(rows)

	observations, err := repo.GetHistoricalSales(context.Background(), tenantID, services.SalesFilter{
		CustomerID: "C1",
	})
	require.NoError(t, err)

	require.Len(t, observations, 1)
	assert.Equal(t, "C1", observations[0].CustomerID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCreateAdjustmentInsertsAuditRow(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	adj := &models.Adjustment{
		ID:               uuid.New(),
		DetailID:         uuid.New(),
		OriginalQuantity: decimal.NewFromInt(100),
		AdjustedQuantity: decimal.NewFromInt(120),
		Reason:           "promo uplift",
		AdjustedBy:       uuid.New(),
		CreatedAt:        time.Now().UTC(),
	}

	mockPool.ExpectExec("INSERT INTO raw_tenant_data.forecast_adjustments").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.CreateAdjustment(context.Background(), adj)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetModelConfigurationUnmarshalsParameters(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	id := uuid.New()
	tenantID := uuid.New()
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "name", "model_type", "parameters", "avg_mape", "run_count", "created_at", "updated_at",
	}).AddRow(id, tenantID, "wide-window", models.ModelTypeSMA, []byte(`{"window":5}`), nil, 0, now, now)

	mockPool.ExpectQuery("FROM raw_tenant_data.model_configurations").
		WithArgs(id).
		WillReturnRows(rows)

	mc, err := repo.GetModelConfiguration(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "wide-window", mc.Name)
	assert.Equal(t, models.ModelTypeSMA, mc.ModelType)
	assert.Equal(t, float64(5), mc.Parameters["window"])
	assert.Nil(t, mc.AvgMAPE)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

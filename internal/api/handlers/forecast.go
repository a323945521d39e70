package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/demandcast/internal/cache"
	"github.com/irfndi/demandcast/internal/database"
	"github.com/irfndi/demandcast/internal/models"
	"github.com/irfndi/demandcast/internal/services"
	"github.com/irfndi/demandcast/internal/utils"
)

// ForecastHandler exposes forecast runs over HTTP: creation, retrieval,
// lifecycle transitions, recorded actuals, and manual adjustments.
type ForecastHandler struct {
	service *services.ForecastService
	repo    *database.ForecastRepository
	cache   *cache.ForecastCache
	logger  *logrus.Logger
}

func NewForecastHandler(service *services.ForecastService, repo *database.ForecastRepository, forecastCache *cache.ForecastCache, logger *logrus.Logger) *ForecastHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastHandler{
		service: service,
		repo:    repo,
		cache:   forecastCache,
		logger:  logger,
	}
}

// CreateForecast runs the engine and persists the resulting run and details.
func (h *ForecastHandler) CreateForecast(c *gin.Context) {
	var req services.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.repo.CreateForecast(c.Request.Context(), result.Run); err != nil {
		h.logger.WithError(err).Error("persisting forecast header failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist forecast"})
		return
	}
	if err := h.repo.InsertDetails(c.Request.Context(), result.Details); err != nil {
		h.logger.WithError(err).Error("persisting forecast details failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist forecast details"})
		return
	}

	h.recordConfigurationAccuracy(c.Request.Context(), result.Run)

	if h.cache != nil {
		h.cache.Set(c.Request.Context(), result.Run.ID, result)
	}

	c.JSON(http.StatusCreated, result)
}

// GetForecast returns one run with its detail rows, cache-first.
func (h *ForecastHandler) GetForecast(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast id"})
		return
	}

	if h.cache != nil {
		if cached, ok := h.cache.Get(c.Request.Context(), id); ok {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	run, err := h.repo.GetForecast(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	details, err := h.repo.GetDetails(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result := &services.RunResult{Run: run, Details: details}
	if h.cache != nil {
		h.cache.Set(c.Request.Context(), id, result)
	}
	c.JSON(http.StatusOK, result)
}

// ListForecasts returns a tenant's run headers, newest first.
func (h *ForecastHandler) ListForecasts(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.repo.ListForecasts(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"forecasts": runs, "count": len(runs)})
}

type statusRequest struct {
	Status models.ForecastStatus `json:"status" binding:"required"`
}

// UpdateStatus applies a draft/approved/archived lifecycle transition.
func (h *ForecastHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast id"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.repo.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

type actualsRequest struct {
	Actuals []services.RecordedActual `json:"actuals" binding:"required"`
}

// RecordActuals backfills observed outcomes onto elapsed detail rows and
// recomputes the run's summary metrics from them.
func (h *ForecastHandler) RecordActuals(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast id"})
		return
	}
	var req actualsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Actuals) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one actual is required"})
		return
	}

	run, err := h.repo.GetForecast(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	details, err := h.repo.GetDetails(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	updated := services.ApplyActuals(details, req.Actuals)
	if updated == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no detail rows matched the supplied actuals"})
		return
	}
	for _, d := range details {
		if d.ActualQuantity == nil {
			continue
		}
		if err := h.repo.UpdateDetailActuals(c.Request.Context(), d); err != nil {
			h.respondError(c, err)
			return
		}
	}

	metrics, err := services.RecomputeMetrics(details)
	if err != nil {
		h.respondError(c, err)
		return
	}
	accuracy := services.MetricsToModel(metrics)
	if err := h.repo.UpdateMetrics(c.Request.Context(), id, accuracy); err != nil {
		h.respondError(c, err)
		return
	}

	run.Metrics = accuracy
	h.recordConfigurationAccuracy(c.Request.Context(), run)
	h.invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"updated": updated,
		"metrics": metrics,
	})
}

type adjustmentRequest struct {
	DetailID         uuid.UUID       `json:"detail_id" binding:"required"`
	AdjustedQuantity decimal.Decimal `json:"adjusted_quantity"`
	Reason           string          `json:"reason" binding:"required"`
	AdjustedBy       uuid.UUID       `json:"adjusted_by" binding:"required"`
}

// CreateAdjustment records an audited manual override of one detail row.
func (h *ForecastHandler) CreateAdjustment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecast id"})
		return
	}
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	details, err := h.repo.GetDetails(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var target *models.ForecastDetail
	for i := range details {
		if details[i].ID == req.DetailID {
			target = &details[i]
			break
		}
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "detail row not found in forecast"})
		return
	}

	adjustment, err := services.NewAdjustment(target, req.AdjustedQuantity, req.Reason, req.AdjustedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.repo.CreateAdjustment(c.Request.Context(), adjustment); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(c.Request.Context(), id)

	c.JSON(http.StatusCreated, adjustment)
}

type modelConfigRequest struct {
	TenantID   uuid.UUID              `json:"tenant_id" binding:"required"`
	Name       string                 `json:"name" binding:"required"`
	ModelType  models.ModelType       `json:"model_type" binding:"required"`
	Parameters map[string]interface{} `json:"parameters"`
}

// CreateModelConfiguration stores a reusable named parameter set.
func (h *ForecastHandler) CreateModelConfiguration(c *gin.Context) {
	var req modelConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !req.ModelType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model type"})
		return
	}

	mc := models.NewModelConfiguration(req.TenantID, req.Name, req.ModelType, req.Parameters)
	if err := h.repo.CreateModelConfiguration(c.Request.Context(), mc); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mc)
}

// GetModelConfiguration returns one parameter set with its rolling accuracy.
func (h *ForecastHandler) GetModelConfiguration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration id"})
		return
	}
	mc, err := h.repo.GetModelConfiguration(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mc)
}

// recordConfigurationAccuracy folds a metric-bearing run into its
// configuration's rolling MAPE. Failures only log; the run itself stands.
func (h *ForecastHandler) recordConfigurationAccuracy(ctx context.Context, run *models.ForecastRun) {
	if run.ModelConfigID == nil || run.Metrics.MAPE == nil {
		return
	}
	if err := h.repo.RecordConfigurationRun(ctx, *run.ModelConfigID, *run.Metrics.MAPE); err != nil {
		h.logger.WithError(err).WithField("model_config_id", run.ModelConfigID).Warn("updating configuration accuracy failed")
	}
}

func (h *ForecastHandler) invalidate(ctx context.Context, id uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, id); err != nil {
		h.logger.WithError(err).WithField("run_id", id).Warn("cache invalidation failed")
	}
}

// respondError maps the error taxonomy onto HTTP statuses.
func (h *ForecastHandler) respondError(c *gin.Context, err error) {
	var (
		configErr       *utils.ConfigurationError
		insufficientErr *utils.InsufficientDataError
		fitErr          *utils.ModelFitError
		metricsErr      *utils.MetricsError
	)
	switch {
	case errors.As(err, &configErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": configErr.Error(), "field": configErr.Field})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     insufficientErr.Error(),
			"required":  insufficientErr.Required,
			"available": insufficientErr.Available,
		})
	case errors.As(err, &fitErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fitErr.Error()})
	case errors.As(err, &metricsErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": metricsErr.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

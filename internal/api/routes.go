package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/demandcast/internal/api/handlers"
	"github.com/irfndi/demandcast/internal/telemetry"
)

// SetupRoutes wires all HTTP endpoints onto the router.
func SetupRoutes(router *gin.Engine, forecastHandler *handlers.ForecastHandler, healthHandler *handlers.HealthHandler) {
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		forecasts := v1.Group("/forecasts")
		{
			forecasts.POST("", forecastHandler.CreateForecast)
			forecasts.GET("", forecastHandler.ListForecasts)
			forecasts.GET("/:id", forecastHandler.GetForecast)
			forecasts.PATCH("/:id/status", forecastHandler.UpdateStatus)
			forecasts.POST("/:id/actuals", forecastHandler.RecordActuals)
			forecasts.POST("/:id/adjustments", forecastHandler.CreateAdjustment)
		}

		configs := v1.Group("/model-configurations")
		{
			configs.POST("", forecastHandler.CreateModelConfiguration)
			configs.GET("/:id", forecastHandler.GetModelConfiguration)
		}
	}
}

// Package api exposes the acquisition pipeline over HTTP.
package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/modelpull/modelpull/internal/api/controllers"
	"github.com/modelpull/modelpull/internal/logger"
	"github.com/modelpull/modelpull/pkg/coordinator"
	"github.com/modelpull/modelpull/pkg/metadata"
	"github.com/modelpull/modelpull/pkg/model"
)

// RegisterRoutes wires the acquisition endpoints onto an echo instance.
func RegisterRoutes(e *echo.Echo, coord *coordinator.Coordinator, catalog *model.Catalog, store metadata.Store) {
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request", logger.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			return nil
		},
	}))

	ctrl := &controllers.AcquisitionController{Coordinator: coord, Catalog: catalog, Store: store}

	e.POST("/api/models/:id/pull", ctrl.HandlePull)
	e.GET("/api/models", ctrl.HandleListModels)
	e.GET("/api/tasks", ctrl.HandleListTasks)
	e.GET("/api/tasks/:id", ctrl.HandleGetTask)
	e.DELETE("/api/tasks/:id", ctrl.HandleCancelTask)
}

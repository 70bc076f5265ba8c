package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

func (c *Controller) initAdminRoutes() {
	c.Group.GET("/health", c.Health)
	c.Group.GET("/schema", c.GetSchema)

	admin := c.Group.Group("/admin")
	admin.POST("/scan", c.TriggerScan)
	admin.POST("/recover", c.TriggerRecovery)
	admin.POST("/retry", c.RetryFailedNotifications)
	admin.POST("/purge", c.PurgeHistory)
	admin.POST("/cache/clear", c.ClearCache)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetSchema returns the rule-editor catalog.
func (c *Controller) GetSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.sys.Schema())
}

// TriggerScan runs one scan of every enabled rule.
func (c *Controller) TriggerScan(ctx echo.Context) error {
	created, err := c.sys.Engine.ScanAndEvaluateAllRules(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Scan failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"created": len(created),
		"records": created,
	})
}

// TriggerRecovery runs one recovery sweep over open alerts.
func (c *Controller) TriggerRecovery(ctx echo.Context) error {
	n, err := c.sys.Engine.CheckAndRecoverAlerts(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Recovery sweep failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"recovered": n})
}

// PurgeHistory deletes terminal records older than the days query
// parameter.
func (c *Controller) PurgeHistory(ctx echo.Context) error {
	days, err := strconv.Atoi(ctx.QueryParam("days"))
	if err != nil || days <= 0 {
		return c.badRequest(ctx, "days must be a positive integer")
	}
	n, err := c.sys.Engine.PurgeHistory(ctx.Request().Context(), days)
	if err != nil {
		return c.HandleError(ctx, err, "Purge failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"deleted": n})
}

// ClearCache drops resolved collectors and cached target names.
func (c *Controller) ClearCache(ctx echo.Context) error {
	c.sys.Registry.ClearCache()
	if c.names != nil {
		c.names.Flush()
	}
	return ctx.NoContent(http.StatusNoContent)
}

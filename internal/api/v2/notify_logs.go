package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
)

func (c *Controller) initNotifyLogRoutes() {
	logs := c.Group.Group("/notify-logs")
	logs.GET("", c.ListNotifyLogs)
	logs.POST("/retry", c.RetryFailedNotifications)
	logs.POST("/:id/retry", c.RetryNotifyLog)
}

// ListNotifyLogs returns a page of delivery lines filtered by
// alert_record_id, channel_type and status.
func (c *Controller) ListNotifyLogs(ctx echo.Context) error {
	filter := repository.NotifyLogFilter{
		ChannelType: ctx.QueryParam("channel_type"),
		Status:      entities.NotifyLogStatus(strings.ToUpper(ctx.QueryParam("status"))),
	}
	if raw := ctx.QueryParam("alert_record_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.badRequest(ctx, "Invalid alert_record_id")
		}
		filter.AlertRecordID = uint(v)
	}
	return c.listNotifyLogs(ctx, filter)
}

// ListRecordNotifyLogs returns the delivery lines of one record.
func (c *Controller) ListRecordNotifyLogs(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID", http.StatusBadRequest)
	}
	if _, err := c.sys.Records.Get(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to get alert record", http.StatusInternalServerError)
	}
	return c.listNotifyLogs(ctx, repository.NotifyLogFilter{AlertRecordID: id})
}

func (c *Controller) listNotifyLogs(ctx echo.Context, filter repository.NotifyLogFilter) error {
	filter.Limit, filter.Offset = pagination(ctx)
	logs, total, err := c.sys.Dispatcher.ListLogs(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notify logs", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// RetryNotifyLog redelivers one failed line.
func (c *Controller) RetryNotifyLog(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid notify log ID", http.StatusBadRequest)
	}
	line, err := c.sys.Dispatcher.RetryLog(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to retry notification", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, line)
}

// RetryFailedNotifications redelivers every retryable line.
func (c *Controller) RetryFailedNotifications(ctx echo.Context) error {
	n, err := c.sys.Dispatcher.RetryFailed(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to retry notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"retried": n})
}

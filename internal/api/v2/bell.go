package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/notification"
)

const (
	heartbeatInterval        = 30 * time.Second
	maxSSEConnectionDuration = 30 * time.Minute
)

func (c *Controller) initBellRoutes() {
	if c.bell == nil {
		return
	}
	bell := c.Group.Group("/notifications")
	bell.GET("", c.ListNotifications)
	bell.GET("/unread-count", c.UnreadNotificationCount)
	bell.GET("/stream", c.StreamNotifications)
	bell.POST("/:id/read", c.MarkNotificationRead)
}

// ListNotifications returns bell notifications, newest first, filtered by
// recipient and status.
func (c *Controller) ListNotifications(ctx echo.Context) error {
	limit, _ := pagination(ctx)
	items := c.bell.List(notification.FilterOptions{
		Recipient: ctx.QueryParam("recipient"),
		Status:    notification.Status(ctx.QueryParam("status")),
		Limit:     limit,
	})
	return ctx.JSON(http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}

// UnreadNotificationCount returns the unread bell count for a recipient.
func (c *Controller) UnreadNotificationCount(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]int{
		"unread": c.bell.UnreadCount(ctx.QueryParam("recipient")),
	})
}

// MarkNotificationRead marks one bell notification as read.
func (c *Controller) MarkNotificationRead(ctx echo.Context) error {
	if err := c.bell.MarkRead(ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to mark notification read", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// StreamNotifications streams new bell notifications as server-sent events.
// Only notifications for the recipient query parameter are sent when it is
// set.
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	timeout := time.NewTimer(maxSSEConnectionDuration)
	defer timeout.Stop()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	clientID := uuid.NewString()
	recipient := ctx.QueryParam("recipient")
	ch, cancel := c.bell.Subscribe()
	defer cancel()

	if err := writeSSE(res, "connected", map[string]string{"clientId": clientID}); err != nil {
		return nil
	}
	c.log.Debug("notification stream opened", logger.String("client_id", clientID))
	defer c.log.Debug("notification stream closed", logger.String("client_id", clientID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-timeout.C:
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if recipient != "" && n.Recipient != recipient {
				continue
			}
			if err := writeSSE(res, "notification", n); err != nil {
				return nil
			}
		}
	}
}

func writeSSE(res *echo.Response, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/errors"
)

func (c *Controller) initRecordRoutes() {
	records := c.Group.Group("/records")
	records.GET("", c.ListRecords)
	records.POST("", c.CreateManualRecord)
	records.GET("/:id", c.GetRecord)
	records.POST("/:id/process", c.StartProcessRecord)
	records.POST("/:id/resolve", c.ResolveRecord)
	records.POST("/:id/ignore", c.IgnoreRecord)
	records.POST("/:id/task", c.LinkRecordTask)
	records.GET("/:id/notify-logs", c.ListRecordNotifyLogs)
}

// HandleRequest is the body of the process, resolve and ignore endpoints.
type HandleRequest struct {
	Remark string `json:"remark"`
}

// LinkTaskRequest attaches a work-order task.
type LinkTaskRequest struct {
	TaskID     string `json:"task_id"`
	IsSelfTask bool   `json:"is_self_task"`
}

func parseRecordFilter(ctx echo.Context) (repository.AlertRecordFilter, error) {
	filter := repository.AlertRecordFilter{
		TargetType:   ctx.QueryParam("target_type"),
		TargetID:     ctx.QueryParam("target_id"),
		Severity:     ctx.QueryParam("severity"),
		NotifyStatus: entities.NotifyStatus(strings.ToUpper(ctx.QueryParam("notify_status"))),
	}
	filter.Limit, filter.Offset = pagination(ctx)

	invalid := func(name, raw string) error {
		return errors.Newf("invalid %s %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	if raw := ctx.QueryParam("rule_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, invalid("rule_id", raw)
		}
		filter.RuleID = uint(v)
	}
	if raw := ctx.QueryParam("status"); raw != "" {
		for s := range strings.SplitSeq(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, entities.AlertStatus(strings.ToUpper(s)))
			}
		}
	}
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := ctx.QueryParam(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, invalid(name, raw)
		}
		*dst = t.UTC()
	}
	return filter, nil
}

// ListRecords returns a page of alert records.
func (c *Controller) ListRecords(ctx echo.Context) error {
	filter, err := parseRecordFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid filter", http.StatusBadRequest)
	}
	records, total, err := c.sys.Records.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert records", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetRecord returns one alert record.
func (c *Controller) GetRecord(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID", http.StatusBadRequest)
	}
	rec, err := c.sys.Records.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert record", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rec)
}

// CreateManualRecord raises an operator alert.
func (c *Controller) CreateManualRecord(ctx echo.Context) error {
	var in alerting.ManualAlert
	if err := ctx.Bind(&in); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	rec, err := c.sys.Records.CreateManual(ctx.Request().Context(), in, operator(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, rec)
}

// StartProcessRecord moves a pending alert into handling.
func (c *Controller) StartProcessRecord(ctx echo.Context) error {
	return c.handleRecord(ctx, func(id uint, op string, _ HandleRequest) (*entities.AlertRecord, error) {
		return c.sys.Records.StartProcess(ctx.Request().Context(), id, op)
	})
}

// ResolveRecord closes an alert as handled.
func (c *Controller) ResolveRecord(ctx echo.Context) error {
	return c.handleRecord(ctx, func(id uint, op string, req HandleRequest) (*entities.AlertRecord, error) {
		return c.sys.Records.Resolve(ctx.Request().Context(), id, op, req.Remark)
	})
}

// IgnoreRecord closes an alert without handling.
func (c *Controller) IgnoreRecord(ctx echo.Context) error {
	return c.handleRecord(ctx, func(id uint, op string, req HandleRequest) (*entities.AlertRecord, error) {
		return c.sys.Records.Ignore(ctx.Request().Context(), id, op, req.Remark)
	})
}

func (c *Controller) handleRecord(ctx echo.Context, fn func(id uint, operator string, req HandleRequest) (*entities.AlertRecord, error)) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID", http.StatusBadRequest)
	}
	var req HandleRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return c.badRequest(ctx, "Invalid request body")
		}
	}
	rec, err := fn(id, operator(ctx), req)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update alert status", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rec)
}

// LinkRecordTask attaches a work-order task to an alert.
func (c *Controller) LinkRecordTask(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID", http.StatusBadRequest)
	}
	var req LinkTaskRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	rec, err := c.sys.Records.LinkTask(ctx.Request().Context(), id, req.TaskID, req.IsSelfTask, operator(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to link task", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rec)
}

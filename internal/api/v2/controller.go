// Package api exposes the alert engine over HTTP.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
	"github.com/hydrowatch/alertengine/internal/notification"
	"github.com/hydrowatch/alertengine/internal/observability/metrics"
)

const (
	// OperatorHeader carries the acting user for audit fields.
	OperatorHeader = "X-Operator"

	defaultPageLimit = 50
	maxPageLimit     = 500
)

// CacheFlusher drops a component's cached state.
type CacheFlusher interface {
	Flush()
}

// Controller owns the /api/v2 route group.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	sys     *alerting.System
	bell    *notification.Service
	names   CacheFlusher
	metrics *metrics.AlertingMetrics
	log     logger.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithBell serves the in-app notification endpoints from svc.
func WithBell(svc *notification.Service) Option {
	return func(c *Controller) { c.bell = svc }
}

// WithNameCache lets the cache endpoint flush target names too.
func WithNameCache(f CacheFlusher) Option {
	return func(c *Controller) { c.names = f }
}

// WithMetrics serves the prometheus registry at /metrics.
func WithMetrics(m *metrics.AlertingMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New registers every route on e and returns the controller.
func New(e *echo.Echo, sys *alerting.System, opts ...Option) *Controller {
	c := &Controller{
		Echo:  e,
		Group: e.Group("/api/v2"),
		sys:   sys,
		log:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Module("api")

	c.initRuleRoutes()
	c.initRecordRoutes()
	c.initNotifyLogRoutes()
	c.initBellRoutes()
	c.initAdminRoutes()
	return c
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, errors.ErrValidation), errors.Is(err, errors.ErrUnknownMetric):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrIllegalState), errors.Is(err, errors.ErrNotRetryable):
		return http.StatusConflict
	}
	return fallback
}

// HandleError writes err as JSON. Categorized client errors pick their own
// status; anything else uses fallback and is logged.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, fallback int) error {
	status := statusFor(err, fallback)
	if status >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.String("method", ctx.Request().Method),
			logger.Error(err))
	}
	resp := ErrorResponse{Error: err.Error(), Message: message}
	if cat := errors.CategoryOf(err); cat != errors.CategoryGeneric {
		resp.Category = string(cat)
	}
	return ctx.JSON(status, resp)
}

func (c *Controller) badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Message: message, Category: string(errors.CategoryValidation)})
}

// operator returns the acting user, "system" when the header is absent.
func operator(ctx echo.Context) string {
	if op := strings.TrimSpace(ctx.Request().Header.Get(OperatorHeader)); op != "" {
		return op
	}
	return "system"
}

func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Newf("invalid %s %q", name, ctx.Param(name)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(v), nil
}

// pagination reads limit and offset, clamping limit to maxPageLimit.
func pagination(ctx echo.Context) (limit, offset int) {
	limit = defaultPageLimit
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func boolQuery(ctx echo.Context, name string) (*bool, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.Newf("invalid %s %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return &v, nil
}

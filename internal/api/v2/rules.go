package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/datastore/v2/repository"
	"github.com/hydrowatch/alertengine/internal/logger"
)

func (c *Controller) initRuleRoutes() {
	rules := c.Group.Group("/rules")
	rules.GET("", c.ListRules)
	rules.POST("", c.CreateRule)
	rules.GET("/export", c.ExportRules)
	rules.POST("/import", c.ImportRules)
	rules.POST("/validate", c.ValidateRule)
	rules.POST("/reset-defaults", c.ResetDefaultRules)
	rules.GET("/:id", c.GetRule)
	rules.PUT("/:id", c.UpdateRule)
	rules.DELETE("/:id", c.DeleteRule)
	rules.POST("/:id/enable", c.EnableRule)
	rules.POST("/:id/disable", c.DisableRule)
	rules.POST("/:id/evaluate", c.EvaluateRule)
}

// ListRules returns rules, optionally filtered by rule_type, target_type,
// severity, enabled and built_in.
func (c *Controller) ListRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		RuleType:   ctx.QueryParam("rule_type"),
		TargetType: ctx.QueryParam("target_type"),
		Severity:   ctx.QueryParam("severity"),
	}
	var err error
	if filter.Enabled, err = boolQuery(ctx, "enabled"); err != nil {
		return c.HandleError(ctx, err, "Invalid filter", http.StatusBadRequest)
	}
	if filter.BuiltIn, err = boolQuery(ctx, "built_in"); err != nil {
		return c.HandleError(ctx, err, "Invalid filter", http.StatusBadRequest)
	}

	rules, err := c.sys.Rules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns one rule with its conditions and actions.
func (c *Controller) GetRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}
	rule, err := c.sys.Rules.GetRule(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// CreateRule validates and stores a rule.
func (c *Controller) CreateRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if err := c.sys.Rules.CreateRule(ctx.Request().Context(), &rule, operator(ctx)); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, rule)
}

// UpdateRule replaces a rule.
func (c *Controller) UpdateRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	rule.ID = id
	if err := c.sys.Rules.UpdateRule(ctx.Request().Context(), &rule, operator(ctx)); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// ValidateRule reports every problem with a rule without storing it.
func (c *Controller) ValidateRule(ctx echo.Context) error {
	var rule entities.AlertRule
	if err := ctx.Bind(&rule); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if err := c.sys.Rules.ValidateRule(ctx.Request().Context(), &rule); err != nil {
		return c.HandleError(ctx, err, "Rule is invalid", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"valid": true})
}

// DeleteRule soft-deletes a rule.
func (c *Controller) DeleteRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}
	if err := c.sys.Rules.DeleteRule(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert rule", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// EnableRule enables a rule.
func (c *Controller) EnableRule(ctx echo.Context) error {
	return c.toggleRule(ctx, true)
}

// DisableRule disables a rule.
func (c *Controller) DisableRule(ctx echo.Context) error {
	return c.toggleRule(ctx, false)
}

func (c *Controller) toggleRule(ctx echo.Context, enabled bool) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}
	toggle := c.sys.Rules.DisableRule
	if enabled {
		toggle = c.sys.Rules.EnableRule
	}
	if err := toggle(ctx.Request().Context(), id, operator(ctx)); err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// EvaluateRule evaluates a rule against every target without creating
// records.
func (c *Controller) EvaluateRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	}
	results, err := c.sys.Evaluator.EvaluateRuleBatch(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to evaluate alert rule", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rule_id": id,
		"results": results,
	})
}

// ExportRules downloads every rule as a portable bundle.
func (c *Controller) ExportRules(ctx echo.Context) error {
	bundle, err := c.sys.Rules.ExportRules(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to export alert rules", http.StatusInternalServerError)
	}
	ctx.Response().Header().Set("Content-Disposition", "attachment; filename=alert-rules.json")
	return ctx.JSON(http.StatusOK, bundle)
}

// ImportRules stores the rules of a bundle, skipping invalid ones and
// duplicates by name.
func (c *Controller) ImportRules(ctx echo.Context) error {
	var bundle alerting.RuleExport
	if err := ctx.Bind(&bundle); err != nil {
		return c.badRequest(ctx, "Invalid JSON")
	}
	imported, skipped := c.sys.Rules.ImportRules(ctx.Request().Context(), &bundle, operator(ctx))

	reasons := make([]string, 0, len(skipped))
	for _, err := range skipped {
		reasons = append(reasons, err.Error())
	}
	c.log.Info("alert rules imported",
		logger.Int("imported", imported),
		logger.Int("skipped", len(skipped)))
	return ctx.JSON(http.StatusOK, map[string]any{
		"imported": imported,
		"skipped":  reasons,
		"total":    len(bundle.Rules),
	})
}

// ResetDefaultRules replaces the built-in rules with fresh copies.
func (c *Controller) ResetDefaultRules(ctx echo.Context) error {
	n, err := c.sys.Rules.ResetDefaults(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to reset default rules", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"seeded": n})
}

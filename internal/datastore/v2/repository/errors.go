package repository

import "github.com/hydrowatch/alertengine/internal/errors"

func notFound(entity string) error {
	return errors.Newf("%s not found", entity).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Build()
}

// Repository sentinels. All match errors.ErrNotFound.
var (
	ErrAlertRuleNotFound   = notFound("alert rule")
	ErrAlertRecordNotFound = notFound("alert record")
	ErrNotifyLogNotFound   = notFound("notify log")
)

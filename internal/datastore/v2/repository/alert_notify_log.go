package repository

import (
	"context"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// AlertNotifyLogRepository persists notification delivery lines.
type AlertNotifyLogRepository interface {
	CreateLog(ctx context.Context, log *entities.AlertNotifyLog) error
	GetLog(ctx context.Context, id uint) (*entities.AlertNotifyLog, error)
	SaveLog(ctx context.Context, log *entities.AlertNotifyLog) error
	ListLogs(ctx context.Context, filter NotifyLogFilter) ([]entities.AlertNotifyLog, int64, error)

	// ListRetryable returns FAILED lines still under the retry cap, oldest first.
	ListRetryable(ctx context.Context, limit int) ([]entities.AlertNotifyLog, error)
}

// NotifyLogFilter controls notify log listing queries.
type NotifyLogFilter struct {
	AlertRecordID uint
	ChannelType   string
	Status        entities.NotifyLogStatus
	Limit         int
	Offset        int
}

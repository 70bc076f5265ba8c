package repository

import (
	"context"
	"time"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
)

// AlertRecordRepository persists alert records.
type AlertRecordRepository interface {
	CreateRecord(ctx context.Context, record *entities.AlertRecord) error
	GetRecord(ctx context.Context, id uint) (*entities.AlertRecord, error)
	SaveRecord(ctx context.Context, record *entities.AlertRecord) error

	// FindByTarget returns records for the exact target created after since,
	// newest first. A zero since returns all of them.
	FindByTarget(ctx context.Context, targetType, targetID string, since time.Time) ([]entities.AlertRecord, error)
	FindByStatuses(ctx context.Context, statuses ...entities.AlertStatus) ([]entities.AlertRecord, error)
	ListRecords(ctx context.Context, filter AlertRecordFilter) ([]entities.AlertRecord, int64, error)

	// DeleteTerminalBefore purges terminal records last updated before the
	// cutoff together with their notify logs.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRecordFilter controls record listing queries.
type AlertRecordFilter struct {
	RuleID       uint
	TargetType   string
	TargetID     string
	Severity     string
	Statuses     []entities.AlertStatus
	NotifyStatus entities.NotifyStatus
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

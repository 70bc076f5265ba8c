package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

type alertNotifyLogRepository struct {
	db *gorm.DB
}

// NewAlertNotifyLogRepository creates a new AlertNotifyLogRepository.
func NewAlertNotifyLogRepository(db *gorm.DB) AlertNotifyLogRepository {
	return &alertNotifyLogRepository{db: db}
}

func (r *alertNotifyLogRepository) CreateLog(ctx context.Context, log *entities.AlertNotifyLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create notify log: %w", err)
	}
	return nil
}

// GetLog returns a notify log by ID. Returns ErrNotifyLogNotFound if absent.
func (r *alertNotifyLogRepository) GetLog(ctx context.Context, id uint) (*entities.AlertNotifyLog, error) {
	var log entities.AlertNotifyLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotifyLogNotFound
		}
		return nil, fmt.Errorf("failed to get notify log %d: %w", id, err)
	}
	return &log, nil
}

func (r *alertNotifyLogRepository) SaveLog(ctx context.Context, log *entities.AlertNotifyLog) error {
	if log.ID == 0 {
		return fmt.Errorf("failed to save notify log: missing log ID")
	}
	if err := r.db.WithContext(ctx).Save(log).Error; err != nil {
		return fmt.Errorf("failed to save notify log %d: %w", log.ID, err)
	}
	return nil
}

func (r *alertNotifyLogRepository) ListLogs(ctx context.Context, filter NotifyLogFilter) ([]entities.AlertNotifyLog, int64, error) {
	var items []entities.AlertNotifyLog
	var total int64

	apply := func(q *gorm.DB) *gorm.DB {
		if filter.AlertRecordID > 0 {
			q = q.Where("alert_record_id = ?", filter.AlertRecordID)
		}
		if filter.ChannelType != "" {
			q = q.Where("channel_type = ?", filter.ChannelType)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	if err := apply(r.db.WithContext(ctx).Model(&entities.AlertNotifyLog{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notify logs: %w", err)
	}

	query := apply(r.db.WithContext(ctx)).Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notify logs: %w", err)
	}
	return items, total, nil
}

func (r *alertNotifyLogRepository) ListRetryable(ctx context.Context, limit int) ([]entities.AlertNotifyLog, error) {
	var items []entities.AlertNotifyLog
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", entities.NotifyLogFailed, entities.MaxNotifyRetries).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list retryable notify logs: %w", err)
	}
	return items, nil
}

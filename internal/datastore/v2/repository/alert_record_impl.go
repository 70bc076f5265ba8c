package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

type alertRecordRepository struct {
	db *gorm.DB
}

// NewAlertRecordRepository creates a new AlertRecordRepository.
func NewAlertRecordRepository(db *gorm.DB) AlertRecordRepository {
	return &alertRecordRepository{db: db}
}

// CreateRecord inserts a new alert record. A preset CreatedAt is kept.
func (r *alertRecordRepository) CreateRecord(ctx context.Context, record *entities.AlertRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create alert record: %w", err)
	}
	return nil
}

// GetRecord returns a record by ID. Returns ErrAlertRecordNotFound if absent.
func (r *alertRecordRepository) GetRecord(ctx context.Context, id uint) (*entities.AlertRecord, error) {
	var record entities.AlertRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRecordNotFound
		}
		return nil, fmt.Errorf("failed to get alert record %d: %w", id, err)
	}
	return &record, nil
}

// SaveRecord writes every column of an existing record.
func (r *alertRecordRepository) SaveRecord(ctx context.Context, record *entities.AlertRecord) error {
	if record.ID == 0 {
		return fmt.Errorf("failed to save alert record: missing record ID")
	}
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to save alert record %d: %w", record.ID, err)
	}
	return nil
}

// FindByTarget returns records for one target, newest first.
func (r *alertRecordRepository) FindByTarget(ctx context.Context, targetType, targetID string, since time.Time) ([]entities.AlertRecord, error) {
	var records []entities.AlertRecord
	query := r.db.WithContext(ctx).Where("target_type = ? AND target_id = ?", targetType, targetID)
	if !since.IsZero() {
		query = query.Where("created_at > ?", since)
	}
	if err := query.Order("created_at DESC, id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find alert records for %s/%s: %w", targetType, targetID, err)
	}
	return records, nil
}

// FindByStatuses returns all records in any of the given statuses, oldest first.
func (r *alertRecordRepository) FindByStatuses(ctx context.Context, statuses ...entities.AlertStatus) ([]entities.AlertRecord, error) {
	var records []entities.AlertRecord
	if len(statuses) == 0 {
		return records, nil
	}
	if err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find alert records by status: %w", err)
	}
	return records, nil
}

func applyRecordFilter(query *gorm.DB, filter AlertRecordFilter) *gorm.DB {
	if filter.RuleID > 0 {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.TargetType != "" {
		query = query.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.NotifyStatus != "" {
		query = query.Where("notify_status = ?", filter.NotifyStatus)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}
	return query
}

// ListRecords returns records matching the filter with pagination, newest first.
func (r *alertRecordRepository) ListRecords(ctx context.Context, filter AlertRecordFilter) ([]entities.AlertRecord, int64, error) {
	var items []entities.AlertRecord
	var total int64

	countQuery := applyRecordFilter(r.db.WithContext(ctx).Model(&entities.AlertRecord{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert records: %w", err)
	}

	query := applyRecordFilter(r.db.WithContext(ctx), filter).Order("created_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert records: %w", err)
	}
	return items, total, nil
}

var terminalStatuses = []entities.AlertStatus{
	entities.AlertStatusResolved,
	entities.AlertStatusIgnored,
	entities.AlertStatusRecovered,
}

// DeleteTerminalBefore permanently removes terminal records and their notify logs.
func (r *alertRecordRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Unscoped().Model(&entities.AlertRecord{}).
			Where("status IN ? AND updated_at < ?", terminalStatuses, before).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to select expired alert records: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("alert_record_id IN ?", ids).Delete(&entities.AlertNotifyLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete notify logs of expired records: %w", err)
		}
		result := tx.Unscoped().Where("id IN ?", ids).Delete(&entities.AlertRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired alert records: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/alertengine/internal/datastore/v2/entities"
	"github.com/hydrowatch/alertengine/internal/errors"
)

func newTestRecord(ruleID uint, targetID string, status entities.AlertStatus, createdAt time.Time) *entities.AlertRecord {
	return &entities.AlertRecord{
		AlertCode:    "ALERT-THRESHOLD-SITE-" + createdAt.Format("20060102150405"),
		RuleID:       ruleID,
		RuleName:     "pH high",
		RuleType:     entities.RuleTypeThreshold,
		TargetType:   "site",
		TargetID:     targetID,
		TargetName:   "Site " + targetID,
		Severity:     entities.SeverityCritical,
		Message:      "pH high at Site " + targetID,
		AlertData:    `[{"metric":"ph","value":"9.5"}]`,
		Status:       status,
		NotifyStatus: entities.NotifyStatusUnsent,
		CreatedAt:    createdAt,
	}
}

func TestAlertRecordRepository_CreateGetSave(t *testing.T) {
	db := setupAlertTestDB(t)
	repo := NewAlertRecordRepository(db)
	ctx := t.Context()

	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := newTestRecord(1, "S-001", entities.AlertStatusPending, created)
	require.NoError(t, repo.CreateRecord(ctx, rec))
	require.NotZero(t, rec.ID)

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "S-001", got.TargetID)
	assert.True(t, got.CreatedAt.Equal(created), "preset creation time must be kept")
	assert.Equal(t, entities.AlertStatusPending, got.Status)

	require.NoError(t, got.StartProcess("op-1", created.Add(time.Minute)))
	require.NoError(t, repo.SaveRecord(ctx, got))

	again, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusInProgress, again.Status)
	assert.Equal(t, "op-1", again.Handler)
	require.NotNil(t, again.HandleTime)

	_, err = repo.GetRecord(ctx, 4242)
	require.ErrorIs(t, err, ErrAlertRecordNotFound)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	require.Error(t, repo.SaveRecord(ctx, &entities.AlertRecord{}))
}

func TestAlertRecordRepository_FindByTarget(t *testing.T) {
	db := setupAlertTestDB(t)
	repo := NewAlertRecordRepository(db)
	ctx := t.Context()

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateRecord(ctx, newTestRecord(1, "S-001", entities.AlertStatusPending, base.Add(-40*time.Minute))))
	require.NoError(t, repo.CreateRecord(ctx, newTestRecord(1, "S-001", entities.AlertStatusResolved, base.Add(-10*time.Minute))))
	require.NoError(t, repo.CreateRecord(ctx, newTestRecord(2, "S-001", entities.AlertStatusPending, base.Add(-5*time.Minute))))
	require.NoError(t, repo.CreateRecord(ctx, newTestRecord(1, "S-002", entities.AlertStatusPending, base.Add(-5*time.Minute))))

	t.Run("all records for target", func(t *testing.T) {
		records, err := repo.FindByTarget(ctx, "site", "S-001", time.Time{})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt), "newest first")
	})

	t.Run("since cutoff", func(t *testing.T) {
		records, err := repo.FindByTarget(ctx, "site", "S-001", base.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("target type must match", func(t *testing.T) {
		records, err := repo.FindByTarget(ctx, "device", "S-001", time.Time{})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestAlertRecordRepository_FindByStatuses(t *testing.T) {
	db := setupAlertTestDB(t)
	repo := NewAlertRecordRepository(db)
	ctx := t.Context()

	now := time.Now().UTC()
	for _, s := range []entities.AlertStatus{
		entities.AlertStatusPending,
		entities.AlertStatusInProgress,
		entities.AlertStatusResolved,
		entities.AlertStatusRecovered,
		entities.AlertStatusIgnored,
	} {
		require.NoError(t, repo.CreateRecord(ctx, newTestRecord(1, "S-"+string(s), s, now)))
	}

	open, err := repo.FindByStatuses(ctx, entities.OpenAlertStatuses...)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for i := range open {
		assert.False(t, open[i].Status.IsTerminal())
	}

	none, err := repo.FindByStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAlertRecordRepository_ListRecords(t *testing.T) {
	db := setupAlertTestDB(t)
	repo := NewAlertRecordRepository(db)
	ctx := t.Context()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		rec := newTestRecord(uint(i%2+1), "S-001", entities.AlertStatusPending, base.Add(time.Duration(i)*time.Hour))
		if i == 4 {
			rec.Status = entities.AlertStatusResolved
			rec.Severity = entities.SeverityInfo
		}
		require.NoError(t, repo.CreateRecord(ctx, rec))
	}

	t.Run("pagination keeps total", func(t *testing.T) {
		items, total, err := repo.ListRecords(ctx, AlertRecordFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, items, 2)
		assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))
	})

	t.Run("filter by rule", func(t *testing.T) {
		_, total, err := repo.ListRecords(ctx, AlertRecordFilter{RuleID: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("filter by statuses and severity", func(t *testing.T) {
		items, total, err := repo.ListRecords(ctx, AlertRecordFilter{
			Statuses: []entities.AlertStatus{entities.AlertStatusResolved},
			Severity: entities.SeverityInfo,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, entities.AlertStatusResolved, items[0].Status)
	})

	t.Run("filter by time window", func(t *testing.T) {
		_, total, err := repo.ListRecords(ctx, AlertRecordFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})
}

func TestAlertRecordRepository_DeleteTerminalBefore(t *testing.T) {
	db := setupAlertTestDB(t)
	repo := NewAlertRecordRepository(db)
	logs := NewAlertNotifyLogRepository(db)
	ctx := t.Context()

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)

	expired := newTestRecord(1, "S-001", entities.AlertStatusResolved, old)
	expired.UpdatedAt = old
	stillOpen := newTestRecord(1, "S-002", entities.AlertStatusPending, old)
	stillOpen.UpdatedAt = old
	recent := newTestRecord(1, "S-003", entities.AlertStatusRecovered, time.Now().UTC())

	for _, r := range []*entities.AlertRecord{expired, stillOpen, recent} {
		require.NoError(t, repo.CreateRecord(ctx, r))
	}
	require.NoError(t, logs.CreateLog(ctx, &entities.AlertNotifyLog{
		AlertRecordID: expired.ID, ChannelType: entities.NotifyTypeSMS, Target: "+100", Status: entities.NotifyLogSuccess,
	}))

	deleted, err := repo.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-180*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetRecord(ctx, expired.ID)
	require.ErrorIs(t, err, ErrAlertRecordNotFound)
	_, err = repo.GetRecord(ctx, stillOpen.ID)
	require.NoError(t, err, "open records are never purged")
	_, err = repo.GetRecord(ctx, recent.ID)
	require.NoError(t, err)

	_, total, err := logs.ListLogs(ctx, NotifyLogFilter{AlertRecordID: expired.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	deleted, err = repo.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-180*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mailer-go/internal/db"
	"smart-mailer-go/internal/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(conn)
}

func newRecord(externalID string, category models.Category, receivedAt time.Time) *models.EmailRecord {
	return &models.EmailRecord{
		ExternalID: externalID,
		Subject:    "Subject " + externalID,
		Sender:     "sender@example.com",
		Recipient:  "me@example.com",
		ReceivedAt: receivedAt,
		Body:       "body",
		Category:   category,
	}
}

func TestCreateRecordRejectsDuplicateExternalID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateRecord(ctx, newRecord("msg-1", models.CategoryNormal, now)))

	err := repo.CreateRecord(ctx, newRecord("msg-1", models.CategoryImportant, now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicateRecord))

	found, err := repo.FindByExternalID(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.CategoryNormal, found.Category)
	assert.False(t, found.ProcessedAt.IsZero())
}

func TestFindByExternalIDMissing(t *testing.T) {
	repo := newTestRepository(t)

	found, err := repo.FindByExternalID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSetSentFlagAndCategory(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := newRecord("msg-1", models.CategoryImportant, time.Now().UTC())
	require.NoError(t, repo.CreateRecord(ctx, record))

	require.NoError(t, repo.SetSentFlag(ctx, record.ID, models.FlagNotificationSent))
	require.NoError(t, repo.SetCategory(ctx, record.ID, models.CategoryNormal))

	got, err := repo.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)
	assert.False(t, got.ReplySent)
	assert.Equal(t, models.CategoryNormal, got.Category)

	assert.ErrorIs(t, repo.SetSentFlag(ctx, 9999, models.FlagReplySent), models.ErrRecordNotFound)
	assert.ErrorIs(t, repo.SetCategory(ctx, 9999, models.CategoryNormal), models.ErrRecordNotFound)
	assert.Error(t, repo.SetCategory(ctx, record.ID, models.Category("spam")))
	assert.Error(t, repo.SetSentFlag(ctx, record.ID, models.SentFlag("read")))
}

func TestGetRecordNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetRecord(context.Background(), 42)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
}

func TestAggregateCounts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	normal := newRecord("a", models.CategoryNormal, now)
	important := newRecord("b", models.CategoryImportant, now)
	require.NoError(t, repo.CreateRecord(ctx, normal))
	require.NoError(t, repo.CreateRecord(ctx, important))
	require.NoError(t, repo.CreateRecord(ctx, newRecord("c", models.CategoryNormal, now)))
	require.NoError(t, repo.SetSentFlag(ctx, normal.ID, models.FlagReplySent))
	require.NoError(t, repo.SetSentFlag(ctx, important.ID, models.FlagNotificationSent))

	counts, err := repo.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(2), counts.ByCategory[models.CategoryNormal])
	assert.Equal(t, int64(1), counts.ByCategory[models.CategoryImportant])
	assert.Equal(t, int64(1), counts.RepliesSent)
	assert.Equal(t, int64(1), counts.NotificationsSent)
}

func TestListRecentOrderAndFilter(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateRecord(ctx, newRecord("old", models.CategoryNormal, base)))
	require.NoError(t, repo.CreateRecord(ctx, newRecord("mid", models.CategoryImportant, base.Add(time.Hour))))
	require.NoError(t, repo.CreateRecord(ctx, newRecord("new", models.CategoryNormal, base.Add(2*time.Hour))))

	records, err := repo.ListRecent(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "new", records[0].ExternalID)
	assert.Equal(t, "old", records[2].ExternalID)

	records, err = repo.ListRecent(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].ExternalID)

	important := models.CategoryImportant
	records, err = repo.ListRecent(ctx, 10, &important)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "mid", records[0].ExternalID)
}

func TestAuditLog(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := newRecord("a", models.CategoryNormal, time.Now().UTC())
	second := newRecord("b", models.CategoryImportant, time.Now().UTC())
	require.NoError(t, repo.CreateRecord(ctx, first))
	require.NoError(t, repo.CreateRecord(ctx, second))

	require.NoError(t, repo.AppendAudit(ctx, first.ID, models.ActionClassified, models.StatusSuccess, "normal"))
	require.NoError(t, repo.AppendAudit(ctx, first.ID, models.ActionReplySent, models.StatusError, "smtp down"))
	require.NoError(t, repo.AppendAudit(ctx, second.ID, models.ActionClassified, models.StatusSuccess, "important"))

	all, err := repo.ListAudit(ctx, nil, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	entries, err := repo.ListAudit(ctx, &first.ID, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, first.ID, entry.RecordID)
	}

	limited, err := repo.ListAudit(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteRecordKeepsAudit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := newRecord("a", models.CategoryNormal, time.Now().UTC())
	require.NoError(t, repo.CreateRecord(ctx, record))
	require.NoError(t, repo.AppendAudit(ctx, record.ID, models.ActionClassified, models.StatusSuccess, ""))

	require.NoError(t, repo.DeleteRecord(ctx, record.ID))
	assert.ErrorIs(t, repo.DeleteRecord(ctx, record.ID), models.ErrRecordNotFound)

	found, err := repo.FindByExternalID(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, found)

	entries, err := repo.ListAudit(ctx, &record.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// a deleted record no longer blocks its external id
	require.NoError(t, repo.CreateRecord(ctx, newRecord("a", models.CategoryNormal, time.Now().UTC())))
}

func TestDeleteOlderThanIsExact(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	cutoff := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	before := newRecord("before", models.CategoryNormal, cutoff.Add(-time.Second))
	at := newRecord("at", models.CategoryNormal, cutoff)
	after := newRecord("after", models.CategoryImportant, cutoff.Add(time.Hour))
	for _, record := range []*models.EmailRecord{before, at, after} {
		require.NoError(t, repo.CreateRecord(ctx, record))
		require.NoError(t, repo.AppendAudit(ctx, record.ID, models.ActionClassified, models.StatusSuccess, ""))
	}

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	for _, id := range []string{"at", "after"} {
		found, err := repo.FindByExternalID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, found, id)
	}
	gone, err := repo.FindByExternalID(ctx, "before")
	require.NoError(t, err)
	assert.Nil(t, gone)

	entries, err := repo.ListAudit(ctx, &before.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = repo.ListAudit(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	deleted, err = repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteOlderThanSweepsOrphanedAudit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -30)

	removed := newRecord("removed", models.CategoryNormal, time.Now().UTC())
	recent := newRecord("recent", models.CategoryNormal, time.Now().UTC())
	kept := newRecord("kept", models.CategoryImportant, time.Now().UTC())
	for _, record := range []*models.EmailRecord{removed, recent, kept} {
		require.NoError(t, repo.CreateRecord(ctx, record))
		require.NoError(t, repo.AppendAudit(ctx, record.ID, models.ActionClassified, models.StatusSuccess, ""))
	}
	old := cutoff.Add(-24 * time.Hour)
	require.NoError(t, repo.db.Model(&models.AuditEntry{}).
		Where("record_id IN ?", []uint{removed.ID, kept.ID}).
		Update("timestamp", old).Error)

	require.NoError(t, repo.DeleteRecord(ctx, removed.ID))
	require.NoError(t, repo.DeleteRecord(ctx, recent.ID))

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	entries, err := repo.ListAudit(ctx, &removed.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// history of a recently deleted record waits for its own cutoff
	entries, err = repo.ListAudit(ctx, &recent.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// old audit rows of a live record stay with it
	entries, err = repo.ListAudit(ctx, &kept.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPing(t *testing.T) {
	repo := newTestRepository(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

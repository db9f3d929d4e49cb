package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"smart-mailer-go/internal/models"
)

// Repository is the gorm-backed store for email records and their audit log
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByExternalID returns the record for the given mailbox id, or nil when none exists
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.EmailRecord, error) {
	var record models.EmailRecord
	result := r.db.WithContext(ctx).Where("external_id = ?", externalID).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// CreateRecord inserts a new record. It fails with models.ErrDuplicateRecord
// when a record with the same external id already exists.
func (r *Repository) CreateRecord(ctx context.Context, record *models.EmailRecord) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	// stored in UTC so that range filters compare consistently on every driver
	record.ReceivedAt = record.ReceivedAt.UTC()
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("email %s: %w", record.ExternalID, models.ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to create email record: %w: %v", models.ErrPersistence, err)
	}
	return nil
}

// SetSentFlag flips one delivery flag to true. Flags are never reset.
func (r *Repository) SetSentFlag(ctx context.Context, id uint, flag models.SentFlag) error {
	column, ok := flag.Column()
	if !ok {
		return fmt.Errorf("unknown sent flag %q", flag)
	}
	result := r.db.WithContext(ctx).Model(&models.EmailRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{column: true, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to set %s: %w: %v", column, models.ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// SetCategory reclassifies a record
func (r *Repository) SetCategory(ctx context.Context, id uint, category models.Category) error {
	if !category.IsValid() {
		return fmt.Errorf("invalid category %q", category)
	}
	result := r.db.WithContext(ctx).Model(&models.EmailRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"category": category, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update category: %w: %v", models.ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// AppendAudit adds one row to the audit log
func (r *Repository) AppendAudit(ctx context.Context, recordID uint, action models.AuditAction, status models.AuditStatus, message string) error {
	entry := models.AuditEntry{
		RecordID:  recordID,
		Action:    action,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w: %v", models.ErrPersistence, err)
	}
	return nil
}

// AggregateCounts returns totals over all stored records
func (r *Repository) AggregateCounts(ctx context.Context) (*models.Counts, error) {
	db := r.db.WithContext(ctx)
	counts := &models.Counts{ByCategory: map[models.Category]int64{}}

	if err := db.Model(&models.EmailRecord{}).Count(&counts.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}

	var rows []struct {
		Category models.Category
		Count    int64
	}
	if err := db.Model(&models.EmailRecord{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count emails by category: %w", err)
	}
	for _, row := range rows {
		counts.ByCategory[row.Category] = row.Count
	}

	if err := db.Model(&models.EmailRecord{}).Where("reply_sent = ?", true).Count(&counts.RepliesSent).Error; err != nil {
		return nil, fmt.Errorf("failed to count replies: %w", err)
	}
	if err := db.Model(&models.EmailRecord{}).Where("notification_sent = ?", true).Count(&counts.NotificationsSent).Error; err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	return counts, nil
}

// ListRecent returns the most recently received records, optionally filtered by category
func (r *Repository) ListRecent(ctx context.Context, limit int, category *models.Category) ([]models.EmailRecord, error) {
	query := r.db.WithContext(ctx).Order("received_at DESC").Order("id DESC").Limit(limit)
	if category != nil {
		query = query.Where("category = ?", *category)
	}
	var records []models.EmailRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return records, nil
}

// GetRecord returns a record by id
func (r *Repository) GetRecord(ctx context.Context, id uint) (*models.EmailRecord, error) {
	var record models.EmailRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &record, nil
}

// ListAudit returns the newest audit entries, optionally for one record only
func (r *Repository) ListAudit(ctx context.Context, recordID *uint, limit int) ([]models.AuditEntry, error) {
	query := r.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC").Limit(limit)
	if recordID != nil {
		query = query.Where("record_id = ?", *recordID)
	}
	var entries []models.AuditEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return entries, nil
}

// DeleteRecord removes a single record. Its audit history is kept until the
// retention sweep ages it out.
func (r *Repository) DeleteRecord(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.EmailRecord{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete email: %w: %v", models.ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// DeleteOlderThan removes records received strictly before cutoff together
// with their audit rows, and returns the number of records deleted. Audit rows
// older than cutoff whose record was deleted individually are swept as well.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	cutoff = cutoff.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.EmailRecord{}).Select("id").Where("received_at < ?", cutoff)
		if err := tx.Where("record_id IN (?)", stale).Delete(&models.AuditEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete processing logs: %w", err)
		}
		result := tx.Where("received_at < ?", cutoff).Delete(&models.EmailRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete emails: %w", result.Error)
		}
		deleted = result.RowsAffected

		live := tx.Model(&models.EmailRecord{}).Select("id")
		if err := tx.Where("timestamp < ? AND record_id NOT IN (?)", cutoff, live).Delete(&models.AuditEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete orphaned processing logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return deleted, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicateKey recognises unique-constraint violations. gorm translates them
// for the mysql and postgres dialects; the sqlite driver message is matched as text.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unique constraint failed", "duplicate entry", "duplicate key value"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

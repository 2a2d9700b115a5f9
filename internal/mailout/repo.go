package mailout

import (
	"context"
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes email outbox persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an outbox repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert queues an outbox row; called inside the transaction that produced it.
func (r *Repository) Insert(ctx context.Context, row *models.EmailOutbox) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// FetchDue returns pending rows whose next attempt is due, oldest first.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.EmailOutbox, error) {
	var rows []models.EmailOutbox
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.EmailStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSent finalizes a delivered row.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  models.EmailStatusSent,
			"sent_at": at,
		}).Error
}

// Reschedule records a failed attempt and pushes the row to a later slot.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      errMsg,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

// MarkFailed parks a row that ran out of attempts.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.EmailStatusFailed,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    errMsg,
		}).Error
}

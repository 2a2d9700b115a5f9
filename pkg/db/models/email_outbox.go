package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailStatus tracks an outbox row through delivery.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// EmailKind names the template a row should be rendered with.
type EmailKind string

const EmailKindVerification EmailKind = "verification"

// EmailOutbox is a transactional email queued alongside the write that caused
// it. The dispatcher delivers pending rows and reschedules failures with
// backoff until the attempt budget runs out.
type EmailOutbox struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Recipient     string          `gorm:"column:recipient;not null"`
	Kind          EmailKind       `gorm:"column:kind;not null"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Status        EmailStatus     `gorm:"column:status;not null;default:'pending';index"`
	AttemptCount  int             `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt time.Time       `gorm:"column:next_attempt_at;not null;index"`
	LastError     *string         `gorm:"column:last_error"`
	SentAt        *time.Time      `gorm:"column:sent_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the snake_case name explicit.
func (EmailOutbox) TableName() string { return "email_outbox" }

func (e *EmailOutbox) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

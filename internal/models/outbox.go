package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbox event lifecycle.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
	OutboxStatusDead      = "dead"
)

// OutboxEvent is a notification written in the same transaction as the
// business change it describes and delivered later by the relay.
type OutboxEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	EventType   string     `gorm:"size:100;not null;index" json:"eventType"`
	AggregateID string     `gorm:"size:100;not null" json:"aggregateId"`
	Recipients  StringList `gorm:"type:text" json:"recipients"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      string     `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"lastError,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

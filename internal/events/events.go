// Package events implements the transactional outbox: business operations
// enqueue notifications in their own transaction and the relay delivers them
// once committed, at least once.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/diewo77/go-assistance/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event types.
const (
	AllocationReserved      = "allocation.reserved"
	AllocationStatusChanged = "allocation.status_changed"
	TransferPending         = "transfer.pending_approval"
	TransferCompleted       = "transfer.completed"
	TransferRejected        = "transfer.rejected"
	DemandeStatusChanged    = "demande.status_changed"
)

// Event is the message handed to a Publisher.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	Recipients  []string        `json:"recipients"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Publisher delivers events to the notification service.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// UserRecipient addresses a notification to one user.
func UserRecipient(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}

// Enqueue stores an event in the outbox using tx, so it commits or rolls
// back with the business change.
func Enqueue(tx *gorm.DB, eventType, aggregateID string, recipients []string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	row := models.OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Recipients:  models.StringList(recipients),
		Payload:     string(body),
		Status:      models.OutboxStatusPending,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func toEvent(row models.OutboxEvent) Event {
	return Event{
		ID:          row.ID,
		Type:        row.EventType,
		AggregateID: row.AggregateID,
		Recipients:  []string(row.Recipients),
		Payload:     json.RawMessage(row.Payload),
		CreatedAt:   row.CreatedAt,
	}
}

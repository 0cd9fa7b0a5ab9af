package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferType is the direction of a transfer leg relative to its pool.
type TransferType string

const (
	TransferIncoming TransferType = "incoming"
	TransferOutgoing TransferType = "outgoing"
)

// TransferStatus is the approval state shared by both legs of a transfer.
type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusApproved TransferStatus = "approved"
	TransferStatusRejected TransferStatus = "rejected"
)

// Transfer is one leg of a fund movement between two pools. Every transfer is
// recorded twice: an outgoing leg on the source pool and an incoming leg on the
// target pool, both carrying the same Reference.
type Transfer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Reference uuid.UUID    `gorm:"type:uuid;index;not null" json:"reference"`
	PoolID    uint         `gorm:"index;not null" json:"poolId"`
	Type      TransferType `gorm:"size:10;not null" json:"type"`

	Amount     decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	FromPoolID uint            `gorm:"not null" json:"fromPoolId"`
	ToPoolID   uint            `gorm:"not null" json:"toPoolId"`
	Status     TransferStatus  `gorm:"size:20;not null;default:'pending';index" json:"status"`

	TransferredByID uint       `gorm:"index" json:"transferredById"`
	ApprovedByID    *uint      `json:"approvedById,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	Reason          string     `gorm:"type:text" json:"reason,omitempty"`
}

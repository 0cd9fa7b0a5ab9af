package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationStatus tracks a reservation of pool funds for one demande.
type AllocationStatus string

const (
	AllocationStatusReserved  AllocationStatus = "reserved"
	AllocationStatusConfirmed AllocationStatus = "confirmed"
	AllocationStatusPaid      AllocationStatus = "paid"
	AllocationStatusCancelled AllocationStatus = "cancelled"
)

var allocationTransitions = map[AllocationStatus][]AllocationStatus{
	AllocationStatusReserved:  {AllocationStatusConfirmed, AllocationStatusCancelled},
	AllocationStatusConfirmed: {AllocationStatusPaid, AllocationStatusCancelled},
}

// IsValid reports whether s is a known allocation status.
func (s AllocationStatus) IsValid() bool {
	switch s {
	case AllocationStatusReserved, AllocationStatusConfirmed, AllocationStatusPaid, AllocationStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an allocation may move from s to next.
func (s AllocationStatus) CanTransitionTo(next AllocationStatus) bool {
	return slices.Contains(allocationTransitions[s], next)
}

// IsLive reports whether the allocation still holds pool funds
// (reserved or confirmed).
func (s AllocationStatus) IsLive() bool {
	return s == AllocationStatusReserved || s == AllocationStatusConfirmed
}

// Allocation is a reservation, and later confirmation, of pool funds against
// one approved demande. It belongs to exactly one pool.
type Allocation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	PoolID    uint `gorm:"index;not null" json:"poolId"`
	DemandeID uint `gorm:"index;not null" json:"demandeId"`

	Amount decimal.Decimal  `gorm:"type:numeric(15,2);not null" json:"amount"`
	Status AllocationStatus `gorm:"size:20;not null;default:'reserved';index" json:"status"`

	AllocatedByID uint       `gorm:"index" json:"allocatedById"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	Notes         string     `gorm:"type:text" json:"notes,omitempty"`
}

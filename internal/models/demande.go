package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DemandeStatus represents the review state of an assistance request.
type DemandeStatus string

const (
	DemandeStatusDraft         DemandeStatus = "draft"
	DemandeStatusSubmitted     DemandeStatus = "submitted"
	DemandeStatusUnderReview   DemandeStatus = "under_review"
	DemandeStatusPendingDocs   DemandeStatus = "pending_docs"
	DemandeStatusApproved      DemandeStatus = "approved"
	DemandeStatusPartiallyPaid DemandeStatus = "partially_paid"
	DemandeStatusPaid          DemandeStatus = "paid"
	DemandeStatusRejected      DemandeStatus = "rejected"
	DemandeStatusCancelled     DemandeStatus = "cancelled"
)

var demandeTransitions = map[DemandeStatus][]DemandeStatus{
	DemandeStatusDraft:         {DemandeStatusSubmitted, DemandeStatusCancelled},
	DemandeStatusSubmitted:     {DemandeStatusUnderReview, DemandeStatusRejected, DemandeStatusCancelled},
	DemandeStatusUnderReview:   {DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected, DemandeStatusCancelled},
	DemandeStatusPendingDocs:   {DemandeStatusUnderReview, DemandeStatusRejected, DemandeStatusCancelled},
	DemandeStatusApproved:      {DemandeStatusPartiallyPaid, DemandeStatusPaid, DemandeStatusCancelled},
	DemandeStatusPartiallyPaid: {DemandeStatusPaid},
}

// IsValid reports whether s is a known demande status.
func (s DemandeStatus) IsValid() bool {
	_, ok := demandeTransitions[s]
	return ok || s == DemandeStatusPaid || s == DemandeStatusRejected || s == DemandeStatusCancelled
}

// CanTransitionTo reports whether a demande may move from s to next.
func (s DemandeStatus) CanTransitionTo(next DemandeStatus) bool {
	return slices.Contains(demandeTransitions[s], next)
}

// Demande is an assistance request submitted by a citizen.
type Demande struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Reference string `gorm:"size:50;uniqueIndex" json:"reference"`

	ApplicantID uint  `gorm:"index;not null" json:"applicantId"`
	Applicant   *User `gorm:"foreignKey:ApplicantID" json:"applicant,omitempty"`

	Category    string `gorm:"size:100;index;not null" json:"category"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Status DemandeStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`

	RequestedAmount decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"requestedAmount"`
	ApprovedAmount  decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"approvedAmount"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"paidAmount"`

	// Denormalized pointer to the live allocation funding this demande.
	BudgetPoolID       *uint `gorm:"index" json:"budgetPoolId,omitempty"`
	BudgetAllocationID *uint `gorm:"index" json:"budgetAllocationId,omitempty"`

	ReviewedByID *uint  `json:"reviewedById,omitempty"`
	StatusReason string `gorm:"type:text" json:"statusReason,omitempty"`
}

// GetUserID implements the Ownable interface: the applicant owns the demande.
func (d *Demande) GetUserID() uint {
	return d.ApplicantID
}

// HasAllocation reports whether the demande points at an allocation. While
// the demande is approved that allocation is live.
func (d *Demande) HasAllocation() bool {
	return d.BudgetAllocationID != nil
}

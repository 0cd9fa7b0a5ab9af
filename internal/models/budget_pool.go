package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PoolStatus represents the lifecycle state of a budget pool.
type PoolStatus string

const (
	PoolStatusDraft       PoolStatus = "draft"
	PoolStatusActive      PoolStatus = "active"
	PoolStatusFrozen      PoolStatus = "frozen"
	PoolStatusDepleted    PoolStatus = "depleted"
	PoolStatusExpired     PoolStatus = "expired"
	PoolStatusCancelled   PoolStatus = "cancelled"
	PoolStatusTransferred PoolStatus = "transferred"
)

var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolStatusDraft:    {PoolStatusActive, PoolStatusCancelled},
	PoolStatusActive:   {PoolStatusFrozen, PoolStatusDepleted, PoolStatusExpired, PoolStatusCancelled},
	PoolStatusFrozen:   {PoolStatusActive, PoolStatusCancelled},
	PoolStatusDepleted: {PoolStatusActive},
}

// IsValid reports whether s is a known pool status.
func (s PoolStatus) IsValid() bool {
	switch s {
	case PoolStatusDraft, PoolStatusActive, PoolStatusFrozen, PoolStatusDepleted,
		PoolStatusExpired, PoolStatusCancelled, PoolStatusTransferred:
		return true
	}
	return false
}

// CanTransitionTo reports whether the whitelist allows moving from s to next.
// expired, cancelled and transferred are terminal.
func (s PoolStatus) CanTransitionTo(next PoolStatus) bool {
	return slices.Contains(poolTransitions[s], next)
}

// IsClosed reports whether the pool reached a status it can never leave.
func (s PoolStatus) IsClosed() bool {
	return s == PoolStatusExpired || s == PoolStatusCancelled || s == PoolStatusTransferred
}

// StringList is a list of strings persisted as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return errors.New("string_list: unsupported scan type")
	}
}

// AllocationRules is the per-pool allocation policy. Unset limits are not enforced.
type AllocationRules struct {
	MaxAmountPerRequest  decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"maxAmountPerRequest"`
	EligibilityThreshold *float64            `json:"eligibilityThreshold,omitempty"`
	AllowedCategories    StringList          `gorm:"type:text" json:"allowedCategories"`
	AutoApprovalLimit    decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"autoApprovalLimit"`
}

// AllowsCategory reports whether the category passes the restriction list.
// An empty list allows every category.
func (r AllocationRules) AllowsCategory(category string) bool {
	return len(r.AllowedCategories) == 0 || slices.Contains(r.AllowedCategories, category)
}

// AlertThresholds holds the warning levels used by alert projections.
// Balance levels are utilization percentages, ExpirationWarning is in days.
type AlertThresholds struct {
	LowBalanceWarning    float64 `gorm:"not null;default:80" json:"lowBalanceWarning"`
	CriticalBalanceAlert float64 `gorm:"not null;default:95" json:"criticalBalanceAlert"`
	ExpirationWarning    int     `gorm:"not null;default:30" json:"expirationWarning"`
}

// DefaultAlertThresholds returns the thresholds applied when none are given.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{LowBalanceWarning: 80, CriticalBalanceAlert: 95, ExpirationWarning: 30}
}

// BudgetPool is a bounded fund for a department/program/fiscal year from which
// approved demandes are paid.
type BudgetPool struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string `gorm:"size:255;not null" json:"name"`
	Code        string `gorm:"size:50;uniqueIndex" json:"code,omitempty"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Department  string `gorm:"size:100;index;not null" json:"department"`
	Program     string `gorm:"size:255" json:"program,omitempty"`
	FiscalYear  int    `gorm:"index;not null" json:"fiscalYear"`

	// Budget period
	PeriodStart time.Time `gorm:"not null" json:"periodStart"`
	PeriodEnd   time.Time `gorm:"not null" json:"periodEnd"`

	TotalAmount     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"totalAmount"`
	AllocatedAmount decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"allocatedAmount"`
	ReservedAmount  decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"reservedAmount"`
	SpentAmount     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"spentAmount"`

	Status PoolStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`

	AllocationRules AllocationRules `gorm:"embedded;embeddedPrefix:rule_" json:"allocationRules"`
	AlertThresholds AlertThresholds `gorm:"embedded;embeddedPrefix:alert_" json:"alertThresholds"`

	// Version is bumped by every committed mutation.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedByID uint `gorm:"index" json:"createdById"`

	Allocations []Allocation `gorm:"foreignKey:PoolID" json:"allocations,omitempty"`
	Transfers   []Transfer   `gorm:"foreignKey:PoolID" json:"transfers,omitempty"`
}

// AvailableAmount is totalAmount − allocatedAmount − reservedAmount.
func (p *BudgetPool) AvailableAmount() decimal.Decimal {
	return p.TotalAmount.Sub(p.AllocatedAmount).Sub(p.ReservedAmount)
}

// UtilizationRate is spentAmount / totalAmount * 100, or 0 for an empty pool.
func (p *BudgetPool) UtilizationRate() float64 {
	if !p.TotalAmount.IsPositive() {
		return 0
	}
	rate, _ := p.SpentAmount.Div(p.TotalAmount).Mul(decimal.NewFromInt(100)).Float64()
	return rate
}

// TimeProgress is the elapsed share of the budget period in percent, clamped to [0, 100].
func (p *BudgetPool) TimeProgress(now time.Time) float64 {
	total := p.PeriodEnd.Sub(p.PeriodStart).Hours() / 24
	if total <= 0 {
		return 100
	}
	elapsed := now.Sub(p.PeriodStart).Hours() / 24
	return math.Min(math.Max(elapsed/total*100, 0), 100)
}

// BurnRate is utilizationRate / max(timeProgress, 1).
func (p *BudgetPool) BurnRate(now time.Time) float64 {
	return p.UtilizationRate() / math.Max(p.TimeProgress(now), 1)
}

// RemainingDays is the number of whole days left until the end of the period.
// Negative once the period is over.
func (p *BudgetPool) RemainingDays(now time.Time) int {
	return int(math.Ceil(p.PeriodEnd.Sub(now).Hours() / 24))
}

// IsActive reports whether the pool accepts allocations and transfers.
func (p *BudgetPool) IsActive() bool {
	return p.Status == PoolStatusActive
}

// GetDepartment scopes department-level authorization.
func (p *BudgetPool) GetDepartment() string {
	return p.Department
}

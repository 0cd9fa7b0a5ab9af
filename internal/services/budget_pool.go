package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolInput is the payload of CreatePool.
type PoolInput struct {
	Name            string                  `json:"name"`
	Code            string                  `json:"code"`
	Description     string                  `json:"description"`
	Department      string                  `json:"department"`
	Program         string                  `json:"program"`
	FiscalYear      int                     `json:"fiscalYear"`
	PeriodStart     time.Time               `json:"periodStart"`
	PeriodEnd       time.Time               `json:"periodEnd"`
	TotalAmount     decimal.Decimal         `json:"totalAmount"`
	AllocationRules *models.AllocationRules `json:"allocationRules"`
	AlertThresholds *models.AlertThresholds `json:"alertThresholds"`
}

// PoolPatch is the payload of UpdatePool. Nil fields are left unchanged.
type PoolPatch struct {
	Name            *string                 `json:"name"`
	Description     *string                 `json:"description"`
	Program         *string                 `json:"program"`
	PeriodStart     *time.Time              `json:"periodStart"`
	PeriodEnd       *time.Time              `json:"periodEnd"`
	TotalAmount     *decimal.Decimal        `json:"totalAmount"`
	Status          *models.PoolStatus      `json:"status"`
	AllocationRules *models.AllocationRules `json:"allocationRules"`
	AlertThresholds *models.AlertThresholds `json:"alertThresholds"`
}

// PoolFilter narrows ListPools. Zero values match everything.
type PoolFilter struct {
	Department string
	Status     models.PoolStatus
	FiscalYear int
	Search     string
	Page       int
	Limit      int
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// PoolTotals sums the money columns of a set of pools.
type PoolTotals struct {
	Count     int64           `json:"count"`
	Total     decimal.Decimal `json:"totalAmount"`
	Allocated decimal.Decimal `json:"allocatedAmount"`
	Reserved  decimal.Decimal `json:"reservedAmount"`
	Spent     decimal.Decimal `json:"spentAmount"`
	Available decimal.Decimal `json:"availableAmount"`
}

type PoolList struct {
	Pools      []models.BudgetPool `json:"budgetPools"`
	Pagination Pagination          `json:"pagination"`
	Statistics PoolTotals          `json:"statistics"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreatePool creates a draft pool in the given department.
func (s *BudgetService) CreatePool(ctx context.Context, actor uint, in PoolInput) (*models.BudgetPool, error) {
	pool := &models.BudgetPool{
		Name:            strings.TrimSpace(in.Name),
		Code:            strings.TrimSpace(in.Code),
		Description:     in.Description,
		Department:      strings.TrimSpace(in.Department),
		Program:         in.Program,
		FiscalYear:      in.FiscalYear,
		PeriodStart:     in.PeriodStart,
		PeriodEnd:       in.PeriodEnd,
		TotalAmount:     in.TotalAmount,
		Status:          models.PoolStatusDraft,
		AlertThresholds: models.DefaultAlertThresholds(),
		Version:         1,
		CreatedByID:     actor,
	}
	if in.AllocationRules != nil {
		pool.AllocationRules = *in.AllocationRules
	}
	if in.AlertThresholds != nil {
		pool.AlertThresholds = *in.AlertThresholds
	}
	if pool.Code == "" {
		pool.Code = fmt.Sprintf("BP-%d-%s", pool.FiscalYear, uuid.NewString()[:8])
	}

	if err := s.authorize(ctx, actor, policy.CapCreatePool, pool); err != nil {
		return nil, err
	}
	v := validation.Violations{}
	validation.Required("name", pool.Name, v)
	validation.Required("department", pool.Department, v)
	validation.RangeFloat("fiscalYear", float64(pool.FiscalYear), 2000, 2100, v)
	validation.Period("period", pool.PeriodStart, pool.PeriodEnd, v)
	validation.NonNegativeDecimal("totalAmount", pool.TotalAmount, v)
	validation.MaxScale("totalAmount", pool.TotalAmount, 2, v)
	validateRules(pool.AllocationRules, v)
	validateThresholds(pool.AlertThresholds, v)
	if err := invalid(v); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(pool).Error; err != nil {
		return nil, internal(err)
	}
	s.log.Info("budget pool created", zap.Uint("pool_id", pool.ID), zap.String("department", pool.Department), zap.Uint("actor", actor))
	return pool, nil
}

// GetPool returns a pool with its allocations and transfer legs.
func (s *BudgetService) GetPool(ctx context.Context, actor uint, id uint) (*models.BudgetPool, error) {
	var pool models.BudgetPool
	err := s.db.WithContext(ctx).
		Preload("Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Transfers", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&pool, id).Error
	if err != nil {
		return nil, normalize(notFoundOr(err, "pool_not_found"))
	}
	if err := s.authorize(ctx, actor, policy.CapViewPool, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// ListPools returns one page of pools plus totals over the whole filtered set.
func (s *BudgetService) ListPools(ctx context.Context, actor uint, f PoolFilter) (*PoolList, error) {
	if err := s.authorize(ctx, actor, policy.CapListPools, nil); err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)

	scope := func(db *gorm.DB) *gorm.DB {
		q := db.Model(&models.BudgetPool{})
		if f.Department != "" {
			q = q.Where("department = ?", f.Department)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.FiscalYear != 0 {
			q = q.Where("fiscal_year = ?", f.FiscalYear)
		}
		if f.Search != "" {
			like := "%" + strings.ToLower(f.Search) + "%"
			q = q.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", like, like)
		}
		return q
	}
	db := s.db.WithContext(ctx)

	out := &PoolList{Pools: []models.BudgetPool{}}
	if err := db.Scopes(scope).
		Order("fiscal_year DESC, name").
		Limit(f.Limit).Offset((f.Page - 1) * f.Limit).
		Find(&out.Pools).Error; err != nil {
		return nil, internal(err)
	}
	totals, err := sumPools(db.Scopes(scope))
	if err != nil {
		return nil, internal(err)
	}
	out.Statistics = totals
	out.Pagination = Pagination{
		Page:  f.Page,
		Limit: f.Limit,
		Total: totals.Count,
		Pages: int((totals.Count + int64(f.Limit) - 1) / int64(f.Limit)),
	}
	return out, nil
}

func sumPools(q *gorm.DB) (PoolTotals, error) {
	var t PoolTotals
	row := q.Select(`COUNT(*),
		COALESCE(SUM(total_amount), 0),
		COALESCE(SUM(allocated_amount), 0),
		COALESCE(SUM(reserved_amount), 0),
		COALESCE(SUM(spent_amount), 0)`).Row()
	if err := row.Scan(&t.Count, &t.Total, &t.Allocated, &t.Reserved, &t.Spent); err != nil {
		return t, err
	}
	t.Available = t.Total.Sub(t.Allocated).Sub(t.Reserved)
	return t, nil
}

// UpdatePool applies patch. Status changes follow the pool transition table;
// a refused change leaves the pool untouched.
func (s *BudgetService) UpdatePool(ctx context.Context, actor uint, id uint, patch PoolPatch) (*models.BudgetPool, error) {
	current, err := s.findPool(ctx, id)
	if err != nil {
		return nil, normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapUpdatePool, current); err != nil {
		return nil, err
	}

	var pool *models.BudgetPool
	err = mutate(ctx, s.db, s.locker, []string{lock.PoolKey(id)}, func(tx *gorm.DB) error {
		p, err := lockPool(tx, id)
		if err != nil {
			return err
		}
		if err := s.applyPatch(p, patch); err != nil {
			return err
		}
		pool = p
		return savePool(tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("budget pool updated", zap.Uint("pool_id", id), zap.String("status", string(pool.Status)), zap.Uint("actor", actor))
	return pool, nil
}

func (s *BudgetService) applyPatch(p *models.BudgetPool, patch PoolPatch) error {
	if p.Status.IsClosed() && patch.changesFunding() {
		return newError(InvalidState, "pool_closed").with("status", p.Status)
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Program != nil {
		p.Program = *patch.Program
	}
	if patch.PeriodStart != nil {
		p.PeriodStart = *patch.PeriodStart
	}
	if patch.PeriodEnd != nil {
		p.PeriodEnd = *patch.PeriodEnd
	}
	if patch.AllocationRules != nil {
		p.AllocationRules = *patch.AllocationRules
	}
	if patch.AlertThresholds != nil {
		p.AlertThresholds = *patch.AlertThresholds
	}

	v := validation.Violations{}
	validation.Required("name", p.Name, v)
	validation.Period("period", p.PeriodStart, p.PeriodEnd, v)
	validateRules(p.AllocationRules, v)
	validateThresholds(p.AlertThresholds, v)
	if patch.TotalAmount != nil {
		validation.NonNegativeDecimal("totalAmount", *patch.TotalAmount, v)
		validation.MaxScale("totalAmount", *patch.TotalAmount, 2, v)
	}
	if err := invalid(v); err != nil {
		return err
	}

	if patch.TotalAmount != nil {
		committed := p.AllocatedAmount.Add(p.ReservedAmount)
		if patch.TotalAmount.LessThan(committed) {
			return newError(InvalidState, "total_below_committed").
				with("committed", committed).
				with("requested", *patch.TotalAmount)
		}
		p.TotalAmount = *patch.TotalAmount
	}

	if patch.Status != nil && *patch.Status != p.Status {
		next := *patch.Status
		if !next.IsValid() {
			return invalid(validation.Violations{"status": "invalid_format"})
		}
		if !p.Status.CanTransitionTo(next) {
			return newError(InvalidState, "invalid_transition").
				with("from", p.Status).
				with("to", next)
		}
		if next == models.PoolStatusActive {
			if err := s.checkActivation(p); err != nil {
				return err
			}
		}
		p.Status = next
	}
	return nil
}

// changesFunding reports whether the patch touches amounts, rules or the
// period. Closed pools only accept label edits.
func (p PoolPatch) changesFunding() bool {
	return p.TotalAmount != nil || p.AllocationRules != nil || p.AlertThresholds != nil ||
		p.PeriodStart != nil || p.PeriodEnd != nil
}

// checkActivation requires funds and a period that has not ended.
func (s *BudgetService) checkActivation(p *models.BudgetPool) error {
	if !p.TotalAmount.IsPositive() {
		return newError(InvalidState, "no_funds_to_activate")
	}
	if !p.PeriodEnd.After(s.now()) {
		return newError(InvalidState, "period_ended")
	}
	return nil
}

// DeletePool soft-deletes a pool that holds no live allocation, no pending
// transfer and has never spent anything.
func (s *BudgetService) DeletePool(ctx context.Context, actor uint, id uint) error {
	current, err := s.findPool(ctx, id)
	if err != nil {
		return normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapDeletePool, current); err != nil {
		return err
	}
	err = mutate(ctx, s.db, s.locker, []string{lock.PoolKey(id)}, func(tx *gorm.DB) error {
		p, err := lockPool(tx, id)
		if err != nil {
			return err
		}
		var live, pending int64
		if err := tx.Model(&models.Allocation{}).
			Where("pool_id = ? AND status IN ?", id, []models.AllocationStatus{models.AllocationStatusReserved, models.AllocationStatusConfirmed}).
			Count(&live).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Transfer{}).
			Where("pool_id = ? AND status = ?", id, models.TransferStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if live > 0 || pending > 0 || !p.SpentAmount.IsZero() {
			return newError(InvalidState, "pool_not_deletable").
				with("liveAllocations", live).
				with("pendingTransfers", pending)
		}
		return tx.Delete(p).Error
	})
	if err != nil {
		return err
	}
	s.log.Info("budget pool deleted", zap.Uint("pool_id", id), zap.Uint("actor", actor))
	return nil
}

func validateRules(r models.AllocationRules, v validation.Violations) {
	if r.MaxAmountPerRequest.Valid {
		validation.PositiveDecimal("allocationRules.maxAmountPerRequest", r.MaxAmountPerRequest.Decimal, v)
	}
	if r.AutoApprovalLimit.Valid {
		validation.PositiveDecimal("allocationRules.autoApprovalLimit", r.AutoApprovalLimit.Decimal, v)
	}
	if r.EligibilityThreshold != nil {
		validation.RangeFloat("allocationRules.eligibilityThreshold", *r.EligibilityThreshold, 0, 100, v)
	}
}

func validateThresholds(t models.AlertThresholds, v validation.Violations) {
	validation.RangeFloat("alertThresholds.lowBalanceWarning", t.LowBalanceWarning, 0, 100, v)
	validation.RangeFloat("alertThresholds.criticalBalanceAlert", t.CriticalBalanceAlert, t.LowBalanceWarning, 100, v)
	validation.RangeFloat("alertThresholds.expirationWarning", float64(t.ExpirationWarning), 0, 3650, v)
}

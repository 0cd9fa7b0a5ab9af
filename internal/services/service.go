// Package services holds the fund-accounting business rules. Every operation
// authorizes its actor once, at entry, then mutates pools inside a single
// database transaction while holding the pool lock.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Authorizer is the authorization boundary used by the services.
// policy.AuthGate implements it.
type Authorizer interface {
	Check(ctx context.Context, actor uint, c gate.Capability, resource any) error
	Has(ctx context.Context, actor uint, c gate.Capability) bool
}

// BudgetService implements budget pool management, the allocation and
// transfer workflows, and the statistics read models.
type BudgetService struct {
	db     *gorm.DB
	authz  Authorizer
	locker lock.Locker
	cfg    config.BudgetConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewBudgetService(db *gorm.DB, authz Authorizer, locker lock.Locker, cfg config.BudgetConfig, log *zap.Logger) *BudgetService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BudgetService{
		db:     db,
		authz:  authz,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// mutate runs fn in a transaction while holding keys.
func mutate(ctx context.Context, db *gorm.DB, locker lock.Locker, keys []string, fn func(tx *gorm.DB) error) error {
	err := locker.WithLock(ctx, keys, func(ctx context.Context) error {
		return db.WithContext(ctx).Transaction(fn)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return &Error{Kind: Conflict, Reason: "concurrent_modification", Err: err}
	}
	return normalize(err)
}

func (s *BudgetService) authorize(ctx context.Context, actor uint, c gate.Capability, resource any) error {
	return denied(s.authz.Check(ctx, actor, c, resource))
}

// findPool reads a pool outside any transaction, for authorization.
func (s *BudgetService) findPool(ctx context.Context, id uint) (*models.BudgetPool, error) {
	var pool models.BudgetPool
	if err := s.db.WithContext(ctx).First(&pool, id).Error; err != nil {
		return nil, notFoundOr(err, "pool_not_found")
	}
	return &pool, nil
}

// lockPool reloads a pool inside tx with a row lock.
func lockPool(tx *gorm.DB, id uint) (*models.BudgetPool, error) {
	var pool models.BudgetPool
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&pool, id).Error; err != nil {
		return nil, notFoundOr(err, "pool_not_found")
	}
	return &pool, nil
}

func lockDemande(tx *gorm.DB, id uint) (*models.Demande, error) {
	var d models.Demande
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error; err != nil {
		return nil, notFoundOr(err, "demande_not_found")
	}
	return &d, nil
}

func notFoundOr(err error, reason string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(NotFound, reason)
	}
	return err
}

// savePool writes the mutable columns of pool guarded by its version and
// bumps the version. A concurrent writer makes it fail with Conflict.
func savePool(tx *gorm.DB, pool *models.BudgetPool) error {
	res := tx.Model(&models.BudgetPool{}).
		Where("id = ? AND version = ?", pool.ID, pool.Version).
		Updates(poolColumns(pool, pool.Version+1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(Conflict, "concurrent_modification")
	}
	pool.Version++
	return nil
}

func poolColumns(p *models.BudgetPool, version int64) map[string]any {
	return map[string]any{
		"name":                         p.Name,
		"description":                  p.Description,
		"program":                      p.Program,
		"period_start":                 p.PeriodStart,
		"period_end":                   p.PeriodEnd,
		"total_amount":                 p.TotalAmount,
		"allocated_amount":             p.AllocatedAmount,
		"reserved_amount":              p.ReservedAmount,
		"spent_amount":                 p.SpentAmount,
		"status":                       p.Status,
		"rule_max_amount_per_request":  p.AllocationRules.MaxAmountPerRequest,
		"rule_eligibility_threshold":   p.AllocationRules.EligibilityThreshold,
		"rule_allowed_categories":      p.AllocationRules.AllowedCategories,
		"rule_auto_approval_limit":     p.AllocationRules.AutoApprovalLimit,
		"alert_low_balance_warning":    p.AlertThresholds.LowBalanceWarning,
		"alert_critical_balance_alert": p.AlertThresholds.CriticalBalanceAlert,
		"alert_expiration_warning":     p.AlertThresholds.ExpirationWarning,
		"version":                      version,
	}
}

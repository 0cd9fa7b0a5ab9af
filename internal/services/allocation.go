package services

import (
	"context"
	"strconv"

	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/metrics"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocateInput is the payload of Allocate.
type AllocateInput struct {
	DemandeID uint            `json:"demandeId"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
}

// AllocationStatusInput is the payload of UpdateAllocationStatus.
type AllocationStatusInput struct {
	Status models.AllocationStatus `json:"status"`
	Notes  string                  `json:"notes"`
}

type allocationEvent struct {
	AllocationID uint                    `json:"allocationId"`
	PoolID       uint                    `json:"poolId"`
	DemandeID    uint                    `json:"demandeId"`
	Amount       decimal.Decimal         `json:"amount"`
	Status       models.AllocationStatus `json:"status"`
	From         models.AllocationStatus `json:"from,omitempty"`
}

var liveAllocation = []models.AllocationStatus{models.AllocationStatusReserved, models.AllocationStatusConfirmed}

// Allocate reserves amount from the pool for an approved demande.
func (s *BudgetService) Allocate(ctx context.Context, actor uint, poolID uint, in AllocateInput) (alloc *models.Allocation, err error) {
	defer func() { metrics.RecordAllocation(allocationResult(err, models.AllocationStatusReserved)) }()

	v := validation.Violations{}
	if in.DemandeID == 0 {
		v["demandeId"] = "required"
	}
	validation.PositiveDecimal("amount", in.Amount, v)
	validation.MaxScale("amount", in.Amount, 2, v)
	if err := invalid(v); err != nil {
		return nil, err
	}

	current, err := s.findPool(ctx, poolID)
	if err != nil {
		return nil, normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapAllocate, current); err != nil {
		return nil, err
	}

	keys := []string{lock.PoolKey(poolID), lock.DemandeKey(in.DemandeID)}
	err = mutate(ctx, s.db, s.locker, keys, func(tx *gorm.DB) error {
		pool, err := lockPool(tx, poolID)
		if err != nil {
			return err
		}
		demande, err := lockDemande(tx, in.DemandeID)
		if err != nil {
			return err
		}
		if err := s.checkAllocation(tx, pool, demande, in.Amount); err != nil {
			return err
		}

		alloc = &models.Allocation{
			PoolID:        pool.ID,
			DemandeID:     demande.ID,
			Amount:        in.Amount,
			Status:        models.AllocationStatusReserved,
			AllocatedByID: actor,
			Notes:         in.Notes,
		}
		if err := tx.Create(alloc).Error; err != nil {
			return err
		}
		pool.ReservedAmount = pool.ReservedAmount.Add(in.Amount)
		if err := savePool(tx, pool); err != nil {
			return err
		}
		if err := tx.Model(demande).Updates(map[string]any{
			"budget_pool_id":       pool.ID,
			"budget_allocation_id": alloc.ID,
		}).Error; err != nil {
			return err
		}
		return events.Enqueue(tx, events.AllocationReserved, allocationAggregate(alloc),
			[]string{events.UserRecipient(demande.ApplicantID)},
			allocationEvent{AllocationID: alloc.ID, PoolID: pool.ID, DemandeID: demande.ID, Amount: alloc.Amount, Status: alloc.Status})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("funds allocated",
		zap.Uint("pool_id", poolID),
		zap.Uint("demande_id", in.DemandeID),
		zap.Uint("allocation_id", alloc.ID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.Uint("actor", actor))
	return alloc, nil
}

// checkAllocation evaluates the allocation preconditions in order: states,
// duplicates, amounts, then the pool rules.
func (s *BudgetService) checkAllocation(tx *gorm.DB, pool *models.BudgetPool, d *models.Demande, amount decimal.Decimal) error {
	if !pool.IsActive() {
		return newError(InvalidState, "pool_not_active").with("status", pool.Status)
	}
	if d.Status != models.DemandeStatusApproved && d.Status != models.DemandeStatusPartiallyPaid {
		return newError(InvalidState, "demande_not_approved").with("status", d.Status)
	}

	// Paid allocations no longer hold funds; a partially paid demande can be
	// topped up from any pool.
	var existing []models.Allocation
	if err := tx.Where("demande_id = ? AND status IN ?", d.ID, liveAllocation).
		Find(&existing).Error; err != nil {
		return err
	}
	for _, a := range existing {
		if a.PoolID == pool.ID {
			return newError(InvalidState, "duplicate_allocation").with("allocationId", a.ID)
		}
	}
	if len(existing) > 0 {
		return newError(InvalidState, "demande_has_allocation").with("allocationId", existing[0].ID)
	}

	if remaining := d.ApprovedAmount.Sub(d.PaidAmount); amount.GreaterThan(remaining) {
		return newError(PolicyViolation, "amount_exceeds_approved").
			with("approvedAmount", d.ApprovedAmount).
			with("remaining", remaining).
			with("requested", amount)
	}
	if available := pool.AvailableAmount(); amount.GreaterThan(available) {
		return newError(InsufficientFunds, "insufficient_funds").
			with("available", available).
			with("requested", amount)
	}

	rules := pool.AllocationRules
	if rules.MaxAmountPerRequest.Valid && amount.GreaterThan(rules.MaxAmountPerRequest.Decimal) {
		return newError(PolicyViolation, "amount_exceeds_request_limit").
			with("limit", rules.MaxAmountPerRequest.Decimal)
	}
	if !rules.AllowsCategory(d.Category) {
		return newError(PolicyViolation, "category_not_allowed").with("category", d.Category)
	}
	if rules.EligibilityThreshold != nil {
		var applicant models.User
		if err := tx.Select("id", "eligibility_score").First(&applicant, d.ApplicantID).Error; err != nil {
			return notFoundOr(err, "user_not_found")
		}
		if applicant.EligibilityScore < *rules.EligibilityThreshold {
			return newError(PolicyViolation, "eligibility_below_threshold").
				with("score", applicant.EligibilityScore).
				with("threshold", *rules.EligibilityThreshold)
		}
	}
	return nil
}

// UpdateAllocationStatus moves an allocation along reserved → confirmed →
// paid, or to cancelled, and applies the matching balance change:
//
//	reserved → confirmed   reserved −a, allocated +a
//	confirmed → paid       spent +a, demande paid amount +a
//	reserved → cancelled   reserved −a
//	confirmed → cancelled  allocated −a
func (s *BudgetService) UpdateAllocationStatus(ctx context.Context, actor uint, poolID, allocationID uint, in AllocationStatusInput) (alloc *models.Allocation, err error) {
	defer func() { metrics.RecordAllocation(allocationResult(err, in.Status)) }()

	if !in.Status.IsValid() {
		return nil, invalid(validation.Violations{"status": "invalid_format"})
	}
	current, err := s.findPool(ctx, poolID)
	if err != nil {
		return nil, normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapAllocate, current); err != nil {
		return nil, err
	}
	var found models.Allocation
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).First(&found, allocationID).Error; err != nil {
		return nil, normalize(notFoundOr(err, "allocation_not_found"))
	}
	if in.Status == models.AllocationStatusConfirmed && found.Status == models.AllocationStatusReserved {
		limit := current.AllocationRules.AutoApprovalLimit
		if limit.Valid && found.Amount.GreaterThan(limit.Decimal) && !s.authz.Has(ctx, actor, policy.CapApproveFunds) {
			return nil, newError(PolicyViolation, "approval_required").with("autoApprovalLimit", limit.Decimal)
		}
	}

	keys := []string{lock.PoolKey(poolID), lock.DemandeKey(found.DemandeID)}
	err = mutate(ctx, s.db, s.locker, keys, func(tx *gorm.DB) error {
		pool, err := lockPool(tx, poolID)
		if err != nil {
			return err
		}
		var a models.Allocation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pool_id = ?", poolID).First(&a, allocationID).Error; err != nil {
			return notFoundOr(err, "allocation_not_found")
		}
		demande, err := lockDemande(tx, a.DemandeID)
		if err != nil {
			return err
		}
		from := a.Status
		if !from.CanTransitionTo(in.Status) {
			return newError(InvalidState, "invalid_transition").with("from", from).with("to", in.Status)
		}
		if in.Status != models.AllocationStatusCancelled && !pool.IsActive() {
			return newError(InvalidState, "pool_not_active").with("status", pool.Status)
		}

		now := s.now()
		demandeCols := map[string]any{}
		switch {
		case from == models.AllocationStatusReserved && in.Status == models.AllocationStatusConfirmed:
			pool.ReservedAmount = pool.ReservedAmount.Sub(a.Amount)
			pool.AllocatedAmount = pool.AllocatedAmount.Add(a.Amount)
			a.ConfirmedAt = &now
		case from == models.AllocationStatusConfirmed && in.Status == models.AllocationStatusPaid:
			pool.SpentAmount = pool.SpentAmount.Add(a.Amount)
			a.PaidAt = &now
			paid := demande.PaidAmount.Add(a.Amount)
			next := models.DemandeStatusPartiallyPaid
			if paid.GreaterThanOrEqual(demande.ApprovedAmount) {
				next = models.DemandeStatusPaid
			}
			demandeCols["paid_amount"] = paid
			if demande.Status.CanTransitionTo(next) {
				demandeCols["status"] = next
			}
			if next == models.DemandeStatusPartiallyPaid && demande.BudgetAllocationID != nil && *demande.BudgetAllocationID == a.ID {
				demandeCols["budget_pool_id"] = nil
				demandeCols["budget_allocation_id"] = nil
			}
		case in.Status == models.AllocationStatusCancelled:
			if from == models.AllocationStatusReserved {
				pool.ReservedAmount = pool.ReservedAmount.Sub(a.Amount)
			} else {
				pool.AllocatedAmount = pool.AllocatedAmount.Sub(a.Amount)
			}
			a.CancelledAt = &now
			if demande.BudgetAllocationID != nil && *demande.BudgetAllocationID == a.ID {
				demandeCols["budget_pool_id"] = nil
				demandeCols["budget_allocation_id"] = nil
			}
		}
		a.Status = in.Status
		if in.Notes != "" {
			a.Notes = in.Notes
		}

		if err := tx.Model(&a).Select("status", "notes", "confirmed_at", "paid_at", "cancelled_at", "updated_at").Updates(&a).Error; err != nil {
			return err
		}
		if err := savePool(tx, pool); err != nil {
			return err
		}
		if len(demandeCols) > 0 {
			if err := tx.Model(demande).Updates(demandeCols).Error; err != nil {
				return err
			}
		}
		alloc = &a
		return events.Enqueue(tx, events.AllocationStatusChanged, allocationAggregate(&a),
			[]string{events.UserRecipient(demande.ApplicantID)},
			allocationEvent{AllocationID: a.ID, PoolID: pool.ID, DemandeID: a.DemandeID, Amount: a.Amount, Status: a.Status, From: from})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("allocation updated",
		zap.Uint("pool_id", poolID),
		zap.Uint("allocation_id", allocationID),
		zap.String("status", string(in.Status)),
		zap.Uint("actor", actor))
	return alloc, nil
}

func allocationAggregate(a *models.Allocation) string {
	return "allocation:" + strconv.FormatUint(uint64(a.ID), 10)
}

func allocationResult(err error, status models.AllocationStatus) string {
	if err != nil {
		return resultLabel(err)
	}
	return string(status)
}

package services

import (
	"context"
	"slices"

	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/metrics"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferInput is the payload of TransferFunds.
type TransferInput struct {
	TargetPoolID uint            `json:"targetPoolId"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
}

// TransferResult groups both legs of one transfer.
type TransferResult struct {
	Reference uuid.UUID             `json:"reference"`
	Status    models.TransferStatus `json:"status"`
	Outgoing  models.Transfer       `json:"outgoing"`
	Incoming  models.Transfer       `json:"incoming"`
}

type transferEvent struct {
	Reference  uuid.UUID             `json:"reference"`
	FromPoolID uint                  `json:"fromPoolId"`
	ToPoolID   uint                  `json:"toPoolId"`
	Amount     decimal.Decimal       `json:"amount"`
	Status     models.TransferStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
}

// TransferFunds moves amount from the source pool to the target pool. The
// move is applied at once only when the actor may approve transfers, both
// pools belong to the same department and amount does not exceed the
// approval threshold. Otherwise both legs are recorded as pending and no
// balance changes until ApproveTransfer.
func (s *BudgetService) TransferFunds(ctx context.Context, actor uint, sourceID uint, in TransferInput) (res *TransferResult, err error) {
	defer func() {
		if err != nil {
			metrics.RecordTransfer(resultLabel(err))
		} else {
			metrics.RecordTransfer(string(res.Status))
		}
	}()

	v := validation.Violations{}
	if in.TargetPoolID == 0 {
		v["targetPoolId"] = "required"
	}
	validation.PositiveDecimal("amount", in.Amount, v)
	validation.MaxScale("amount", in.Amount, 2, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	if sourceID == in.TargetPoolID {
		return nil, newError(BadRequest, "same_pool_transfer")
	}

	source, err := s.findPool(ctx, sourceID)
	if err != nil {
		return nil, normalize(err)
	}
	target, err := s.findPool(ctx, in.TargetPoolID)
	if err != nil {
		return nil, normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapTransfer, source); err != nil {
		return nil, err
	}
	pending := in.Amount.GreaterThan(s.cfg.TransferApprovalThreshold) ||
		source.Department != target.Department ||
		!s.authz.Has(ctx, actor, policy.CapApproveFunds)

	status := models.TransferStatusApproved
	if pending {
		status = models.TransferStatusPending
	}
	ref := uuid.New()
	keys := []string{lock.PoolKey(sourceID), lock.PoolKey(in.TargetPoolID)}
	err = mutate(ctx, s.db, s.locker, keys, func(tx *gorm.DB) error {
		src, dst, err := lockPair(tx, sourceID, in.TargetPoolID)
		if err != nil {
			return err
		}
		if err := checkTransfer(src, dst, in.Amount); err != nil {
			return err
		}

		leg := models.Transfer{
			Reference:       ref,
			Amount:          in.Amount,
			FromPoolID:      src.ID,
			ToPoolID:        dst.ID,
			Status:          status,
			TransferredByID: actor,
			Reason:          in.Reason,
		}
		if !pending {
			now := s.now()
			leg.ApprovedByID = &actor
			leg.ApprovedAt = &now
		}
		res = &TransferResult{Reference: ref, Status: status, Outgoing: leg, Incoming: leg}
		res.Outgoing.PoolID, res.Outgoing.Type = src.ID, models.TransferOutgoing
		res.Incoming.PoolID, res.Incoming.Type = dst.ID, models.TransferIncoming
		if err := tx.Create(&res.Outgoing).Error; err != nil {
			return err
		}
		if err := tx.Create(&res.Incoming).Error; err != nil {
			return err
		}

		payload := transferEvent{Reference: ref, FromPoolID: src.ID, ToPoolID: dst.ID, Amount: in.Amount, Status: status, Reason: in.Reason}
		if pending {
			admins, err := adminRecipients(tx)
			if err != nil {
				return err
			}
			return events.Enqueue(tx, events.TransferPending, transferAggregate(ref), admins, payload)
		}
		if err := moveFunds(tx, src, dst, in.Amount); err != nil {
			return err
		}
		return events.Enqueue(tx, events.TransferCompleted, transferAggregate(ref), []string{events.UserRecipient(actor)}, payload)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("funds transfer recorded",
		zap.String("reference", ref.String()),
		zap.Uint("from_pool_id", sourceID),
		zap.Uint("to_pool_id", in.TargetPoolID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("status", string(status)),
		zap.Uint("actor", actor))
	return res, nil
}

// ApproveTransfer applies a pending transfer. Both pools must still be
// active and the source must still hold the amount.
func (s *BudgetService) ApproveTransfer(ctx context.Context, actor uint, ref uuid.UUID) (*TransferResult, error) {
	res, err := s.decideTransfer(ctx, actor, ref, models.TransferStatusApproved, "")
	if err != nil {
		metrics.RecordTransfer(resultLabel(err))
		return nil, err
	}
	metrics.RecordTransfer(string(models.TransferStatusApproved))
	return res, nil
}

// RejectTransfer closes a pending transfer without moving funds.
func (s *BudgetService) RejectTransfer(ctx context.Context, actor uint, ref uuid.UUID, reason string) (*TransferResult, error) {
	res, err := s.decideTransfer(ctx, actor, ref, models.TransferStatusRejected, reason)
	if err != nil {
		metrics.RecordTransfer(resultLabel(err))
		return nil, err
	}
	metrics.RecordTransfer(string(models.TransferStatusRejected))
	return res, nil
}

func (s *BudgetService) decideTransfer(ctx context.Context, actor uint, ref uuid.UUID, decision models.TransferStatus, reason string) (*TransferResult, error) {
	if err := s.authorize(ctx, actor, policy.CapApproveFunds, nil); err != nil {
		return nil, err
	}
	var probe models.Transfer
	if err := s.db.WithContext(ctx).Where("reference = ?", ref).First(&probe).Error; err != nil {
		return nil, normalize(notFoundOr(err, "transfer_not_found"))
	}

	var res *TransferResult
	keys := []string{lock.PoolKey(probe.FromPoolID), lock.PoolKey(probe.ToPoolID)}
	err := mutate(ctx, s.db, s.locker, keys, func(tx *gorm.DB) error {
		var legs []models.Transfer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", ref).Order("id").Find(&legs).Error; err != nil {
			return err
		}
		res = &TransferResult{Reference: ref, Status: decision}
		for _, l := range legs {
			if l.Status != models.TransferStatusPending {
				return newError(InvalidState, "transfer_not_pending").with("status", l.Status)
			}
			switch l.Type {
			case models.TransferOutgoing:
				res.Outgoing = l
			case models.TransferIncoming:
				res.Incoming = l
			}
		}
		if res.Outgoing.ID == 0 || res.Incoming.ID == 0 {
			return newError(NotFound, "transfer_not_found")
		}

		src, dst, err := lockPair(tx, probe.FromPoolID, probe.ToPoolID)
		if err != nil {
			return err
		}
		amount := res.Outgoing.Amount
		cols := map[string]any{"status": decision}
		eventType := events.TransferRejected
		if decision == models.TransferStatusApproved {
			if err := checkTransfer(src, dst, amount); err != nil {
				return err
			}
			if err := moveFunds(tx, src, dst, amount); err != nil {
				return err
			}
			now := s.now()
			cols["approved_by_id"] = actor
			cols["approved_at"] = now
			res.Outgoing.ApprovedByID, res.Outgoing.ApprovedAt = &actor, &now
			res.Incoming.ApprovedByID, res.Incoming.ApprovedAt = &actor, &now
			eventType = events.TransferCompleted
		}
		if err := tx.Model(&models.Transfer{}).Where("reference = ?", ref).Updates(cols).Error; err != nil {
			return err
		}
		res.Outgoing.Status, res.Incoming.Status = decision, decision

		payload := transferEvent{Reference: ref, FromPoolID: src.ID, ToPoolID: dst.ID, Amount: amount, Status: decision, Reason: reason}
		recipients := []string{events.UserRecipient(res.Outgoing.TransferredByID)}
		return events.Enqueue(tx, eventType, transferAggregate(ref), recipients, payload)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("transfer decided",
		zap.String("reference", ref.String()),
		zap.String("status", string(decision)),
		zap.Uint("actor", actor))
	return res, nil
}

// lockPair locks two pools in id order and returns them as (a, b).
func lockPair(tx *gorm.DB, a, b uint) (*models.BudgetPool, *models.BudgetPool, error) {
	ids := []uint{a, b}
	slices.Sort(ids)
	locked := make(map[uint]*models.BudgetPool, 2)
	for _, id := range ids {
		p, err := lockPool(tx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = p
	}
	return locked[a], locked[b], nil
}

func checkTransfer(src, dst *models.BudgetPool, amount decimal.Decimal) error {
	for _, p := range []*models.BudgetPool{src, dst} {
		if !p.IsActive() {
			return newError(InvalidState, "pool_not_active").with("poolId", p.ID).with("status", p.Status)
		}
	}
	if available := src.AvailableAmount(); amount.GreaterThan(available) {
		return newError(InsufficientFunds, "insufficient_funds").
			with("available", available).
			with("requested", amount)
	}
	return nil
}

// moveFunds shifts amount of totalAmount from src to dst. The caller holds
// both locks.
func moveFunds(tx *gorm.DB, src, dst *models.BudgetPool, amount decimal.Decimal) error {
	src.TotalAmount = src.TotalAmount.Sub(amount)
	dst.TotalAmount = dst.TotalAmount.Add(amount)
	if err := savePool(tx, src); err != nil {
		return err
	}
	return savePool(tx, dst)
}

func adminRecipients(tx *gorm.DB) ([]string, error) {
	var ids []uint
	err := tx.Model(&models.User{}).
		Joins("JOIN profiles ON profiles.id = users.profile_id").
		Where("profiles.name = ?", models.RoleAdmin).
		Order("users.id").
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = events.UserRecipient(id)
	}
	return out, nil
}

func transferAggregate(ref uuid.UUID) string {
	return "transfer:" + ref.String()
}

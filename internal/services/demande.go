package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DemandeInput is the payload of CreateDemande.
type DemandeInput struct {
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
}

// DemandeTransition is the payload of TransitionDemande.
type DemandeTransition struct {
	Status         models.DemandeStatus `json:"status"`
	ApprovedAmount *decimal.Decimal     `json:"approvedAmount"`
	Reason         string               `json:"reason"`
}

type demandeEvent struct {
	DemandeID uint                 `json:"demandeId"`
	Reference string               `json:"reference"`
	From      models.DemandeStatus `json:"from"`
	Status    models.DemandeStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
}

// reviewStatuses can only be entered by reviewers.
var reviewStatuses = map[models.DemandeStatus]bool{
	models.DemandeStatusUnderReview: true,
	models.DemandeStatusPendingDocs: true,
	models.DemandeStatusApproved:    true,
	models.DemandeStatusRejected:    true,
}

// DemandeService manages the review workflow of assistance requests.
// Payment statuses are driven by the allocation workflow, not by this service.
type DemandeService struct {
	db     *gorm.DB
	authz  Authorizer
	locker lock.Locker
	log    *zap.Logger
}

func NewDemandeService(db *gorm.DB, authz Authorizer, locker lock.Locker, log *zap.Logger) *DemandeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DemandeService{db: db, authz: authz, locker: locker, log: log}
}

// CreateDemande files a draft demande on behalf of actor.
func (s *DemandeService) CreateDemande(ctx context.Context, actor uint, in DemandeInput) (*models.Demande, error) {
	if err := denied(s.authz.Check(ctx, actor, policy.CapCreateDemande, nil)); err != nil {
		return nil, err
	}
	d := &models.Demande{
		Reference:       fmt.Sprintf("DEM-%d-%s", time.Now().Year(), strings.ToUpper(uuid.NewString()[:8])),
		ApplicantID:     actor,
		Category:        strings.TrimSpace(in.Category),
		Description:     in.Description,
		Status:          models.DemandeStatusDraft,
		RequestedAmount: in.RequestedAmount,
	}
	v := validation.Violations{}
	validation.Required("category", d.Category, v)
	validation.PositiveDecimal("requestedAmount", d.RequestedAmount, v)
	validation.MaxScale("requestedAmount", d.RequestedAmount, 2, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, internal(err)
	}
	s.log.Info("demande created", zap.Uint("demande_id", d.ID), zap.Uint("actor", actor))
	return d, nil
}

// GetDemande returns a demande visible to actor.
func (s *DemandeService) GetDemande(ctx context.Context, actor uint, id uint) (*models.Demande, error) {
	var d models.Demande
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, normalize(notFoundOr(err, "demande_not_found"))
	}
	if err := denied(s.authz.Check(ctx, actor, policy.CapViewDemande, &d)); err != nil {
		return nil, err
	}
	return &d, nil
}

// TransitionDemande moves a demande along its status machine. Applicants may
// submit and cancel their own demandes; review statuses need the review
// capability. A demande holding an allocation cannot be cancelled or
// rejected until that allocation is cancelled.
func (s *DemandeService) TransitionDemande(ctx context.Context, actor uint, id uint, in DemandeTransition) (*models.Demande, error) {
	if !in.Status.IsValid() {
		return nil, invalid(validation.Violations{"status": "invalid_format"})
	}
	if in.Status == models.DemandeStatusPaid || in.Status == models.DemandeStatusPartiallyPaid {
		return nil, newError(InvalidState, "invalid_transition").with("to", in.Status)
	}
	current, err := s.GetDemande(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := denied(s.authz.Check(ctx, actor, policy.CapUpdateDemande, current)); err != nil {
		return nil, err
	}
	if reviewStatuses[in.Status] && !s.authz.Has(ctx, actor, policy.CapReviewDemande) {
		return nil, newError(Forbidden, "forbidden")
	}

	var out *models.Demande
	err = mutate(ctx, s.db, s.locker, []string{lock.DemandeKey(id)}, func(tx *gorm.DB) error {
		d, err := lockDemande(tx, id)
		if err != nil {
			return err
		}
		from := d.Status
		if !from.CanTransitionTo(in.Status) {
			return newError(InvalidState, "invalid_transition").with("from", from).with("to", in.Status)
		}
		cols := map[string]any{"status": in.Status}
		switch in.Status {
		case models.DemandeStatusApproved:
			v := validation.Violations{}
			if in.ApprovedAmount == nil {
				v["approvedAmount"] = "required"
			} else {
				validation.PositiveDecimal("approvedAmount", *in.ApprovedAmount, v)
				validation.MaxScale("approvedAmount", *in.ApprovedAmount, 2, v)
			}
			if err := invalid(v); err != nil {
				return err
			}
			cols["approved_amount"] = *in.ApprovedAmount
			d.ApprovedAmount = *in.ApprovedAmount
		case models.DemandeStatusCancelled, models.DemandeStatusRejected:
			if d.HasAllocation() {
				return newError(InvalidState, "demande_has_allocation").with("allocationId", *d.BudgetAllocationID)
			}
		}
		if reviewStatuses[in.Status] {
			cols["reviewed_by_id"] = actor
			d.ReviewedByID = &actor
		}
		if in.Reason != "" {
			cols["status_reason"] = in.Reason
			d.StatusReason = in.Reason
		}
		if err := tx.Model(d).Updates(cols).Error; err != nil {
			return err
		}
		d.Status = in.Status
		out = d
		return events.Enqueue(tx, events.DemandeStatusChanged, "demande:"+strconv.FormatUint(uint64(d.ID), 10),
			[]string{events.UserRecipient(d.ApplicantID)},
			demandeEvent{DemandeID: d.ID, Reference: d.Reference, From: from, Status: in.Status, Reason: in.Reason})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("demande updated", zap.Uint("demande_id", id), zap.String("status", string(in.Status)), zap.Uint("actor", actor))
	return out, nil
}

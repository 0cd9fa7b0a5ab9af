package services

import (
	"context"
	"testing"

	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemandeWorkflow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	to := func(s models.DemandeStatus) DemandeTransition { return DemandeTransition{Status: s} }

	d, err := e.demandes.CreateDemande(ctx, e.citizen.ID, DemandeInput{Category: "energy", RequestedAmount: dec(1200)})
	require.NoError(t, err)
	assert.Equal(t, models.DemandeStatusDraft, d.Status)
	assert.Equal(t, e.citizen.ID, d.ApplicantID)
	assert.NotEmpty(t, d.Reference)

	_, err = e.demandes.TransitionDemande(ctx, e.citizen.ID, d.ID, to(models.DemandeStatusSubmitted))
	require.NoError(t, err)

	_, err = e.demandes.TransitionDemande(ctx, e.citizen.ID, d.ID, to(models.DemandeStatusUnderReview))
	require.ErrorIs(t, err, Forbidden, "applicants cannot review their own demande")

	for _, s := range []models.DemandeStatus{models.DemandeStatusUnderReview, models.DemandeStatusPendingDocs, models.DemandeStatusUnderReview} {
		_, err = e.demandes.TransitionDemande(ctx, e.worker.ID, d.ID, to(s))
		require.NoError(t, err, "-> %s", s)
	}

	_, err = e.demandes.TransitionDemande(ctx, e.worker.ID, d.ID, to(models.DemandeStatusApproved))
	require.ErrorIs(t, err, BadRequest, "approval needs an amount")

	amount := decimal.RequireFromString("1000.00")
	got, err := e.demandes.TransitionDemande(ctx, e.worker.ID, d.ID, DemandeTransition{Status: models.DemandeStatusApproved, ApprovedAmount: &amount, Reason: "dossier complet"})
	require.NoError(t, err)
	assert.Equal(t, models.DemandeStatusApproved, got.Status)
	assert.True(t, got.ApprovedAmount.Equal(amount))
	require.NotNil(t, got.ReviewedByID)
	assert.Equal(t, e.worker.ID, *got.ReviewedByID)

	_, err = e.demandes.TransitionDemande(ctx, e.worker.ID, d.ID, to(models.DemandeStatusPaid))
	assert.ErrorIs(t, err, InvalidState, "payment statuses come from allocations")

	assert.Equal(t, int64(5), e.outboxCount(t, events.DemandeStatusChanged))
}

func TestTransitionDemande_RefusesCancelWithAllocation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	pool := e.activePool(t, "social", 10000)
	d := e.approvedDemande(t, 500, "food")
	alloc, err := e.budget.Allocate(ctx, e.finance.ID, pool.ID, AllocateInput{DemandeID: d.ID, Amount: dec(500)})
	require.NoError(t, err)

	_, err = e.demandes.TransitionDemande(ctx, e.citizen.ID, d.ID, DemandeTransition{Status: models.DemandeStatusCancelled})
	require.ErrorIs(t, err, InvalidState)
	assert.Equal(t, "demande_has_allocation", err.(*Error).Reason)

	_, err = e.budget.UpdateAllocationStatus(ctx, e.finance.ID, pool.ID, alloc.ID, AllocationStatusInput{Status: models.AllocationStatusCancelled})
	require.NoError(t, err)
	got, err := e.demandes.TransitionDemande(ctx, e.citizen.ID, d.ID, DemandeTransition{Status: models.DemandeStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.DemandeStatusCancelled, got.Status)
}

func TestDemande_Access(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	other := e.user(t, "other@example.org", "", models.RoleUser, 10)

	d, err := e.demandes.CreateDemande(ctx, e.citizen.ID, DemandeInput{Category: "food", RequestedAmount: dec(80)})
	require.NoError(t, err)

	_, err = e.demandes.GetDemande(ctx, e.citizen.ID, d.ID)
	assert.NoError(t, err)
	_, err = e.demandes.GetDemande(ctx, e.worker.ID, d.ID)
	assert.NoError(t, err)
	_, err = e.demandes.GetDemande(ctx, other.ID, d.ID)
	assert.ErrorIs(t, err, Forbidden)
	_, err = e.demandes.GetDemande(ctx, e.citizen.ID, 9999)
	assert.ErrorIs(t, err, NotFound)

	_, err = e.demandes.TransitionDemande(ctx, other.ID, d.ID, DemandeTransition{Status: models.DemandeStatusSubmitted})
	assert.ErrorIs(t, err, Forbidden)

	_, err = e.demandes.CreateDemande(ctx, e.citizen.ID, DemandeInput{Category: "", RequestedAmount: dec(0)})
	require.ErrorIs(t, err, BadRequest)
	assert.Len(t, err.(*Error).Details, 2)
}

package services

import (
	"context"
	"testing"

	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legs(t *testing.T, e *testEnv, ref uuid.UUID) []models.Transfer {
	t.Helper()
	var out []models.Transfer
	require.NoError(t, e.db.Where("reference = ?", ref).Order("id").Find(&out).Error)
	return out
}

func TestTransferFunds_ImmediateByAdmin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 50000)
	p2 := e.activePool(t, "social", 20000)

	res, err := e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(10000), Reason: "rebalance"})
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusApproved, res.Status)

	src, dst := e.reload(t, p1.ID), e.reload(t, p2.ID)
	assert.True(t, src.TotalAmount.Equal(dec(40000)))
	assert.True(t, dst.TotalAmount.Equal(dec(30000)))
	assert.True(t, src.TotalAmount.Add(dst.TotalAmount).Equal(dec(70000)))

	rows := legs(t, e, res.Reference)
	require.Len(t, rows, 2)
	for _, l := range rows {
		assert.Equal(t, models.TransferStatusApproved, l.Status)
		assert.NotNil(t, l.ApprovedAt)
	}
	assert.Equal(t, models.TransferOutgoing, rows[0].Type)
	assert.Equal(t, p1.ID, rows[0].PoolID)
	assert.Equal(t, models.TransferIncoming, rows[1].Type)
	assert.Equal(t, p2.ID, rows[1].PoolID)
	assert.Equal(t, int64(1), e.outboxCount(t, events.TransferCompleted))
}

func TestTransferFunds_PendingCases(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		targetDep string
		amount    int64
		actor     func(e *testEnv) uint
	}{
		{"above threshold", "social", 50001, func(e *testEnv) uint { return e.admin.ID }},
		{"cross department", "housing", 1000, func(e *testEnv) uint { return e.admin.ID }},
		{"non admin actor", "social", 1000, func(e *testEnv) uint { return e.finance.ID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			p1 := e.activePool(t, "social", 100000)
			p2 := e.activePool(t, tt.targetDep, 20000)

			res, err := e.budget.TransferFunds(ctx, tt.actor(e), p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(tt.amount)})
			require.NoError(t, err)
			assert.Equal(t, models.TransferStatusPending, res.Status)

			assert.True(t, e.reload(t, p1.ID).TotalAmount.Equal(dec(100000)), "pending transfers never move funds")
			assert.True(t, e.reload(t, p2.ID).TotalAmount.Equal(dec(20000)))
			assert.Len(t, legs(t, e, res.Reference), 2)

			var ev models.OutboxEvent
			require.NoError(t, e.db.Where("event_type = ?", events.TransferPending).First(&ev).Error)
			assert.Equal(t, models.StringList{events.UserRecipient(e.admin.ID)}, ev.Recipients)
		})
	}
}

func TestTransferFunds_Rejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 1000)
	p2 := e.activePool(t, "social", 1000)
	draft := e.activePool(t, "social", 1000, func(p *models.BudgetPool) { p.Status = models.PoolStatusDraft })

	_, err := e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: p1.ID, Amount: dec(10)})
	assert.ErrorIs(t, err, BadRequest)

	_, err = e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(1001)})
	assert.ErrorIs(t, err, InsufficientFunds)

	_, err = e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: draft.ID, Amount: dec(10)})
	assert.ErrorIs(t, err, InvalidState)

	_, err = e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: 9999, Amount: dec(10)})
	assert.ErrorIs(t, err, NotFound)

	_, err = e.budget.TransferFunds(ctx, e.financeOther.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(10)})
	assert.ErrorIs(t, err, Forbidden)

	var n int64
	require.NoError(t, e.db.Model(&models.Transfer{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestApproveTransfer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 100000)
	p2 := e.activePool(t, "housing", 20000)

	res, err := e.budget.TransferFunds(ctx, e.finance.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(60000)})
	require.NoError(t, err)
	require.Equal(t, models.TransferStatusPending, res.Status)

	_, err = e.budget.ApproveTransfer(ctx, e.finance.ID, res.Reference)
	assert.ErrorIs(t, err, Forbidden)

	approved, err := e.budget.ApproveTransfer(ctx, e.admin.ID, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusApproved, approved.Status)
	assert.Equal(t, e.admin.ID, *approved.Outgoing.ApprovedByID)

	assert.True(t, e.reload(t, p1.ID).TotalAmount.Equal(dec(40000)))
	assert.True(t, e.reload(t, p2.ID).TotalAmount.Equal(dec(80000)))
	for _, l := range legs(t, e, res.Reference) {
		assert.Equal(t, models.TransferStatusApproved, l.Status)
	}

	_, err = e.budget.ApproveTransfer(ctx, e.admin.ID, res.Reference)
	assert.ErrorIs(t, err, InvalidState, "a transfer is applied once")

	_, err = e.budget.ApproveTransfer(ctx, e.admin.ID, uuid.New())
	assert.ErrorIs(t, err, NotFound)
}

func TestApproveTransfer_RechecksFunds(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 100000)
	p2 := e.activePool(t, "housing", 0)

	res, err := e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(80000)})
	require.NoError(t, err)

	d := e.approvedDemande(t, 50000, "food")
	_, err = e.budget.Allocate(ctx, e.finance.ID, p1.ID, AllocateInput{DemandeID: d.ID, Amount: dec(50000)})
	require.NoError(t, err)

	_, err = e.budget.ApproveTransfer(ctx, e.admin.ID, res.Reference)
	require.ErrorIs(t, err, InsufficientFunds)
	assertBalanced(t, e.reload(t, p1.ID))
	for _, l := range legs(t, e, res.Reference) {
		assert.Equal(t, models.TransferStatusPending, l.Status)
	}
}

func TestRejectTransfer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 100000)
	p2 := e.activePool(t, "social", 0)

	res, err := e.budget.TransferFunds(ctx, e.finance.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: decimal.RequireFromString("1500.50")})
	require.NoError(t, err)

	rejected, err := e.budget.RejectTransfer(ctx, e.admin.ID, res.Reference, "no justification")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusRejected, rejected.Status)
	assert.True(t, e.reload(t, p1.ID).TotalAmount.Equal(dec(100000)))
	assert.True(t, e.reload(t, p2.ID).TotalAmount.IsZero())
	assert.Equal(t, int64(1), e.outboxCount(t, events.TransferRejected))

	_, err = e.budget.ApproveTransfer(ctx, e.admin.ID, res.Reference)
	assert.ErrorIs(t, err, InvalidState)
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/diewo77/go-assistance/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPoolInput() PoolInput {
	now := time.Now()
	return PoolInput{
		Name:        "Fonds de solidarité logement",
		Department:  "social",
		FiscalYear:  now.Year(),
		PeriodStart: now.AddDate(0, -1, 0),
		PeriodEnd:   now.AddDate(0, 11, 0),
		TotalAmount: dec(250000),
	}
}

func TestCreatePool(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	pool, err := e.budget.CreatePool(ctx, e.finance.ID, validPoolInput())
	require.NoError(t, err)
	assert.Equal(t, models.PoolStatusDraft, pool.Status)
	assert.Equal(t, models.DefaultAlertThresholds(), pool.AlertThresholds)
	assert.NotEmpty(t, pool.Code)
	assert.Equal(t, e.finance.ID, pool.CreatedByID)
	assert.Equal(t, int64(1), pool.Version)

	in := validPoolInput()
	in.Department = "housing"
	_, err = e.budget.CreatePool(ctx, e.finance.ID, in)
	assert.ErrorIs(t, err, Forbidden, "pools are created in the actor's department")

	_, err = e.budget.CreatePool(ctx, e.worker.ID, validPoolInput())
	assert.ErrorIs(t, err, Forbidden)
}

func TestCreatePool_Validation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(*PoolInput)
		field string
	}{
		{"missing name", func(in *PoolInput) { in.Name = " " }, "name"},
		{"negative total", func(in *PoolInput) { in.TotalAmount = dec(-1) }, "totalAmount"},
		{"inverted period", func(in *PoolInput) { in.PeriodEnd = in.PeriodStart.AddDate(0, 0, -1) }, "period"},
		{"fiscal year", func(in *PoolInput) { in.FiscalYear = 1999 }, "fiscalYear"},
		{"threshold order", func(in *PoolInput) {
			in.AlertThresholds = &models.AlertThresholds{LowBalanceWarning: 90, CriticalBalanceAlert: 80, ExpirationWarning: 30}
		}, "alertThresholds.criticalBalanceAlert"},
		{"eligibility range", func(in *PoolInput) {
			v := 120.0
			in.AllocationRules = &models.AllocationRules{EligibilityThreshold: &v}
		}, "allocationRules.eligibilityThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validPoolInput()
			tt.edit(&in)
			_, err := e.budget.CreatePool(ctx, e.admin.ID, in)
			require.ErrorIs(t, err, BadRequest)
			assert.Contains(t, err.(*Error).Details, tt.field)
		})
	}
}

func TestUpdatePool_StatusWhitelist(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	status := func(s models.PoolStatus) PoolPatch { return PoolPatch{Status: &s} }

	pool, err := e.budget.CreatePool(ctx, e.finance.ID, validPoolInput())
	require.NoError(t, err)

	_, err = e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, status(models.PoolStatusFrozen))
	require.ErrorIs(t, err, InvalidState, "draft cannot be frozen")
	assert.Equal(t, models.PoolStatusDraft, e.reload(t, pool.ID).Status)
	assert.Equal(t, int64(1), e.reload(t, pool.ID).Version)

	steps := []models.PoolStatus{models.PoolStatusActive, models.PoolStatusFrozen, models.PoolStatusActive, models.PoolStatusDepleted, models.PoolStatusActive, models.PoolStatusExpired}
	for _, s := range steps {
		got, err := e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, status(s))
		require.NoError(t, err, "-> %s", s)
		assert.Equal(t, s, got.Status)
	}

	_, err = e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, status(models.PoolStatusActive))
	assert.ErrorIs(t, err, InvalidState, "expired is terminal")

	_, err = e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, status("bogus"))
	assert.ErrorIs(t, err, BadRequest)
}

func TestUpdatePool_Activation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	active := models.PoolStatusActive

	in := validPoolInput()
	in.TotalAmount = decimal.Zero
	empty, err := e.budget.CreatePool(ctx, e.finance.ID, in)
	require.NoError(t, err)
	_, err = e.budget.UpdatePool(ctx, e.finance.ID, empty.ID, PoolPatch{Status: &active})
	require.ErrorIs(t, err, InvalidState)
	assert.Equal(t, "no_funds_to_activate", err.(*Error).Reason)

	in = validPoolInput()
	in.PeriodStart = time.Now().AddDate(-1, 0, 0)
	in.PeriodEnd = time.Now().AddDate(0, 0, -1)
	ended, err := e.budget.CreatePool(ctx, e.finance.ID, in)
	require.NoError(t, err)
	_, err = e.budget.UpdatePool(ctx, e.finance.ID, ended.ID, PoolPatch{Status: &active})
	require.ErrorIs(t, err, InvalidState)
	assert.Equal(t, "period_ended", err.(*Error).Reason)
}

func TestUpdatePool_TotalAmountNeverBelowCommitted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	pool := e.activePool(t, "social", 10000)
	d := e.approvedDemande(t, 6000, "food")
	_, err := e.budget.Allocate(ctx, e.finance.ID, pool.ID, AllocateInput{DemandeID: d.ID, Amount: dec(6000)})
	require.NoError(t, err)

	low := dec(5000)
	_, err = e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, PoolPatch{TotalAmount: &low})
	require.ErrorIs(t, err, InvalidState)

	ok := dec(6000)
	name := "Renamed"
	got, err := e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, PoolPatch{TotalAmount: &ok, Name: &name})
	require.NoError(t, err)
	assert.True(t, got.AvailableAmount().IsZero())
	assert.Equal(t, "Renamed", e.reload(t, pool.ID).Name)
}

func TestUpdatePool_ClosedPoolsKeepTheirFunding(t *testing.T) {
	ctx := context.Background()
	total := dec(500000)
	end := time.Now().AddDate(2, 0, 0)
	rules := models.AllocationRules{MaxAmountPerRequest: decimal.NewNullDecimal(dec(10))}
	thresholds := models.DefaultAlertThresholds()

	for _, status := range []models.PoolStatus{models.PoolStatusExpired, models.PoolStatusCancelled, models.PoolStatusTransferred} {
		t.Run(string(status), func(t *testing.T) {
			e := newTestEnv(t)
			pool := e.activePool(t, "social", 10000, func(p *models.BudgetPool) { p.Status = status })

			for name, patch := range map[string]PoolPatch{
				"total":      {TotalAmount: &total},
				"period":     {PeriodEnd: &end},
				"rules":      {AllocationRules: &rules},
				"thresholds": {AlertThresholds: &thresholds},
			} {
				_, err := e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, patch)
				require.ErrorIs(t, err, InvalidState, name)
				assert.Equal(t, "pool_closed", err.(*Error).Reason, name)
			}
			got := e.reload(t, pool.ID)
			assert.True(t, got.TotalAmount.Equal(dec(10000)))
			assert.Equal(t, int64(1), got.Version)

			label := "Archived"
			renamed, err := e.budget.UpdatePool(ctx, e.finance.ID, pool.ID, PoolPatch{Name: &label})
			require.NoError(t, err)
			assert.Equal(t, "Archived", renamed.Name)
		})
	}
}

func TestDeletePool(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	busy := e.activePool(t, "social", 10000)
	d := e.approvedDemande(t, 100, "food")
	_, err := e.budget.Allocate(ctx, e.finance.ID, busy.ID, AllocateInput{DemandeID: d.ID, Amount: dec(100)})
	require.NoError(t, err)
	err = e.budget.DeletePool(ctx, e.finance.ID, busy.ID)
	require.ErrorIs(t, err, InvalidState)

	spent := e.activePool(t, "social", 10000, func(p *models.BudgetPool) { p.SpentAmount = dec(10) })
	require.ErrorIs(t, e.budget.DeletePool(ctx, e.finance.ID, spent.ID), InvalidState)

	idle := e.activePool(t, "social", 10000)
	require.NoError(t, e.budget.DeletePool(ctx, e.finance.ID, idle.ID))

	_, err = e.budget.GetPool(ctx, e.finance.ID, idle.ID)
	assert.ErrorIs(t, err, NotFound)
	var n int64
	require.NoError(t, e.db.Unscoped().Model(&models.BudgetPool{}).Where("id = ?", idle.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n, "pools are soft deleted")
}

func TestListPools(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e.activePool(t, "social", 1000)
	}
	e.activePool(t, "housing", 5000, func(p *models.BudgetPool) { p.SpentAmount = dec(500) })

	list, err := e.budget.ListPools(ctx, e.worker.ID, PoolFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list.Pools, 2)
	assert.Equal(t, int64(4), list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.Pages)
	assert.True(t, list.Statistics.Total.Equal(dec(8000)))
	assert.True(t, list.Statistics.Spent.Equal(dec(500)))

	list, err = e.budget.ListPools(ctx, e.worker.ID, PoolFilter{Department: "housing"})
	require.NoError(t, err)
	require.Len(t, list.Pools, 1)
	assert.Equal(t, "housing", list.Pools[0].Department)
	assert.Equal(t, 1, list.Pagination.Page)

	_, err = e.budget.ListPools(ctx, e.citizen.ID, PoolFilter{})
	assert.ErrorIs(t, err, Forbidden)
}

func TestGetPool_PreloadsLedger(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p1 := e.activePool(t, "social", 10000)
	p2 := e.activePool(t, "social", 10000)
	d := e.approvedDemande(t, 100, "food")
	_, err := e.budget.Allocate(ctx, e.finance.ID, p1.ID, AllocateInput{DemandeID: d.ID, Amount: dec(100)})
	require.NoError(t, err)
	_, err = e.budget.TransferFunds(ctx, e.admin.ID, p1.ID, TransferInput{TargetPoolID: p2.ID, Amount: dec(1000)})
	require.NoError(t, err)

	got, err := e.budget.GetPool(ctx, e.worker.ID, p1.ID)
	require.NoError(t, err)
	assert.Len(t, got.Allocations, 1)
	require.Len(t, got.Transfers, 1)
	assert.Equal(t, models.TransferOutgoing, got.Transfers[0].Type)
}

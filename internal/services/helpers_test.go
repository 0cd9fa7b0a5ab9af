package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/db"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db       *gorm.DB
	budget   *BudgetService
	demandes *DemandeService

	admin        models.User
	finance      models.User
	financeOther models.User
	worker       models.User
	citizen      models.User
}

var seq atomic.Int64

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		TransferApprovalThreshold: decimal.NewFromInt(50000),
		HighBurnRate:              1.5,
		CriticalExpirationDays:    7,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.Seed(gdb))

	authz := policy.NewAuthGate(gdb, time.Minute)
	locker := lock.NewMutexLocker()
	e := &testEnv{
		db:       gdb,
		budget:   NewBudgetService(gdb, authz, locker, testBudgetConfig(), nil),
		demandes: NewDemandeService(gdb, authz, locker, nil),
	}
	e.admin = e.user(t, "admin@example.org", "social", models.RoleAdmin, 0)
	e.finance = e.user(t, "finance@example.org", "social", models.RoleFinanceManager, 0)
	e.financeOther = e.user(t, "finance.housing@example.org", "housing", models.RoleFinanceManager, 0)
	e.worker = e.user(t, "worker@example.org", "social", models.RoleCaseWorker, 0)
	e.citizen = e.user(t, "citizen@example.org", "", models.RoleUser, 60)
	return e
}

func (e *testEnv) user(t *testing.T, email, dept, role string, score float64) models.User {
	t.Helper()
	var p models.Profile
	require.NoError(t, e.db.Where("name = ?", role).First(&p).Error)
	u := models.User{Email: email, Department: dept, ProfileID: &p.ID, EligibilityScore: score}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

// activePool inserts an active pool whose period started 30 days ago.
func (e *testEnv) activePool(t *testing.T, dept string, total int64, opts ...func(*models.BudgetPool)) *models.BudgetPool {
	t.Helper()
	now := time.Now()
	p := &models.BudgetPool{
		Name:            "Aide " + dept,
		Code:            fmt.Sprintf("BP-%s-%d", dept, seq.Add(1)),
		Department:      dept,
		FiscalYear:      now.Year(),
		PeriodStart:     now.AddDate(0, 0, -30),
		PeriodEnd:       now.AddDate(0, 0, 335),
		TotalAmount:     decimal.NewFromInt(total),
		Status:          models.PoolStatusActive,
		AlertThresholds: models.DefaultAlertThresholds(),
		Version:         1,
	}
	for _, o := range opts {
		o(p)
	}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

// approvedDemande inserts an approved demande of the citizen.
func (e *testEnv) approvedDemande(t *testing.T, approved int64, category string) *models.Demande {
	t.Helper()
	d := &models.Demande{
		Reference:       fmt.Sprintf("DEM-%d", seq.Add(1)),
		ApplicantID:     e.citizen.ID,
		Category:        category,
		Status:          models.DemandeStatusApproved,
		RequestedAmount: decimal.NewFromInt(approved),
		ApprovedAmount:  decimal.NewFromInt(approved),
	}
	require.NoError(t, e.db.Create(d).Error)
	return d
}

func (e *testEnv) reload(t *testing.T, id uint) *models.BudgetPool {
	t.Helper()
	var p models.BudgetPool
	require.NoError(t, e.db.First(&p, id).Error)
	return &p
}

func (e *testEnv) outboxCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// assertBalanced checks allocated + reserved <= total and available >= 0.
func assertBalanced(t *testing.T, p *models.BudgetPool) {
	t.Helper()
	committed := p.AllocatedAmount.Add(p.ReservedAmount)
	require.Truef(t, committed.LessThanOrEqual(p.TotalAmount), "committed %s exceeds total %s", committed, p.TotalAmount)
	require.False(t, p.AvailableAmount().IsNegative(), "available is negative")
}

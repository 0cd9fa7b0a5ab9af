package services

import (
	"context"
	"time"

	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert types.
const (
	AlertLowBalance        = "low_balance"
	AlertExpirationWarning = "expiration_warning"
	AlertHighBurnRate      = "high_burn_rate"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one firing alert of a pool.
type Alert struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// PoolMetrics are the derived figures of a pool at a point in time.
type PoolMetrics struct {
	AvailableAmount decimal.Decimal `json:"availableAmount"`
	UtilizationRate float64         `json:"utilizationRate"`
	TimeProgress    float64         `json:"timeProgress"`
	BurnRate        float64         `json:"burnRate"`
	RemainingDays   int             `json:"remainingDays"`
}

// MetricsFor computes the projections of p at now.
func MetricsFor(p *models.BudgetPool, now time.Time) PoolMetrics {
	return PoolMetrics{
		AvailableAmount: p.AvailableAmount(),
		UtilizationRate: p.UtilizationRate(),
		TimeProgress:    p.TimeProgress(now),
		BurnRate:        p.BurnRate(now),
		RemainingDays:   p.RemainingDays(now),
	}
}

// Alerts returns every alert firing for p at now. The checks are
// independent and may all fire together.
func Alerts(p *models.BudgetPool, now time.Time, cfg config.BudgetConfig) []Alert {
	alerts := []Alert{}
	t := p.AlertThresholds

	if util := p.UtilizationRate(); util >= t.LowBalanceWarning {
		a := Alert{Type: AlertLowBalance, Severity: SeverityWarning, Value: util, Threshold: t.LowBalanceWarning}
		if util >= t.CriticalBalanceAlert {
			a.Severity, a.Threshold = SeverityCritical, t.CriticalBalanceAlert
		}
		alerts = append(alerts, a)
	}
	if days := p.RemainingDays(now); days <= t.ExpirationWarning {
		a := Alert{Type: AlertExpirationWarning, Severity: SeverityWarning, Value: float64(days), Threshold: float64(t.ExpirationWarning)}
		if days <= cfg.CriticalExpirationDays {
			a.Severity, a.Threshold = SeverityCritical, float64(cfg.CriticalExpirationDays)
		}
		alerts = append(alerts, a)
	}
	if burn := p.BurnRate(now); burn > cfg.HighBurnRate {
		alerts = append(alerts, Alert{Type: AlertHighBurnRate, Severity: SeverityWarning, Value: burn, Threshold: cfg.HighBurnRate})
	}
	return alerts
}

// StatusBucket aggregates rows sharing a status.
type StatusBucket struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferSummary sums the transfer legs of one pool.
type TransferSummary struct {
	IncomingApproved decimal.Decimal `json:"incomingApproved"`
	OutgoingApproved decimal.Decimal `json:"outgoingApproved"`
	PendingIncoming  decimal.Decimal `json:"pendingIncoming"`
	PendingOutgoing  decimal.Decimal `json:"pendingOutgoing"`
	Count            int64           `json:"count"`
}

// MonthlyAmount is the amount allocated during one calendar month.
type MonthlyAmount struct {
	Month  string          `json:"month"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// PoolAnalytics is the read model of GET /budget-pools/{id}/analytics.
type PoolAnalytics struct {
	Pool        *models.BudgetPool `json:"budgetPool"`
	Metrics     PoolMetrics        `json:"metrics"`
	Alerts      []Alert            `json:"alerts"`
	Allocations []StatusBucket     `json:"allocationsByStatus"`
	Transfers   TransferSummary    `json:"transfers"`
	Monthly     []MonthlyAmount    `json:"monthlyAllocations"`
}

// PoolAnalytics reports the metrics, alerts and breakdowns of one pool.
func (s *BudgetService) PoolAnalytics(ctx context.Context, actor uint, id uint) (*PoolAnalytics, error) {
	pool, err := s.findPool(ctx, id)
	if err != nil {
		return nil, normalize(err)
	}
	if err := s.authorize(ctx, actor, policy.CapPoolAnalytics, pool); err != nil {
		return nil, err
	}
	now := s.now()
	db := s.db.WithContext(ctx)
	out := &PoolAnalytics{
		Pool:    pool,
		Metrics: MetricsFor(pool, now),
		Alerts:  Alerts(pool, now, s.cfg),
	}

	out.Allocations = []StatusBucket{}
	if err := db.Model(&models.Allocation{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("pool_id = ?", id).
		Group("status").Order("status").
		Scan(&out.Allocations).Error; err != nil {
		return nil, internal(err)
	}

	var legs []struct {
		Type   models.TransferType
		Status models.TransferStatus
		Count  int64
		Amount decimal.Decimal
	}
	if err := db.Model(&models.Transfer{}).
		Select("type, status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("pool_id = ?", id).
		Group("type, status").
		Scan(&legs).Error; err != nil {
		return nil, internal(err)
	}
	for _, l := range legs {
		out.Transfers.Count += l.Count
		switch {
		case l.Status == models.TransferStatusApproved && l.Type == models.TransferIncoming:
			out.Transfers.IncomingApproved = out.Transfers.IncomingApproved.Add(l.Amount)
		case l.Status == models.TransferStatusApproved && l.Type == models.TransferOutgoing:
			out.Transfers.OutgoingApproved = out.Transfers.OutgoingApproved.Add(l.Amount)
		case l.Status == models.TransferStatusPending && l.Type == models.TransferIncoming:
			out.Transfers.PendingIncoming = out.Transfers.PendingIncoming.Add(l.Amount)
		case l.Status == models.TransferStatusPending && l.Type == models.TransferOutgoing:
			out.Transfers.PendingOutgoing = out.Transfers.PendingOutgoing.Add(l.Amount)
		}
	}

	monthly, err := monthlyAllocations(db, id, pool.PeriodStart)
	if err != nil {
		return nil, internal(err)
	}
	out.Monthly = monthly
	return out, nil
}

// monthlyAllocations buckets non-cancelled allocations by UTC creation month.
func monthlyAllocations(db *gorm.DB, poolID uint, since time.Time) ([]MonthlyAmount, error) {
	var rows []models.Allocation
	err := db.Select("id", "created_at", "amount").
		Where("pool_id = ? AND status <> ? AND created_at >= ?", poolID, models.AllocationStatusCancelled, since).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := []MonthlyAmount{}
	for _, r := range rows {
		month := r.CreatedAt.UTC().Format("2006-01")
		if n := len(out); n > 0 && out[n-1].Month == month {
			out[n-1].Count++
			out[n-1].Amount = out[n-1].Amount.Add(r.Amount)
			continue
		}
		out = append(out, MonthlyAmount{Month: month, Count: 1, Amount: r.Amount})
	}
	return out, nil
}

// DepartmentStats aggregates the pools of one department.
type DepartmentStats struct {
	Department string          `json:"department"`
	Pools      int64           `json:"pools"`
	Total      decimal.Decimal `json:"totalAmount"`
	Allocated  decimal.Decimal `json:"allocatedAmount"`
	Reserved   decimal.Decimal `json:"reservedAmount"`
	Spent      decimal.Decimal `json:"spentAmount"`
}

// PoolAlerts pairs a pool with its firing alerts.
type PoolAlerts struct {
	PoolID     uint    `json:"poolId"`
	Name       string  `json:"name"`
	Department string  `json:"department"`
	Alerts     []Alert `json:"alerts"`
}

// DashboardStats is the read model of GET /budget-pools/dashboard-stats.
type DashboardStats struct {
	Totals          PoolTotals        `json:"totals"`
	UtilizationRate float64           `json:"utilizationRate"`
	ByStatus        []StatusBucket    `json:"byStatus"`
	ByDepartment    []DepartmentStats `json:"byDepartment"`
	PoolsWithAlerts []PoolAlerts      `json:"poolsWithAlerts"`
}

// DashboardStats aggregates every pool for the finance dashboard. Alerts are
// evaluated on active pools only.
func (s *BudgetService) DashboardStats(ctx context.Context, actor uint) (*DashboardStats, error) {
	if err := s.authorize(ctx, actor, policy.CapPoolAnalytics, nil); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	out := &DashboardStats{ByStatus: []StatusBucket{}, ByDepartment: []DepartmentStats{}, PoolsWithAlerts: []PoolAlerts{}}

	totals, err := sumPools(db.Model(&models.BudgetPool{}))
	if err != nil {
		return nil, internal(err)
	}
	out.Totals = totals
	if totals.Total.IsPositive() {
		out.UtilizationRate, _ = totals.Spent.Div(totals.Total).Mul(decimal.NewFromInt(100)).Float64()
	}

	if err := db.Model(&models.BudgetPool{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS amount").
		Group("status").Order("status").
		Scan(&out.ByStatus).Error; err != nil {
		return nil, internal(err)
	}
	if err := db.Model(&models.BudgetPool{}).
		Select(`department, COUNT(*) AS pools,
			COALESCE(SUM(total_amount), 0) AS total,
			COALESCE(SUM(allocated_amount), 0) AS allocated,
			COALESCE(SUM(reserved_amount), 0) AS reserved,
			COALESCE(SUM(spent_amount), 0) AS spent`).
		Group("department").Order("department").
		Scan(&out.ByDepartment).Error; err != nil {
		return nil, internal(err)
	}

	var active []models.BudgetPool
	if err := db.Where("status = ?", models.PoolStatusActive).Order("id").Find(&active).Error; err != nil {
		return nil, internal(err)
	}
	now := s.now()
	for i := range active {
		p := &active[i]
		if alerts := Alerts(p, now, s.cfg); len(alerts) > 0 {
			out.PoolsWithAlerts = append(out.PoolsWithAlerts, PoolAlerts{
				PoolID:     p.ID,
				Name:       p.Name,
				Department: p.Department,
				Alerts:     alerts,
			})
		}
	}
	return out, nil
}

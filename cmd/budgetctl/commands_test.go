package main

import (
	"context"
	"testing"
	"time"

	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/db"
	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestPoolTable(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.BudgetConfig{HighBurnRate: 1.5, CriticalExpirationDays: 7}
	pool := func(code string, status models.PoolStatus, spent int64) models.BudgetPool {
		return models.BudgetPool{
			Code:            code,
			Name:            "Aide " + code,
			Department:      "social",
			Status:          status,
			TotalAmount:     decimal.NewFromInt(1000),
			SpentAmount:     decimal.NewFromInt(spent),
			PeriodStart:     now.AddDate(0, -5, 0),
			PeriodEnd:       now.AddDate(0, 7, 0),
			AlertThresholds: models.DefaultAlertThresholds(),
		}
	}

	data := poolTable([]models.BudgetPool{
		pool("BP-1", models.PoolStatusActive, 100),
		pool("BP-2", models.PoolStatusActive, 960),
		pool("BP-3", models.PoolStatusFrozen, 960),
	}, now, cfg)

	require.Len(t, data, 4)
	assert.Equal(t, "Alerts", data[0][8])
	assert.Equal(t, []string{"BP-1", "1000.00", "1000.00", "10.0%", "-"},
		[]string{data[1][0], data[1][4], data[1][5], data[1][6], data[1][8]})
	assert.Contains(t, data[2][8], "low_balance!")
	assert.Equal(t, "-", data[3][8], "frozen pools carry no alerts")
}

type recordingPublisher struct {
	got []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.got = append(p.got, e)
	return nil
}

func TestRunRelay(t *testing.T) {
	pterm.DisableOutput()
	t.Cleanup(pterm.EnableOutput)

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(conn))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return events.Enqueue(tx, events.AllocationReserved, "1", []string{events.UserRecipient(3)}, map[string]any{"amount": "10"})
	}))

	pub := &recordingPublisher{}
	require.NoError(t, runRelay(context.Background(), conn, pub, zap.NewNop(), config.OutboxConfig{}))
	require.Len(t, pub.got, 1)
	assert.Equal(t, events.AllocationReserved, pub.got[0].Type)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, models.OutboxStatusPublished, row.Status)
}

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diewo77/go-assistance/internal/metrics"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RelayConfig bounds one dispatch pass.
type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
}

// Relay moves committed outbox events to a Publisher.
type Relay struct {
	db   *gorm.DB
	pub  Publisher
	log  *zap.Logger
	cfg  RelayConfig
	mu   sync.Mutex // one pass at a time per process
	cron *cron.Cron
}

// NewRelay creates a relay. Zero config values fall back to 100 events per
// pass and 10 attempts.
func NewRelay(db *gorm.DB, pub Publisher, log *zap.Logger, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{db: db, pub: pub, log: log, cfg: cfg}
}

// DispatchPending publishes pending and failed events, oldest first. A
// delivery error marks the event failed, or dead once MaxAttempts is reached;
// it never aborts the pass. It returns the number of events published.
func (r *Relay) DispatchPending(ctx context.Context) (int, error) {
	if !r.mu.TryLock() {
		return 0, nil
	}
	defer r.mu.Unlock()

	var batch []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.OutboxStatusPending, models.OutboxStatusFailed}).
		Order("created_at ASC").
		Limit(r.cfg.BatchSize).
		Find(&batch).Error
	if err != nil {
		return 0, fmt.Errorf("load outbox batch: %w", err)
	}

	published := 0
	for _, row := range batch {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		ok, err := r.deliver(ctx, row)
		if err != nil {
			return published, err
		}
		if ok {
			published++
		}
	}
	return published, nil
}

// deliver publishes one event and records the outcome. The error is only
// non-nil when the outcome could not be stored.
func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) (bool, error) {
	pubErr := r.pub.Publish(ctx, toEvent(row))

	updates := map[string]any{"attempts": row.Attempts + 1}
	result := models.OutboxStatusPublished
	if pubErr == nil {
		now := time.Now()
		updates["status"] = models.OutboxStatusPublished
		updates["published_at"] = &now
		updates["last_error"] = ""
	} else {
		result = models.OutboxStatusFailed
		if row.Attempts+1 >= r.cfg.MaxAttempts {
			result = models.OutboxStatusDead
		}
		updates["status"] = result
		updates["last_error"] = pubErr.Error()
		r.log.Warn("outbox delivery failed",
			zap.String("event_id", row.ID.String()),
			zap.String("event_type", row.EventType),
			zap.Int("attempt", row.Attempts+1),
			zap.String("status", result),
			zap.Error(pubErr),
		)
	}
	metrics.RecordOutbox(result)

	err := r.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", row.ID, row.Status).
		Updates(updates).Error
	if err != nil {
		return false, fmt.Errorf("record outbox outcome %s: %w", row.ID, err)
	}
	return pubErr == nil, nil
}

// Start runs DispatchPending on the cron schedule (e.g. "@every 5s") until Stop.
func (r *Relay) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := r.DispatchPending(ctx)
		if err != nil {
			r.log.Error("outbox dispatch", zap.Error(err))
			return
		}
		if n > 0 {
			r.log.Debug("outbox dispatched", zap.Int("published", n))
		}
	})
	if err != nil {
		return fmt.Errorf("outbox schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Relay) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/diewo77/go-assistance/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}))
	return db
}

type fakePublisher struct {
	mu   sync.Mutex
	fail error
	got  []Event
}

func (f *fakePublisher) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, e)
	return nil
}

func TestEnqueue_RolledBackWithTransaction(t *testing.T) {
	db := setupDB(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, Enqueue(tx, AllocationReserved, "pool:1", []string{UserRecipient(3)}, map[string]int{"amount": 10}))
		return errors.New("rollback")
	})
	require.Error(t, err)

	var count int64
	db.Model(&models.OutboxEvent{}).Count(&count)
	assert.Zero(t, count)
}

func TestRelay_PublishesPendingEvents(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, TransferPending, "transfer:abc", []string{UserRecipient(1), UserRecipient(2)}, map[string]string{"amount": "60000"}))
	require.NoError(t, Enqueue(db, AllocationReserved, "pool:1", []string{UserRecipient(3)}, map[string]string{"amount": "40000"}))

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, nil, RelayConfig{})

	n, err := relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.got, 2)
	pending := pub.got[0]
	if pending.Type != TransferPending {
		pending = pub.got[1]
	}
	assert.Equal(t, []string{"user:1", "user:2"}, pending.Recipients)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(pending.Payload, &payload))
	assert.Equal(t, "60000", payload["amount"])

	// Second pass has nothing left to send.
	n, err = relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var published int64
	db.Model(&models.OutboxEvent{}).Where("status = ? AND published_at IS NOT NULL", models.OutboxStatusPublished).Count(&published)
	assert.EqualValues(t, 2, published)
}

func TestRelay_FailureIsLoggedAndRetriedUntilDead(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, DemandeStatusChanged, "demande:9", []string{UserRecipient(9)}, nil))

	core, logs := observer.New(zap.WarnLevel)
	pub := &fakePublisher{fail: errors.New("smtp relay down")}
	relay := NewRelay(db, pub, zap.New(core), RelayConfig{MaxAttempts: 2})

	n, err := relay.DispatchPending(context.Background())
	require.NoError(t, err, "delivery errors are not surfaced")
	assert.Zero(t, n)

	var ev models.OutboxEvent
	require.NoError(t, db.First(&ev).Error)
	assert.Equal(t, models.OutboxStatusFailed, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, "smtp relay down", ev.LastError)

	_, err = relay.DispatchPending(context.Background())
	require.NoError(t, err)
	require.NoError(t, db.First(&ev).Error)
	assert.Equal(t, models.OutboxStatusDead, ev.Status)
	assert.Equal(t, 2, logs.Len())

	// Dead events are not retried, even once the publisher recovers.
	pub.fail = nil
	n, _ = relay.DispatchPending(context.Background())
	assert.Zero(t, n)
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisher_Publish(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, TransferCompleted, "transfer:1", []string{UserRecipient(4)}, map[string]int{"to": 2}))
	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)

	ch := &fakeChannel{}
	p := NewAMQPPublisher(ch, "assistance.events")
	require.NoError(t, p.Publish(context.Background(), toEvent(row)))

	assert.Equal(t, "assistance.events", ch.exchange)
	assert.Equal(t, TransferCompleted, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, row.ID.String(), ch.msg.MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, row.ID, decoded.ID)
	assert.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	err := LogPublisher{Log: zap.New(core)}.Publish(context.Background(), Event{Type: TransferRejected})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterField(zap.String("event_type", TransferRejected)).Len())
}

func TestRelay_StartRejectsBadSchedule(t *testing.T) {
	relay := NewRelay(setupDB(t), &fakePublisher{}, nil, RelayConfig{})
	assert.Error(t, relay.Start("not a schedule"))
	require.NoError(t, relay.Start("@every 1h"))
	relay.Stop()
}

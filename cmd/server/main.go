package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-assistance/auth"
	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/db"
	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/lock"
	"github.com/diewo77/go-assistance/internal/logger"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/internal/services"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.App.Dev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	dbConn, err := db.Open(cfg.Database, cfg.App.Dev, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	if *migrateOnlyFlag {
		if err := migrate(cfg, dbConn); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed successfully")
		return
	}
	if *seedOnlyFlag {
		if err := db.Seed(dbConn); err != nil {
			log.Fatal("seeding failed", zap.Error(err))
		}
		log.Info("seeding completed successfully")
		return
	}

	if cfg.App.Migrations != config.MigrationsOff {
		if err := migrate(cfg, dbConn); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed", zap.String("mode", cfg.App.Migrations))
	}
	if cfg.App.Seed {
		if err := db.Seed(dbConn); err != nil {
			log.Fatal("seeding failed", zap.Error(err))
		}
	}

	// Tokens of deleted users are refused.
	auth.SetUserVerifier(userVerifier(dbConn, log))

	authGate := policy.NewAuthGate(dbConn, cfg.App.CacheTTL)
	locker, closeLocker := newLocker(cfg.Redis, log)
	defer closeLocker()

	pub, closePub := newPublisher(cfg.Broker, log)
	defer closePub()
	relay := events.NewRelay(dbConn, pub, log, events.RelayConfig{
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err := relay.Start(cfg.Outbox.Schedule); err != nil {
		log.Fatal("outbox relay", zap.Error(err))
	}
	defer relay.Stop()

	app := NewApp(Deps{
		DB:       dbConn,
		AuthGate: authGate,
		Budgets:  services.NewBudgetService(dbConn, authGate, locker, cfg.Budget, log),
		Demandes: services.NewDemandeService(dbConn, authGate, locker, log),
		Log:      log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port), zap.Bool("dev", cfg.App.Dev))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	log.Info("server stopped gracefully")
}

// migrate applies the schema with gorm AutoMigrate, or with the versioned SQL
// migrations when MIGRATIONS=sql.
// userVerifier refuses tokens of users that no longer exist. Lookup errors
// refuse the token too.
func userVerifier(conn *gorm.DB, log *zap.Logger) auth.UserVerifier {
	return func(ctx context.Context, uid uint) bool {
		var count int64
		if err := conn.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&count).Error; err != nil {
			log.Error("verify token user", zap.Uint("user_id", uid), zap.Error(err))
			return false
		}
		return count > 0
	}
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if cfg.App.Migrations == config.MigrationsSQL {
		return db.MigrateSQL(cfg.Database.URL())
	}
	return db.Migrate(conn)
}

// newLocker returns the redis locker when REDIS_ADDR is set, the in-process
// locker otherwise.
func newLocker(cfg config.RedisConfig, log *zap.Logger) (lock.Locker, func()) {
	if !cfg.Enabled() {
		log.Info("pool lock: in-process mutex")
		return lock.NewMutexLocker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	opts := lock.DefaultOptions()
	if cfg.LockTTL > 0 {
		opts.Expiry = cfg.LockTTL
	}
	log.Info("pool lock: redis", zap.String("addr", cfg.Addr))
	return lock.NewRedisLocker(client, opts, log), func() { _ = client.Close() }
}

// newPublisher dials the broker when AMQP_URL is set. A broker that cannot be
// reached falls back to logging; undelivered events stay in the outbox.
func newPublisher(cfg config.BrokerConfig, log *zap.Logger) (events.Publisher, func()) {
	if cfg.URL == "" {
		return events.LogPublisher{Log: log}, func() {}
	}
	pub, err := events.DialAMQP(cfg.URL, cfg.Exchange)
	if err != nil {
		log.Error("amqp dial failed, using log publisher", zap.Error(err))
		return events.LogPublisher{Log: log}, func() {}
	}
	return pub, func() { _ = pub.Close() }
}

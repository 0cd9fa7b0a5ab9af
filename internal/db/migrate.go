package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/diewo77/go-assistance/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// Registers the postgres database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate runs AutoMigrate for all models, then adds the guards gorm tags
// cannot express.
// Call this at application startup or as part of a migration step.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// Auth & Authorization
		&models.User{},
		&models.Profile{},
		&models.Permission{},
		// Fund accounting
		&models.BudgetPool{},
		&models.Allocation{},
		&models.Transfer{},
		&models.Demande{},
		// Notifications
		&models.OutboxEvent{},
	); err != nil {
		return err
	}
	return migrateGuards(db)
}

const (
	liveDemandeIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_live_demande ON allocations (demande_id)
    WHERE status IN ('reserved', 'confirmed')`
	committedCheck     = "chk_budget_pools_committed"
	committedCheckExpr = "allocated_amount + reserved_amount <= total_amount"
)

// migrateGuards mirrors the constraints of the SQL migrations. SQLite cannot
// add a check constraint to an existing table, so the committed check is
// postgres only.
func migrateGuards(db *gorm.DB) error {
	if err := db.Exec(liveDemandeIndex).Error; err != nil {
		return fmt.Errorf("create live allocation index: %w", err)
	}
	if db.Dialector.Name() != "postgres" || db.Migrator().HasConstraint(&models.BudgetPool{}, committedCheck) {
		return nil
	}
	if err := db.Exec("ALTER TABLE budget_pools ADD CONSTRAINT " + committedCheck + " CHECK (" + committedCheckExpr + ")").Error; err != nil {
		return fmt.Errorf("add %s: %w", committedCheck, err)
	}
	return nil
}

// MigrateSQL applies the versioned SQL migrations embedded in the binary.
// databaseURL must be a postgres:// URL.
func MigrateSQL(databaseURL string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Seed initializes the database with required seed data.
// Should be called after Migrate.
func Seed(db *gorm.DB) error {
	return SeedProfiles(db)
}

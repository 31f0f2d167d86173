package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	idempotencydomain "github.com/subtrackhq/subtrack/internal/idempotency/domain"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
	receiptdomain "github.com/subtrackhq/subtrack/internal/receipt/domain"
	"github.com/subtrackhq/subtrack/internal/seed"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"gorm.io/gorm"
)

// Apply brings the schema to the latest embedded version, seeds the tier
// catalog and activates the bootstrap state. Postgres runs the versioned SQL
// files; other drivers get the equivalent schema from the gorm models.
func Apply(ctx context.Context, conn *gorm.DB, driver string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	switch driver {
	case "postgres", "postgresql", "":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(ctx, sqlDB); err != nil {
			return err
		}
	default:
		if err := autoMigrate(ctx, conn); err != nil {
			return err
		}
	}

	if err := seed.EnsureTiers(conn.WithContext(ctx)); err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	checksum, err := MigrationsChecksum()
	if err != nil {
		return err
	}
	return activateSystemBootstrapState(ctx, conn, fmt.Sprintf("%d", latestVersion), checksum)
}

// RunMigrations applies all embedded migrations while holding the billing
// schema lock.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	release, err := lockBillingSchema(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = release()
	}()

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}

	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return nil
}

func autoMigrate(ctx context.Context, conn *gorm.DB) error {
	err := conn.WithContext(ctx).AutoMigrate(
		&catalogdomain.Tier{},
		&subscriptiondomain.SubscriptionRecord{},
		&paymentdomain.Transaction{},
		&paymentdomain.RefundRequest{},
		&idempotencydomain.ProcessedEvent{},
		&receiptdomain.ReceiptTransaction{},
		&bootstrapState{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}

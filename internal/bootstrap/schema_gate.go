package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/subtrackhq/subtrack/internal/migration"
	"gorm.io/gorm"
)

var (
	ErrBootstrapStateInactive = errors.New("billing schema is not activated")
	ErrSchemaVersionMismatch  = errors.New("billing schema version mismatch")
	ErrSchemaChecksumMismatch = errors.New("billing schema checksum mismatch")
)

const migrateHint = "run `subtrack migrate` with this build"

// SchemaGate keeps the API and the scheduler from serving against a billing
// schema that this binary did not migrate.
type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type billingSchemaGate struct {
	db       *gorm.DB
	version  string
	checksum string
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("billing schema gate requires a database handle")
	}

	latest, err := migration.LatestMigrationVersion()
	if err != nil {
		return nil, fmt.Errorf("read embedded billing migrations: %w", err)
	}
	checksum, err := migration.MigrationsChecksum()
	if err != nil {
		return nil, fmt.Errorf("checksum embedded billing migrations: %w", err)
	}

	return &billingSchemaGate{
		db:       db,
		version:  strconv.FormatUint(uint64(latest), 10),
		checksum: checksum,
	}, nil
}

func (g *billingSchemaGate) MustBeActive(ctx context.Context) error {
	state, err := loadSystemBootstrapState(ctx, g.db)
	if err != nil {
		return fmt.Errorf("%w; %s", err, migrateHint)
	}

	switch {
	case state.Status != StatusActive:
		return fmt.Errorf("%w (status %q); %s", ErrBootstrapStateInactive, state.Status, migrateHint)
	case state.SchemaVersion != g.version:
		return fmt.Errorf("%w: database at %s, binary expects %s; %s",
			ErrSchemaVersionMismatch, state.SchemaVersion, g.version, migrateHint)
	}

	// Rows written before checksums were recorded carry none.
	recorded := ""
	if state.Checksum != nil {
		recorded = strings.TrimSpace(*state.Checksum)
	}
	if recorded != "" && recorded != g.checksum {
		return fmt.Errorf("%w: migration files changed since version %s was applied", ErrSchemaChecksumMismatch, state.SchemaVersion)
	}
	return nil
}

package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// schemaLockKey is the pg advisory lock held while the billing schema migrates.
const schemaLockKey int64 = 5_117_302_844

type releaseFunc func() error

// lockBillingSchema blocks until this process holds the schema lock or ctx
// ends. Replicas started together queue behind the first migrator and then
// find nothing left to apply. Advisory locks belong to a session, so the
// lock is taken and released on one pinned connection.
func lockBillingSchema(ctx context.Context, db *sql.DB) (releaseFunc, error) {
	if db == nil {
		return nil, errors.New("schema lock requires a database handle")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin connection for schema lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for billing schema lock: %w", err)
	}

	return func() error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey).Scan(&released); err != nil {
			return fmt.Errorf("release billing schema lock: %w", err)
		}
		if !released {
			return errors.New("billing schema lock was not held by this session")
		}
		return nil
	}, nil
}

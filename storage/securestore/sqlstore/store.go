// Package sqlstore keeps the SecureStore in a single SQL table (SQLite on device, Postgres for shared test rigs).
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	schema = `CREATE TABLE IF NOT EXISTS secure_store (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`
	upsertQuery = `INSERT INTO secure_store (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	getQuery    = `SELECT value FROM secure_store WHERE name = ?`
	removeQuery = `DELETE FROM secure_store WHERE name IN (?)`
)

type Store struct {
	db *sqlx.DB
}

var _ authgate.SecureStore = (*Store)(nil)

// Open connects to the database and creates the table if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, errors.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err = ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err = migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	maxAttempts := 10
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val string
	if err := s.db.GetContext(ctx, &val, s.db.Rebind(getQuery), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", authgate.ErrKeyNotFound
		}
		return "", errors.Wrap(err, "selecting value")
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertQuery), key, value, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "upserting value")
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(removeQuery, keys)
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	if _, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting values")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

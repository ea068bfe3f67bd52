// Package orderbookpg mirrors order records into Postgres for querying. The file store stays the primary audit trail.
package orderbookpg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/krakendca/internal/domain"
	"github.com/vadiminshakov/krakendca/internal/storage/orderbook"
)

// uniqueViolation is the Postgres SQLSTATE for a primary key conflict.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS order_records (
	ts        BIGINT      NOT NULL,
	pair      TEXT        NOT NULL,
	intent_id TEXT        NOT NULL DEFAULT '',
	task      TEXT        NOT NULL,
	dry_run   BOOLEAN     NOT NULL,
	amount    NUMERIC     NOT NULL,
	price     NUMERIC     NOT NULL,
	volume    NUMERIC     NOT NULL,
	reply     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (ts, pair)
);`

const insertRecord = `
INSERT INTO order_records (ts, pair, intent_id, task, dry_run, amount, price, volume, reply)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const recordExists = `SELECT EXISTS (SELECT 1 FROM order_records WHERE ts = $1 AND pair = $2)`

// Store is an insert-only order record table.
type Store struct {
	db *sql.DB
}

// New opens the database and makes sure the table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &Store{db: db}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the order_records table if needed.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to create order_records table")
}

// Write inserts the record. A second record for the same (timestamp, pair) is rejected, never updated.
func (s *Store) Write(ctx context.Context, timestamp int64, pair string, record domain.OrderRecord) error {
	reply, err := json.Marshal(record.Reply)
	if err != nil {
		return errors.Wrap(err, "encode order reply")
	}

	_, err = s.db.ExecContext(ctx, insertRecord,
		timestamp,
		pair,
		record.IntentID,
		record.Task,
		record.DryRun,
		record.Amount.String(),
		record.Price.String(),
		record.Volume.String(),
		string(reply),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.Wrapf(orderbook.ErrRecordExists, "%d-%s", timestamp, pair)
		}
		return errors.Wrap(err, "insert order record")
	}

	return nil
}

// Exists reports whether a record for (timestamp, pair) was inserted.
func (s *Store) Exists(ctx context.Context, timestamp int64, pair string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, recordExists, timestamp, pair).Scan(&ok)
	return ok, errors.Wrap(err, "check order record")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

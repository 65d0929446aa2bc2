package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore implements Store over database/sql. The caller opens *sql.DB
// with lib/pq for postgres:// DSNs or mattn/go-sqlite3 for file-based
// ones; this type only needs to know which placeholder/locking dialect to
// speak.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect dialect
	clock   func() time.Time
}

func NewSQLStore(db *sql.DB, driverName, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("outbox: db is nil")
	}
	if table == "" {
		table = "hookservice_outbox"
	}
	d := dialectPostgres
	if strings.Contains(strings.ToLower(driverName), "sqlite") {
		d = dialectSQLite
	}
	return &SQLStore{db: db, table: table, dialect: d, clock: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	tsType := "TIMESTAMPTZ"
	if s.dialect == dialectSQLite {
		tsType = "TIMESTAMP"
	}
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  contract_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  created_at %s NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt_at %s NOT NULL,
  claimed_at %s,
  last_error TEXT,
  payload_json TEXT NOT NULL,
  signing_secret_ref TEXT,
  url TEXT NOT NULL,
  timeout_ms INTEGER NOT NULL DEFAULT 10000
);`, s.table, tsType, tsType, tsType)
	_, err := s.db.ExecContext(ctx, q)
	return err
}

func (s *SQLStore) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.dialect == dialectSQLite {
			out[i] = "?"
		} else {
			out[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return out
}

func (s *SQLStore) Insert(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	ph := s.placeholders(12)
	q := fmt.Sprintf(`
INSERT INTO %s
  (id, contract_id, event_id, created_at, status, attempts, next_attempt_at, last_error, payload_json, signing_secret_ref, url, timeout_ms)
VALUES (%s);`, s.table, strings.Join(ph, ", "))
	now := s.clock()
	_, err := s.db.ExecContext(ctx, q, e.ID, e.ContractID, e.EventID, now, StatusPending, 0, now, "",
		string(e.PayloadJSON), e.SigningSecretRef, e.URL, e.TimeoutMS)
	return err
}

// ClaimNext atomically selects the oldest pending-and-due row and
// transitions it to in_flight, incrementing attempts. Implemented as a
// transaction doing SELECT ... FOR UPDATE SKIP LOCKED (postgres) or a plain
// SELECT in the driver's default transaction mode (sqlite), followed by
// UPDATE, since cross-dialect "UPDATE ... RETURNING"
// with a correlated subquery isn't uniformly supported.
func (s *SQLStore) ClaimNext(ctx context.Context, now time.Time) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQ := fmt.Sprintf(`
SELECT id, contract_id, event_id, created_at, attempts, payload_json, signing_secret_ref, url, timeout_ms
FROM %s
WHERE status = '%s' AND next_attempt_at <= %s
ORDER BY next_attempt_at ASC
LIMIT 1`, s.table, StatusPending, s.placeholders(1)[0])
	if s.dialect == dialectPostgres {
		selectQ += " FOR UPDATE SKIP LOCKED"
	}

	var e Entry
	var attempts int
	row := tx.QueryRowContext(ctx, selectQ, now)
	if err := row.Scan(&e.ID, &e.ContractID, &e.EventID, &e.CreatedAt, &attempts, &e.PayloadJSON, &e.SigningSecretRef, &e.URL, &e.TimeoutMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	attempts++

	ph := s.placeholders(3)
	updateQ := fmt.Sprintf(`UPDATE %s SET status = '%s', attempts = %s, claimed_at = %s WHERE id = %s`,
		s.table, StatusInFlight, ph[0], ph[1], ph[2])
	if _, err := tx.ExecContext(ctx, updateQ, attempts, now, e.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.Status = StatusInFlight
	e.Attempts = attempts
	return &e, nil
}

func (s *SQLStore) MarkSucceeded(ctx context.Context, id string) error {
	ph := s.placeholders(1)
	q := fmt.Sprintf(`UPDATE %s SET status = '%s' WHERE id = %s`, s.table, StatusSucceeded, ph[0])
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	ph := s.placeholders(3)
	q := fmt.Sprintf(`UPDATE %s SET status = '%s', next_attempt_at = %s, last_error = %s WHERE id = %s`,
		s.table, StatusPending, ph[0], ph[1], ph[2])
	_, err := s.db.ExecContext(ctx, q, nextAttemptAt, lastErr, id)
	return err
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, lastErr string) error {
	ph := s.placeholders(2)
	q := fmt.Sprintf(`UPDATE %s SET status = '%s', last_error = %s WHERE id = %s`, s.table, StatusFailed, ph[0], ph[1])
	_, err := s.db.ExecContext(ctx, q, lastErr, id)
	return err
}

func (s *SQLStore) MarkDeadLettered(ctx context.Context, id string, lastErr string) error {
	ph := s.placeholders(2)
	q := fmt.Sprintf(`UPDATE %s SET status = '%s', last_error = %s WHERE id = %s`, s.table, StatusDeadLettered, ph[0], ph[1])
	_, err := s.db.ExecContext(ctx, q, lastErr, id)
	return err
}

// ReapStale returns in_flight rows claimed before olderThan back to
// pending, so a crashed worker never loses a claimed-but-unfinished entry.
func (s *SQLStore) ReapStale(ctx context.Context, olderThan time.Time) (int, error) {
	ph := s.placeholders(2)
	q := fmt.Sprintf(`UPDATE %s SET status = '%s', next_attempt_at = %s WHERE status = '%s' AND claimed_at < %s`,
		s.table, StatusPending, ph[0], StatusInFlight, ph[1])
	res, err := s.db.ExecContext(ctx, q, olderThan, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

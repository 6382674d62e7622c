package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyadsync/dyad/pkg/errors"
)

// schemaVersion is bumped on incompatible schema changes. A database
// with a different non-zero version is treated as corrupted state and
// the caller is advised to run a forced full resync.
const schemaVersion = 1

// staleLockAge is how old a run lock must be before a new run may
// take it over from a crashed predecessor.
const staleLockAge = 2 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
	account_a_id  TEXT NOT NULL UNIQUE,
	account_b_id  TEXT NOT NULL UNIQUE,
	fingerprint_a TEXT NOT NULL,
	fingerprint_b TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	account    TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS group_mappings (
	name         TEXT PRIMARY KEY,
	account_a_id TEXT NOT NULL,
	account_b_id TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS classifier_decisions (
	account_a_id  TEXT NOT NULL,
	account_b_id  TEXT NOT NULL,
	fingerprint_a TEXT NOT NULL,
	fingerprint_b TEXT NOT NULL,
	is_match      INTEGER NOT NULL,
	confidence    REAL NOT NULL,
	reasoning     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (account_a_id, account_b_id, fingerprint_a, fingerprint_b)
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at TIMESTAMP NOT NULL
);
`

// queryer is the common surface of *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the production Store implementation, a single-file SQLite
// database in WAL mode.
type SQLite struct {
	ops
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if necessary) the state database at
// path and migrates its schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapIO("create state directory", path, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &errors.StateError{Operation: "open", Message: "open database", Err: err}
	}

	// sqlite handles one writer; a single connection avoids
	// SQLITE_BUSY between the engine's own statements.
	db.SetMaxOpenConns(1)

	s := &SQLite{ops: ops{q: db}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return &errors.StateError{Operation: "migrate", Message: "read schema version", Err: err}
	}

	switch version {
	case 0:
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return &errors.StateError{Operation: "migrate", Message: "create schema", Err: err}
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return &errors.StateError{Operation: "migrate", Message: "set schema version", Err: err}
		}
		return nil
	case schemaVersion:
		return nil
	default:
		return &errors.StateError{
			Operation: "migrate",
			Message:   fmt.Sprintf("unsupported schema version %d (want %d), run a full resync with a fresh state file", version, schemaVersion),
		}
	}
}

// AcquireLock takes the exclusive run lock, failing fast when another
// live run holds it. Locks older than staleLockAge are assumed to
// belong to a crashed run and are taken over.
func (s *SQLite) AcquireLock(ctx context.Context, owner string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at
		WHERE run_lock.acquired_at < ?`,
		owner, now, now.Add(-staleLockAge))
	if err != nil {
		return &errors.StateError{Operation: "lock", Message: "acquire run lock", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &errors.StateError{Operation: "lock", Message: "acquire run lock", Err: err}
	}
	if n == 0 {
		var holder string
		var since time.Time
		_ = s.db.QueryRowContext(ctx, "SELECT owner, acquired_at FROM run_lock WHERE id = 1").Scan(&holder, &since)
		return &errors.StateError{
			Operation: "lock",
			Message:   fmt.Sprintf("another sync run (%s, since %s) holds the state lock", holder, since.Format(time.RFC3339)),
		}
	}
	return nil
}

// ReleaseLock releases the run lock. Releasing an unheld lock is not
// an error.
func (s *SQLite) ReleaseLock(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1"); err != nil {
		return &errors.StateError{Operation: "lock", Message: "release run lock", Err: err}
	}
	return nil
}

// Transact runs fn inside a single transaction; every store write in
// fn commits atomically or not at all.
func (s *SQLite) Transact(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.StateError{Operation: "transact", Message: "begin", Err: err}
	}

	if err := fn(&txStore{ops: ops{q: tx}}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return &errors.StateError{Operation: "transact", Message: "commit", Err: err}
	}
	return nil
}

// Reset drops all engine state, preparing a forced full resync.
func (s *SQLite) Reset(ctx context.Context) error {
	return s.Transact(ctx, func(tx Store) error {
		t := tx.(*txStore)
		for _, table := range []string{"mappings", "cursors", "group_mappings", "classifier_decisions"} {
			if _, err := t.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return &errors.StateError{Operation: "reset", Message: "clear " + table, Err: err}
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// txStore adapts a transaction to the Store interface so orchestrator
// code can run the same operations inside and outside Transact.
type txStore struct {
	ops
}

var _ Store = (*txStore)(nil)

// Transact on a transactional view joins the enclosing transaction.
func (t *txStore) Transact(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *txStore) AcquireLock(context.Context, string) error { return nil }
func (t *txStore) ReleaseLock(context.Context) error         { return nil }

func (t *txStore) Reset(ctx context.Context) error {
	return &errors.StateError{Operation: "reset", Message: "reset inside a transaction"}
}

func (t *txStore) Close() error { return nil }

// ops implements the shared CRUD over either a *sql.DB or *sql.Tx.
type ops struct {
	q queryer
}

func (o *ops) Mappings(ctx context.Context) ([]Mapping, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT account_a_id, account_b_id, fingerprint_a, fingerprint_b, created_at, updated_at
		FROM mappings ORDER BY account_a_id`)
	if err != nil {
		return nil, &errors.StateError{Operation: "query", Message: "list mappings", Err: err}
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.AccountAID, &m.AccountBID, &m.FingerprintA, &m.FingerprintB, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, &errors.StateError{Operation: "query", Message: "scan mapping", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o *ops) MappingByAID(ctx context.Context, aID string) (*Mapping, error) {
	return o.mappingBy(ctx, "account_a_id", aID)
}

func (o *ops) MappingByBID(ctx context.Context, bID string) (*Mapping, error) {
	return o.mappingBy(ctx, "account_b_id", bID)
}

func (o *ops) mappingBy(ctx context.Context, column, id string) (*Mapping, error) {
	var m Mapping
	err := o.q.QueryRowContext(ctx, `
		SELECT account_a_id, account_b_id, fingerprint_a, fingerprint_b, created_at, updated_at
		FROM mappings WHERE `+column+` = ?`, id).
		Scan(&m.AccountAID, &m.AccountBID, &m.FingerprintA, &m.FingerprintB, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.StateError{Operation: "query", Message: "lookup mapping", Err: err}
	}
	return &m, nil
}

func (o *ops) PutMapping(ctx context.Context, m Mapping) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO mappings (account_a_id, account_b_id, fingerprint_a, fingerprint_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_a_id) DO UPDATE SET
			account_b_id = excluded.account_b_id,
			fingerprint_a = excluded.fingerprint_a,
			fingerprint_b = excluded.fingerprint_b,
			updated_at = excluded.updated_at`,
		m.AccountAID, m.AccountBID, m.FingerprintA, m.FingerprintB, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return &errors.StateError{Operation: "write", Message: "put mapping", Err: err}
	}
	return nil
}

func (o *ops) DeleteMapping(ctx context.Context, aID string) error {
	if _, err := o.q.ExecContext(ctx, "DELETE FROM mappings WHERE account_a_id = ?", aID); err != nil {
		return &errors.StateError{Operation: "write", Message: "delete mapping", Err: err}
	}
	return nil
}

func (o *ops) Cursor(ctx context.Context, account string) (string, error) {
	var token string
	err := o.q.QueryRowContext(ctx, "SELECT token FROM cursors WHERE account = ?", account).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &errors.StateError{Operation: "query", Message: "read cursor", Err: err}
	}
	return token, nil
}

func (o *ops) SetCursor(ctx context.Context, account, token string) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO cursors (account, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		account, token, time.Now().UTC())
	if err != nil {
		return &errors.StateError{Operation: "write", Message: "set cursor", Err: err}
	}
	return nil
}

func (o *ops) ClearCursors(ctx context.Context) error {
	if _, err := o.q.ExecContext(ctx, "DELETE FROM cursors"); err != nil {
		return &errors.StateError{Operation: "write", Message: "clear cursors", Err: err}
	}
	return nil
}

func (o *ops) GroupMappings(ctx context.Context) ([]GroupMapping, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT name, account_a_id, account_b_id, created_at, updated_at
		FROM group_mappings ORDER BY name`)
	if err != nil {
		return nil, &errors.StateError{Operation: "query", Message: "list group mappings", Err: err}
	}
	defer rows.Close()

	var out []GroupMapping
	for rows.Next() {
		var gm GroupMapping
		if err := rows.Scan(&gm.Name, &gm.AccountAID, &gm.AccountBID, &gm.CreatedAt, &gm.UpdatedAt); err != nil {
			return nil, &errors.StateError{Operation: "query", Message: "scan group mapping", Err: err}
		}
		out = append(out, gm)
	}
	return out, rows.Err()
}

func (o *ops) PutGroupMapping(ctx context.Context, gm GroupMapping) error {
	now := time.Now().UTC()
	if gm.CreatedAt.IsZero() {
		gm.CreatedAt = now
	}
	gm.UpdatedAt = now

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO group_mappings (name, account_a_id, account_b_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			account_a_id = excluded.account_a_id,
			account_b_id = excluded.account_b_id,
			updated_at = excluded.updated_at`,
		gm.Name, gm.AccountAID, gm.AccountBID, gm.CreatedAt, gm.UpdatedAt)
	if err != nil {
		return &errors.StateError{Operation: "write", Message: "put group mapping", Err: err}
	}
	return nil
}

func (o *ops) DeleteGroupMapping(ctx context.Context, name string) error {
	if _, err := o.q.ExecContext(ctx, "DELETE FROM group_mappings WHERE name = ?", name); err != nil {
		return &errors.StateError{Operation: "write", Message: "delete group mapping", Err: err}
	}
	return nil
}

func (o *ops) CachedDecision(ctx context.Context, aID, bID, fpA, fpB string) (*ClassifierDecision, error) {
	var d ClassifierDecision
	err := o.q.QueryRowContext(ctx, `
		SELECT account_a_id, account_b_id, fingerprint_a, fingerprint_b, is_match, confidence, reasoning, created_at
		FROM classifier_decisions
		WHERE account_a_id = ? AND account_b_id = ? AND fingerprint_a = ? AND fingerprint_b = ?`,
		aID, bID, fpA, fpB).
		Scan(&d.AccountAID, &d.AccountBID, &d.FingerprintA, &d.FingerprintB, &d.Match, &d.Confidence, &d.Reasoning, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.StateError{Operation: "query", Message: "read classifier decision", Err: err}
	}
	return &d, nil
}

func (o *ops) PutDecision(ctx context.Context, d ClassifierDecision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO classifier_decisions
			(account_a_id, account_b_id, fingerprint_a, fingerprint_b, is_match, confidence, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_a_id, account_b_id, fingerprint_a, fingerprint_b) DO UPDATE SET
			is_match = excluded.is_match,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning`,
		d.AccountAID, d.AccountBID, d.FingerprintA, d.FingerprintB, d.Match, d.Confidence, d.Reasoning, d.CreatedAt)
	if err != nil {
		return &errors.StateError{Operation: "write", Message: "put classifier decision", Err: err}
	}
	return nil
}

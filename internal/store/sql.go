package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/validation"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS match_results (
		posting_id TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		revision   INTEGER NOT NULL,
		body       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS diagnostics (
		id          TEXT PRIMARY KEY,
		posting_id  TEXT NOT NULL,
		rule_id     TEXT NOT NULL,
		code        TEXT NOT NULL,
		resolved    INTEGER NOT NULL,
		method      TEXT NOT NULL,
		detected_at TEXT NOT NULL,
		body        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS diagnostics_posting_rule ON diagnostics (posting_id, rule_id)`,
	// at most one open diagnostic per detection, enforced across writers
	`CREATE UNIQUE INDEX IF NOT EXISTS diagnostics_open_detection ON diagnostics (posting_id, rule_id, code) WHERE resolved = 0`,
	`CREATE TABLE IF NOT EXISTS rule_firings (
		id         TEXT PRIMARY KEY,
		rule_id    TEXT NOT NULL,
		posting_id TEXT NOT NULL,
		fired_at   TEXT NOT NULL,
		body       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rule_firings_rule ON rule_firings (rule_id)`,
}

// SQL is a Store on SQLite (modernc.org/sqlite) or Postgres (pgx).
// Each result write runs in its own transaction.
type SQL struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and creates the schema.
// For SQLite the dsn is a file path; its directory is created when missing.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	var name string
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite3", "":
		driver, name = DriverSQLite, "sqlite"
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	case DriverPostgres, "pgx", "postgresql":
		driver, name = DriverPostgres, "pgx"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQL{db: db, dialect: driver, now: time.Now}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) loadResult(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, postingID string, forUpdate bool) (*match.Result, error) {
	query := "SELECT body FROM match_results WHERE posting_id = ?"
	if forUpdate && s.dialect == DriverPostgres {
		query += " FOR UPDATE"
	}

	var body string
	err := q.QueryRowContext(ctx, s.rebind(query), postingID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return match.Decode([]byte(body))
}

func (s *SQL) saveResult(ctx context.Context, tx *sql.Tx, r *match.Result) error {
	body, err := r.Encode()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO match_results (posting_id, state, revision, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (posting_id) DO UPDATE SET state = excluded.state, revision = excluded.revision, body = excluded.body`),
		r.PostingID, string(r.State), r.Revision, string(body))
	return err
}

func (s *SQL) GetResult(ctx context.Context, postingID string) (*match.Result, error) {
	return s.loadResult(ctx, s.db, postingID, false)
}

func (s *SQL) UpsertResult(ctx context.Context, r *match.Result) (bool, error) {
	written := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.loadResult(ctx, tx, r.PostingID, true)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if prev != nil && prev.State.IsTerminal() {
			return ErrTerminal
		}

		write, err := prepare(prev, r)
		if err != nil || !write {
			return err
		}
		written = true
		return s.saveResult(ctx, tx, r)
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (s *SQL) Update(ctx context.Context, postingID string, fn func(*match.Result) error) (*match.Result, error) {
	var out *match.Result
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.loadResult(ctx, tx, postingID, true)
		if err != nil {
			return err
		}
		out = prev
		if prev.State.IsTerminal() {
			return ErrTerminal
		}

		next := prev.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.PostingID = postingID

		write, err := prepare(prev, next)
		if err != nil || !write {
			return err
		}
		if err := s.saveResult(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQL) ListResults(ctx context.Context) ([]*match.Result, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM match_results ORDER BY posting_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*match.Result, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := match.Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) AppendDiagnostic(ctx context.Context, d validation.Diagnostic) (validation.Diagnostic, bool, error) {
	appended := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := s.openDetection(ctx, tx, &d)
		if err != nil || found {
			return err
		}

		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.DetectedAt.IsZero() {
			d.DetectedAt = s.now().UTC()
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO diagnostics (id, posting_id, rule_id, code, resolved, method, detected_at, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (posting_id, rule_id, code) WHERE resolved = 0 DO NOTHING`),
			d.ID, d.PostingID, d.RuleID, d.Code, boolInt(d.Resolved), string(d.ResolutionMethod), d.DetectedAt.UTC().Format(timeLayout), string(data))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// a concurrent writer inserted the same detection first
			found, err := s.openDetection(ctx, tx, &d)
			if err == nil && !found {
				err = fmt.Errorf("open diagnostic for %s/%s vanished", d.PostingID, d.RuleID)
			}
			return err
		}
		appended = true
		return nil
	})
	return d, appended, err
}

// openDetection loads the open diagnostic matching d into d.
func (s *SQL) openDetection(ctx context.Context, tx *sql.Tx, d *validation.Diagnostic) (bool, error) {
	var body string
	err := tx.QueryRowContext(ctx, s.rebind(
		"SELECT body FROM diagnostics WHERE posting_id = ? AND rule_id = ? AND code = ? AND resolved = 0 ORDER BY detected_at, id LIMIT 1"),
		d.PostingID, d.RuleID, d.Code).Scan(&body)
	switch {
	case err == nil:
		return true, json.Unmarshal([]byte(body), d)
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

func (s *SQL) SaveDiagnostic(ctx context.Context, d validation.Diagnostic) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE diagnostics SET resolved = ?, method = ?, body = ? WHERE id = ?"),
		boolInt(d.Resolved), string(d.ResolutionMethod), string(data), d.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListDiagnostics(ctx context.Context, f DiagnosticFilter) ([]validation.Diagnostic, error) {
	var (
		where []string
		args  []any
	)
	if f.PostingID != "" {
		where = append(where, "posting_id = ?")
		args = append(args, f.PostingID)
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.OpenOnly || f.Escalated {
		where = append(where, "resolved = 0")
	}
	if f.Escalated {
		where = append(where, "method = ?")
		args = append(args, string(validation.ResolutionEscalated))
	}

	query := "SELECT body FROM diagnostics"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]validation.Diagnostic, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var d validation.Diagnostic
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) AppendFiring(ctx context.Context, f rules.Firing) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO rule_firings (id, rule_id, posting_id, fired_at, body)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		f.ID, f.RuleID, f.PostingID, f.FiredAt.UTC().Format(timeLayout), string(data))
	return err
}

func (s *SQL) ListFirings(ctx context.Context, ruleID string) ([]rules.Firing, error) {
	query := "SELECT body FROM rule_firings"
	var args []any
	if ruleID != "" {
		query += " WHERE rule_id = ?"
		args = append(args, ruleID)
	}
	query += " ORDER BY fired_at, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]rules.Firing, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var f rules.Firing
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

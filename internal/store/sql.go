// internal/store/sql.go
//
// SQL implementation of Store for SQLite (mattn/go-sqlite3) and
// Postgres (lib/pq).
// Responsibilities:
//   - Opening the database with driver-specific defaults.
//   - Reading players and puzzles; timestamps are stored as RFC3339Nano text.
//   - Writing counter + puzzle changes in a single transaction.
//
// Queries are written with '?' placeholders and rebound to $n for Postgres.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/robalobadob/realeffort/internal/session"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQL is a database/sql backed Store.
type SQL struct {
	db     *sql.DB
	driver string
}

// Open opens (and for SQLite creates) the database and applies migrations.
//
// SQLite:
//   - Ensures the parent directory exists for relative paths (./data/app.db).
//   - WAL journaling, 5s busy timeout, foreign keys on.
//   - A single open connection, since SQLite has one writer.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &SQL{db: db, driver: driver}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open(DriverSQLite, dsn+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// DB exposes the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) q(query string) string { return rebind(s.driver, query) }

func (s *SQL) CreatePlayer(ctx context.Context, p *session.Player) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO players (id, label, more_high_wage, wage, earning, iteration,
		                     num_trials, num_correct, num_failed, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`),
		p.ID, p.Label, p.MoreHighWage, p.Wage, p.Earning, p.Iteration,
		p.NumTrials, p.NumCorrect, p.NumFailed, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *SQL) Player(ctx context.Context, id string) (*session.Player, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, label, more_high_wage, wage, earning, iteration,
		       num_trials, num_correct, num_failed, created_at, finished_at
		FROM players WHERE id=?`), id)
	var (
		p        session.Player
		created  string
		finished sql.NullString
	)
	err := row.Scan(&p.ID, &p.Label, &p.MoreHighWage, &p.Wage, &p.Earning, &p.Iteration,
		&p.NumTrials, &p.NumCorrect, &p.NumFailed, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	p.CreatedAt = parseTime(created)
	if finished.Valid {
		t := parseTime(finished.String)
		p.FinishedAt = &t
	}
	return &p, nil
}

const puzzleColumns = `player_id, iteration, content, solution, response, response_at, attempts, is_correct, created_at`

func (s *SQL) CurrentPuzzle(ctx context.Context, playerID string, iteration int) (*session.Puzzle, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+puzzleColumns+` FROM puzzles WHERE player_id=? AND iteration=?`),
		playerID, iteration)
	pz, err := scanPuzzle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pz, nil
}

func (s *SQL) Puzzles(ctx context.Context, playerID string) ([]session.Puzzle, error) {
	if _, err := s.Player(ctx, playerID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+puzzleColumns+` FROM puzzles WHERE player_id=? ORDER BY iteration`), playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []session.Puzzle{}
	for rows.Next() {
		pz, err := scanPuzzle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pz)
	}
	return out, rows.Err()
}

// SaveOutcome updates the player row and inserts or updates the puzzle
// inside one transaction.
func (s *SQL) SaveOutcome(ctx context.Context, pl *session.Player, pz *session.Puzzle, created bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE players SET earning=?, iteration=?, num_trials=?, num_correct=?, num_failed=?
		WHERE id=?`),
		pl.Earning, pl.Iteration, pl.NumTrials, pl.NumCorrect, pl.NumFailed, pl.ID)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrPlayerNotFound
	}

	if created {
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO puzzles (`+puzzleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`),
			pz.PlayerID, pz.Iteration, pz.Text, pz.Solution, nullString(pz.Response),
			nullTime(pz.ResponseTimestamp), pz.Attempts, nullBool(pz.IsCorrect), formatTime(pz.Timestamp))
		if err != nil {
			if isUniqueViolation(err) {
				return session.ErrDuplicatePuzzle
			}
			return fmt.Errorf("insert puzzle: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE puzzles SET response=?, response_at=?, attempts=?, is_correct=?
			WHERE player_id=? AND iteration=?`),
			nullString(pz.Response), nullTime(pz.ResponseTimestamp), pz.Attempts, nullBool(pz.IsCorrect),
			pz.PlayerID, pz.Iteration)
		if err != nil {
			return fmt.Errorf("update puzzle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("no puzzle at iteration %d", pz.Iteration)
		}
	}
	return tx.Commit()
}

func (s *SQL) FinishPlayer(ctx context.Context, playerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE players SET finished_at=COALESCE(finished_at, ?) WHERE id=?`),
		formatTime(at), playerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrPlayerNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPuzzle(row scanner) (*session.Puzzle, error) {
	var (
		pz         session.Puzzle
		response   sql.NullString
		responseAt sql.NullString
		isCorrect  sql.NullBool
		created    string
	)
	if err := row.Scan(&pz.PlayerID, &pz.Iteration, &pz.Text, &pz.Solution, &response, &responseAt,
		&pz.Attempts, &isCorrect, &created); err != nil {
		return nil, err
	}
	if response.Valid {
		s := response.String
		pz.Response = &s
	}
	if responseAt.Valid {
		t := parseTime(responseAt.String)
		pz.ResponseTimestamp = &t
	}
	if isCorrect.Valid {
		b := isCorrect.Bool
		pz.IsCorrect = &b
	}
	pz.Timestamp = parseTime(created)
	return &pz, nil
}

// rebind rewrites '?' placeholders to $1..$n for Postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// parseTime parses RFC3339 timestamps; on error returns zero time.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

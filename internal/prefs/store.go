// Package prefs persists the theme preference and a submission journal in a
// process-local DuckDB file.
package prefs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/marcboeker/go-duckdb"
)

const keyTheme = "theme"

// SubmissionEntry is one row of the submission journal.
type SubmissionEntry struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"sessionId"`
	FileName   string              `json:"fileName"`
	MIMEType   string              `json:"mimeType"`
	Length     models.LengthOption `json:"length"`
	Outcome    models.Outcome      `json:"outcome"`
	Detail     string              `json:"detail,omitempty"`
	DurationMs int64               `json:"durationMs"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// Journal records finished submissions for diagnostics.
type Journal interface {
	RecordSubmission(ctx context.Context, e SubmissionEntry) error
	RecentSubmissions(ctx context.Context, limit int) ([]SubmissionEntry, error)
}

// ThemeStore loads and saves the theme preference.
type ThemeStore interface {
	LoadTheme(ctx context.Context) (models.Theme, error)
	SaveTheme(ctx context.Context, t models.Theme) error
}

// DuckStore implements ThemeStore and Journal on DuckDB.
type DuckStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenDuckStore opens or creates the database at path.
func OpenDuckStore(path string, logger *slog.Logger) (*DuckStore, error) {
	logger = logging.OrDefault(logger)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating preferences directory: %w", err)
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			key        VARCHAR PRIMARY KEY,
			value      VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id          VARCHAR PRIMARY KEY,
			session_id  VARCHAR,
			file_name   VARCHAR NOT NULL,
			mime_type   VARCHAR,
			length      VARCHAR NOT NULL,
			outcome     VARCHAR NOT NULL,
			detail      VARCHAR,
			duration_ms BIGINT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logger.Info("preferences_opened", "path", path)
	return &DuckStore{db: db, path: path, logger: logger}, nil
}

// Path returns the database file.
func (s *DuckStore) Path() string {
	return s.path
}

// Get returns a preference value. The bool is false when the key is unset.
func (s *DuckStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading preference %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a preference value, replacing any previous one.
func (s *DuckStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO preferences (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing preference %s: %w", key, err)
	}
	return nil
}

// LoadTheme returns the stored theme, or the default when none or an
// unknown value is stored.
func (s *DuckStore) LoadTheme(ctx context.Context) (models.Theme, error) {
	v, ok, err := s.Get(ctx, keyTheme)
	if err != nil {
		return models.DefaultTheme, err
	}
	if !ok {
		return models.DefaultTheme, nil
	}
	t, valid := models.ParseTheme(v)
	if !valid {
		s.logger.Warn("invalid_stored_theme", "value", v)
		return models.DefaultTheme, nil
	}
	return t, nil
}

// SaveTheme persists the theme preference.
func (s *DuckStore) SaveTheme(ctx context.Context, t models.Theme) error {
	if _, ok := models.ParseTheme(string(t)); !ok {
		return fmt.Errorf("invalid theme %q", t)
	}
	return s.Set(ctx, keyTheme, string(t))
}

// RecordSubmission appends a journal row.
func (s *DuckStore) RecordSubmission(ctx context.Context, e SubmissionEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session_id, file_name, mime_type, length, outcome, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.FileName, e.MIMEType, string(e.Length), string(e.Outcome), e.Detail,
		e.DurationMs, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording submission %s: %w", e.ID, err)
	}
	return nil
}

// RecentSubmissions returns the newest journal rows first.
func (s *DuckStore) RecentSubmissions(ctx context.Context, limit int) ([]SubmissionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, mime_type, length, outcome, detail, duration_ms, created_at
		FROM submissions
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionEntry
	for rows.Next() {
		var (
			e                       SubmissionEntry
			sessionID, mime, detail sql.NullString
			length, outcome         string
		)
		if err := rows.Scan(&e.ID, &sessionID, &e.FileName, &mime, &length, &outcome, &detail, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		e.SessionID = sessionID.String
		e.MIMEType = mime.String
		e.Detail = detail.String
		e.Length = models.LengthOption(length)
		e.Outcome = models.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutcomeCounts returns how many journal rows ended in each outcome.
func (s *DuckStore) OutcomeCounts(ctx context.Context) (map[models.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM submissions GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("counting submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[models.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Close releases the database.
func (s *DuckStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

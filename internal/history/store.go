// Package history keeps a SQLite log of finished installs.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one finished install.
type Entry struct {
	ID            int64           `json:"id"`
	DownloadID    string          `json:"download_id"`
	BackendID     string          `json:"backend_id,omitempty"`
	SourceURL     string          `json:"source_url"`
	DisplayName   string          `json:"display_name"`
	State         downloads.State `json:"state"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
	InstalledPath string          `json:"installed_path,omitempty"`
	BytesTotal    int64           `json:"bytes_total"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Store persists finished installs to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS installs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			download_id    TEXT NOT NULL,
			backend_id     TEXT NOT NULL DEFAULT '',
			source_url     TEXT NOT NULL DEFAULT '',
			display_name   TEXT NOT NULL DEFAULT '',
			state          TEXT NOT NULL,
			error          TEXT NOT NULL DEFAULT '',
			installed_path TEXT NOT NULL DEFAULT '',
			bytes_total    INTEGER NOT NULL DEFAULT 0,
			started_at     TEXT NOT NULL,
			finished_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_installs_finished_at ON installs(finished_at);
	`)
	return err
}

// Record stores a finished download. Records that have not reached a
// terminal state are rejected.
func (s *Store) Record(rec downloads.Record) error {
	if !rec.State.IsTerminal() {
		return fmt.Errorf("record %s: state %q is not terminal", rec.ID, rec.State)
	}
	finished := time.Now()
	if rec.FinishedAt != nil {
		finished = *rec.FinishedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO installs (download_id, backend_id, source_url, display_name, state, error, installed_path, bytes_total, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BackendID, rec.SourceURL, rec.DisplayName, string(rec.State),
		rec.ErrorDetail, rec.InstalledPath, rec.BytesTotal,
		rec.StartedAt.UTC().Format(timeLayout), finished.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, most recently finished first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.Query(`
		SELECT id, download_id, backend_id, source_url, display_name, state, error, installed_path, bytes_total, started_at, finished_at
		FROM installs ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var state, started, finished string
		if err := rows.Scan(&e.ID, &e.DownloadID, &e.BackendID, &e.SourceURL, &e.DisplayName,
			&state, &e.ErrorDetail, &e.InstalledPath, &e.BytesTotal, &started, &finished); err != nil {
			return nil, err
		}
		e.State = downloads.State(state)
		e.StartedAt, _ = time.Parse(timeLayout, started)
		e.FinishedAt, _ = time.Parse(timeLayout, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the keep most recent entries and returns how many
// rows were removed.
func (s *Store) Prune(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM installs WHERE id NOT IN (
			SELECT id FROM installs ORDER BY finished_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

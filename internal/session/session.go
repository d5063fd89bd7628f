// Package session implements a durable, resumable translation job record
// backed by SQLite: sessions, their source entries, translated entries,
// and per-entry validation results.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SchemaVersion is the only schema version this Store knows how to read.
const SchemaVersion = 1

// ErrUnknownSchemaVersion is returned when an existing database declares a
// schema_version this build does not recognize. Failing loudly beats a
// best-effort migration that could silently corrupt resume state.
var ErrUnknownSchemaVersion = errors.New("session: unknown schema version")

// Status is a session's lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// EntryStatus is one translated_entries row's lifecycle state.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// Session is one sessions row.
type Session struct {
	ID               string
	SourcePath       string
	SourceHash       string
	SourceLang       string
	TargetLang       string
	Provider         string
	Model            string
	TotalEntries     int
	CompletedEntries int
	Status           Status
	QualityScore     *float64
	CreatedAt        string
	UpdatedAt        string
	CompletedAt      *string
}

// SourceEntry is one source_entries row.
type SourceEntry struct {
	ID         int64
	SessionID  string
	SeqNum     uint32
	StartMs    uint64
	EndMs      uint64
	SourceText string
}

// TranslatedEntry is one translated_entries row.
type TranslatedEntry struct {
	ID             int64
	SourceEntryID  int64
	TranslatedText string
	Status         EntryStatus
	Confidence     *float64
	Attempts       int
	LastError      *string
}

// ValidationResult is one validation_results row.
type ValidationResult struct {
	TranslatedEntryID int64
	Type              string
	Passed            bool
	Severity          string
	Message           string
}

// Store is a thread-safe handle onto the session database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the session database at path and
// ensures its schema, failing loudly on an unrecognized existing version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		return s.createSchema()
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: found v%d, want v%d", ErrUnknownSchemaVersion, version, SchemaVersion)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("session: check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version int
	err = s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("session: read schema_version: %w", err)
	}
	return version, nil
}

func (s *Store) createSchema() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		source_hash TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		total_entries INTEGER NOT NULL,
		completed_entries INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'in_progress',
		quality_score REAL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_source_hash ON sessions(source_hash);

	CREATE TABLE IF NOT EXISTS source_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq_num INTEGER NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		source_text TEXT NOT NULL,
		UNIQUE(session_id, seq_num)
	);

	CREATE TABLE IF NOT EXISTS translated_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_entry_id INTEGER NOT NULL REFERENCES source_entries(id) ON DELETE CASCADE,
		translated_text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		confidence REAL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(source_entry_id)
	);

	CREATE TABLE IF NOT EXISTS validation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		translated_entry_id INTEGER NOT NULL REFERENCES translated_entries(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		passed INTEGER NOT NULL,
		severity TEXT,
		message TEXT,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("session: create schema: %w", err)
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO schema_version (id, version, updated_at) VALUES (1, ?, datetime('now'))`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("session: stamp schema_version: %w", err)
	}
	return nil
}

// FindResumable looks up an in-progress or paused session matching the given
// fingerprint, so a rerun against the same source/langs/provider/model
// resumes instead of starting over.
func (s *Store) FindResumable(sourceHash, sourceLang, targetLang, provider, model string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, source_path, source_hash, source_lang, target_lang, provider, model,
		       total_entries, completed_entries, status, quality_score, created_at, updated_at, completed_at
		FROM sessions
		WHERE source_hash = ? AND source_lang = ? AND target_lang = ? AND provider = ? AND model = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, sourceHash, sourceLang, targetLang, provider, model, StatusInProgress, StatusPaused)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: find resumable: %w", err)
	}
	return sess, nil
}

// Get looks up a session by ID regardless of status, for callers that
// already know which session they want (e.g. reporting its final state).
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, source_path, source_hash, source_lang, target_lang, provider, model,
		       total_entries, completed_entries, status, quality_score, created_at, updated_at, completed_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	return sess, nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.SourcePath, &sess.SourceHash, &sess.SourceLang, &sess.TargetLang,
		&sess.Provider, &sess.Model, &sess.TotalEntries, &sess.CompletedEntries, &sess.Status,
		&sess.QualityScore, &sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateParams groups the fields needed to start a new session plus the
// source entries it covers.
type CreateParams struct {
	SourcePath string
	SourceHash string
	SourceLang string
	TargetLang string
	Provider   string
	Model      string
	Entries    []SourceEntry // SessionID is ignored and filled in.
}

// Create inserts a new session row and its source_entries in one
// transaction, returning the generated session ID.
func (s *Store) Create(p CreateParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("session: begin create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, source_path, source_hash, source_lang, target_lang, provider, model,
		                       total_entries, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
	`, id, p.SourcePath, p.SourceHash, p.SourceLang, p.TargetLang, p.Provider, p.Model, len(p.Entries), StatusInProgress)
	if err != nil {
		return "", fmt.Errorf("session: insert session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO source_entries (session_id, seq_num, start_ms, end_ms, source_text)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("session: prepare source_entries insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range p.Entries {
		if _, err := stmt.Exec(id, e.SeqNum, e.StartMs, e.EndMs, e.SourceText); err != nil {
			return "", fmt.Errorf("session: insert source entry %d: %w", e.SeqNum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("session: commit create: %w", err)
	}
	return id, nil
}

// SourceEntries returns every source_entries row for a session, ordered
// by sequence number.
func (s *Store) SourceEntries(sessionID string) ([]SourceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, seq_num, start_ms, end_ms, source_text
		FROM source_entries WHERE session_id = ? ORDER BY seq_num
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: query source entries: %w", err)
	}
	defer rows.Close()

	var out []SourceEntry
	for rows.Next() {
		var e SourceEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SeqNum, &e.StartMs, &e.EndMs, &e.SourceText); err != nil {
			return nil, fmt.Errorf("session: scan source entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResidualWorkset returns the source_entries still needing translation
// for a resumed session: those absent from translated_entries entirely,
// or present with status pending or failed.
func (s *Store) ResidualWorkset(sessionID string) ([]SourceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT se.id, se.session_id, se.seq_num, se.start_ms, se.end_ms, se.source_text
		FROM source_entries se
		LEFT JOIN translated_entries te ON te.source_entry_id = se.id
		WHERE se.session_id = ? AND (te.id IS NULL OR te.status IN ('pending', 'failed'))
		ORDER BY se.seq_num
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: query residual workset: %w", err)
	}
	defer rows.Close()

	var out []SourceEntry
	for rows.Next() {
		var e SourceEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SeqNum, &e.StartMs, &e.EndMs, &e.SourceText); err != nil {
			return nil, fmt.Errorf("session: scan residual entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveTranslation upserts a translated_entries row plus its
// validation_results inside one transaction.
func (s *Store) SaveTranslation(sourceEntryID int64, te TranslatedEntry, results []ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("session: begin save: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO translated_entries (source_entry_id, translated_text, status, confidence, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(source_entry_id) DO UPDATE SET
			translated_text = excluded.translated_text,
			status = excluded.status,
			confidence = excluded.confidence,
			attempts = translated_entries.attempts + excluded.attempts,
			last_error = excluded.last_error,
			updated_at = datetime('now')
	`, sourceEntryID, te.TranslatedText, te.Status, te.Confidence, te.Attempts, te.LastError)
	if err != nil {
		return fmt.Errorf("session: upsert translated entry: %w", err)
	}

	teID, err := res.LastInsertId()
	if err != nil || teID == 0 {
		if err := tx.QueryRow(`SELECT id FROM translated_entries WHERE source_entry_id = ?`, sourceEntryID).Scan(&teID); err != nil {
			return fmt.Errorf("session: resolve translated entry id: %w", err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO validation_results (translated_entry_id, type, passed, severity, message, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
	`)
	if err != nil {
		return fmt.Errorf("session: prepare validation insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(teID, r.Type, r.Passed, r.Severity, r.Message); err != nil {
			return fmt.Errorf("session: insert validation result: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET
			completed_entries = (
				SELECT COUNT(*) FROM translated_entries te
				JOIN source_entries se ON se.id = te.source_entry_id
				WHERE se.session_id = (SELECT session_id FROM source_entries WHERE id = ?) AND te.status = 'completed'
			),
			updated_at = datetime('now')
		WHERE id = (SELECT session_id FROM source_entries WHERE id = ?)
	`, sourceEntryID, sourceEntryID); err != nil {
		return fmt.Errorf("session: update session progress: %w", err)
	}

	return tx.Commit()
}

// BatchItem pairs one source entry row with its translated outcome and
// diagnostics, for a single batch commit via SaveBatch.
type BatchItem struct {
	SourceEntryID int64
	Entry         TranslatedEntry
	Results       []ValidationResult
}

// SaveBatch persists every translated entry of a completed batch, their
// validation results, and the session's completed_entries counter in one
// transaction. A crash mid-dispatch therefore replays at most one batch.
func (s *Store) SaveBatch(sessionID string, items []BatchItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("session: begin batch save: %w", err)
	}
	defer tx.Rollback()

	entryStmt, err := tx.Prepare(`
		INSERT INTO translated_entries (source_entry_id, translated_text, status, confidence, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(source_entry_id) DO UPDATE SET
			translated_text = excluded.translated_text,
			status = excluded.status,
			confidence = excluded.confidence,
			attempts = translated_entries.attempts + excluded.attempts,
			last_error = excluded.last_error,
			updated_at = datetime('now')
	`)
	if err != nil {
		return fmt.Errorf("session: prepare batch entry upsert: %w", err)
	}
	defer entryStmt.Close()

	resultStmt, err := tx.Prepare(`
		INSERT INTO validation_results (translated_entry_id, type, passed, severity, message, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
	`)
	if err != nil {
		return fmt.Errorf("session: prepare batch validation insert: %w", err)
	}
	defer resultStmt.Close()

	for _, item := range items {
		res, err := entryStmt.Exec(item.SourceEntryID, item.Entry.TranslatedText, item.Entry.Status,
			item.Entry.Confidence, item.Entry.Attempts, item.Entry.LastError)
		if err != nil {
			return fmt.Errorf("session: upsert batch entry %d: %w", item.SourceEntryID, err)
		}

		teID, err := res.LastInsertId()
		if err != nil || teID == 0 {
			if err := tx.QueryRow(`SELECT id FROM translated_entries WHERE source_entry_id = ?`, item.SourceEntryID).Scan(&teID); err != nil {
				return fmt.Errorf("session: resolve batch entry id: %w", err)
			}
		}

		for _, r := range item.Results {
			if _, err := resultStmt.Exec(teID, r.Type, r.Passed, r.Severity, r.Message); err != nil {
				return fmt.Errorf("session: insert batch validation result: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET
			completed_entries = (
				SELECT COUNT(*) FROM translated_entries te
				JOIN source_entries se ON se.id = te.source_entry_id
				WHERE se.session_id = ? AND te.status = 'completed'
			),
			updated_at = datetime('now')
		WHERE id = ?
	`, sessionID, sessionID); err != nil {
		return fmt.Errorf("session: update batch progress: %w", err)
	}

	return tx.Commit()
}

// Finalize sets a session's terminal status and completed_at timestamp.
func (s *Store) Finalize(sessionID string, status Status, qualityScore *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, quality_score = ?, updated_at = datetime('now'), completed_at = datetime('now')
		WHERE id = ?
	`, status, qualityScore, sessionID)
	if err != nil {
		return fmt.Errorf("session: finalize: %w", err)
	}
	return nil
}

// TranslatedEntries returns every translated_entries row for a session,
// joined against source_entries and ordered by sequence number, for
// reassembly at Emit time.
func (s *Store) TranslatedEntries(sessionID string) ([]TranslatedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT te.id, te.source_entry_id, te.translated_text, te.status, te.confidence, te.attempts, te.last_error
		FROM translated_entries te
		JOIN source_entries se ON se.id = te.source_entry_id
		WHERE se.session_id = ?
		ORDER BY se.seq_num
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: query translated entries: %w", err)
	}
	defer rows.Close()

	var out []TranslatedEntry
	for rows.Next() {
		var te TranslatedEntry
		if err := rows.Scan(&te.ID, &te.SourceEntryID, &te.TranslatedText, &te.Status, &te.Confidence, &te.Attempts, &te.LastError); err != nil {
			return nil, fmt.Errorf("session: scan translated entry: %w", err)
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes sessions (and their cascading child rows)
// completed more than the given number of days ago.
func (s *Store) DeleteOlderThan(days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE completed_at IS NOT NULL AND completed_at < datetime('now', '-' || ? || ' days')
	`, days)
	if err != nil {
		return 0, fmt.Errorf("session: delete older than: %w", err)
	}
	return res.RowsAffected()
}

// Package cache implements a two-tier translation cache: an in-memory
// tier for same-run hits and a SQLite durable tier for cross-run reuse.
// Lookups are exact-match only; there is no fuzzy fallback tier.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// FingerprintKey is the cache lookup key: a hash of the source text plus
// the language pair and the provider/model that produced the translation.
type FingerprintKey struct {
	SourceHash string
	SourceLang string
	TargetLang string
	Provider   string
	Model      string
}

// Fingerprint builds a FingerprintKey from raw source text.
func Fingerprint(sourceText, sourceLang, targetLang, provider, model string) FingerprintKey {
	sum := sha256.Sum256([]byte(sourceText))
	return FingerprintKey{
		SourceHash: fmt.Sprintf("%x", sum),
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Provider:   provider,
		Model:      model,
	}
}

// Entry is one cached translation.
type Entry struct {
	SourceText     string
	TranslatedText string
}

// Stats reports cache size and hit rate for operator visibility; it is
// not consulted by the translation control flow. Hits and Misses count
// this process's lookups across both tiers.
type Stats struct {
	TotalEntries int
	HitRate      float64
	Hits         int64
	Misses       int64
}

// Store is a thread-safe two-tier cache: an in-memory map checked first,
// backed by a SQLite table for persistence across runs.
type Store struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64

	mu     sync.RWMutex
	memory map[FingerprintKey]Entry
}

// Open opens (creating if absent) the cache database at path and ensures
// its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: enable WAL: %w", err)
	}

	s := &Store{db: db, memory: make(map[FingerprintKey]Entry)}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS translation_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_text_hash TEXT NOT NULL,
		source_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE(source_text_hash, source_lang, target_lang, provider, model)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_lookup ON translation_cache(source_text_hash, source_lang, target_lang, provider, model);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("cache: create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get checks the in-memory tier first, falling back to the durable tier
// on a miss and warming memory with what it finds.
func (s *Store) Get(key FingerprintKey) (Entry, bool) {
	s.mu.RLock()
	if e, ok := s.memory[key]; ok {
		s.mu.RUnlock()
		s.hits.Add(1)
		return e, true
	}
	s.mu.RUnlock()

	var e Entry
	err := s.db.QueryRow(`
		SELECT source_text, translated_text FROM translation_cache
		WHERE source_text_hash = ? AND source_lang = ? AND target_lang = ? AND provider = ? AND model = ?
	`, key.SourceHash, key.SourceLang, key.TargetLang, key.Provider, key.Model).Scan(&e.SourceText, &e.TranslatedText)
	if err == sql.ErrNoRows {
		s.misses.Add(1)
		return Entry{}, false
	}
	if err != nil {
		s.misses.Add(1)
		return Entry{}, false
	}

	s.mu.Lock()
	s.memory[key] = e
	s.mu.Unlock()

	s.hits.Add(1)
	go s.bumpHitCount(key)
	return e, true
}

func (s *Store) bumpHitCount(key FingerprintKey) {
	s.db.Exec(`
		UPDATE translation_cache SET hit_count = hit_count + 1
		WHERE source_text_hash = ? AND source_lang = ? AND target_lang = ? AND provider = ? AND model = ?
	`, key.SourceHash, key.SourceLang, key.TargetLang, key.Provider, key.Model)
}

// Put upserts a translation into both tiers.
func (s *Store) Put(key FingerprintKey, entry Entry) error {
	s.mu.Lock()
	s.memory[key] = entry
	s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO translation_cache (source_text_hash, source_text, source_lang, target_lang, translated_text, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(source_text_hash, source_lang, target_lang, provider, model) DO UPDATE SET
			translated_text = excluded.translated_text,
			hit_count = translation_cache.hit_count + 1
	`, key.SourceHash, entry.SourceText, key.SourceLang, key.TargetLang, entry.TranslatedText, key.Provider, key.Model)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// PutBatch upserts many translations in a single transaction.
func (s *Store) PutBatch(entries map[FingerprintKey]Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO translation_cache (source_text_hash, source_text, source_lang, target_lang, translated_text, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(source_text_hash, source_lang, target_lang, provider, model) DO UPDATE SET
			translated_text = excluded.translated_text,
			hit_count = translation_cache.hit_count + 1
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare batch insert: %w", err)
	}
	defer stmt.Close()

	s.mu.Lock()
	for key, entry := range entries {
		if _, err := stmt.Exec(key.SourceHash, entry.SourceText, key.SourceLang, key.TargetLang, entry.TranslatedText, key.Provider, key.Model); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("cache: batch insert: %w", err)
		}
		s.memory[key] = entry
	}
	s.mu.Unlock()

	return tx.Commit()
}

// GetStats reports durable-tier size and an approximate hit rate.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM translation_cache`).Scan(&stats.TotalEntries); err != nil {
		return Stats{}, fmt.Errorf("cache: count entries: %w", err)
	}

	var avgHits sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(hit_count) FROM translation_cache`).Scan(&avgHits); err != nil {
		return Stats{}, fmt.Errorf("cache: average hit count: %w", err)
	}
	if avgHits.Valid && avgHits.Float64 > 0 {
		stats.HitRate = (avgHits.Float64 - 1) / avgHits.Float64 * 100
	}
	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats, nil
}

// WarmMostHit preloads the k most-hit durable entries for the given
// language/provider/model tuple into the in-memory tier, so a run over a
// series with recurring lines skips the durable tier on its hot strings.
// Returns the number of entries loaded.
func (s *Store) WarmMostHit(k int, sourceLang, targetLang, provider, model string) (int, error) {
	if k <= 0 {
		return 0, nil
	}

	rows, err := s.db.Query(`
		SELECT source_text_hash, source_text, translated_text FROM translation_cache
		WHERE source_lang = ? AND target_lang = ? AND provider = ? AND model = ?
		ORDER BY hit_count DESC LIMIT ?
	`, sourceLang, targetLang, provider, model, k)
	if err != nil {
		return 0, fmt.Errorf("cache: warm query: %w", err)
	}
	defer rows.Close()

	loaded := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var hash string
		var e Entry
		if err := rows.Scan(&hash, &e.SourceText, &e.TranslatedText); err != nil {
			return loaded, fmt.Errorf("cache: warm scan: %w", err)
		}
		key := FingerprintKey{SourceHash: hash, SourceLang: sourceLang, TargetLang: targetLang, Provider: provider, Model: model}
		if _, ok := s.memory[key]; !ok {
			s.memory[key] = e
			loaded++
		}
	}
	return loaded, rows.Err()
}

// ClearOlderThan removes durable-tier entries older than the given
// number of days; the in-memory tier is unaffected since it only lives
// for the current process.
func (s *Store) ClearOlderThan(days int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM translation_cache WHERE created_at < datetime('now', '-' || ? || ' days')`, days)
	if err != nil {
		return 0, fmt.Errorf("cache: clear older than: %w", err)
	}
	return res.RowsAffected()
}

// Package pipeline orchestrates a translation run end to end: resolve or
// create a session, warm the cache, pack entries into batches, dispatch
// them to a provider, persist results, and finalize.
package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/lsilvatti/subtrans/internal/batch"
	"github.com/lsilvatti/subtrans/internal/cache"
	"github.com/lsilvatti/subtrans/internal/config"
	"github.com/lsilvatti/subtrans/internal/format"
	"github.com/lsilvatti/subtrans/internal/provider"
	"github.com/lsilvatti/subtrans/internal/session"
	"github.com/lsilvatti/subtrans/internal/subtitle"
	"github.com/lsilvatti/subtrans/internal/validate"
)

// Pipeline wires the durable session store, the two-tier cache, and a
// provider adapter into one translation run.
type Pipeline struct {
	Provider provider.Provider
	Sessions *session.Store
	Cache    *cache.Store
	Config   *config.Config

	LogCallback      func(string)
	ProgressCallback func(completed, total int)
}

// New builds a Pipeline from its collaborators.
func New(p provider.Provider, sessions *session.Store, c *cache.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{Provider: p, Sessions: sessions, Cache: c, Config: cfg}
}

// Run executes one full translation job against an input subtitle file,
// writing the translated result to outputPath.
func (pl *Pipeline) Run(ctx context.Context, inputPath, outputPath string) error {
	pl.log("parsing source subtitle file")
	entries, err := subtitle.ParseFile(inputPath)
	if err != nil {
		return fmt.Errorf("pipeline: parse source: %w", err)
	}

	providerCfg, err := pl.Config.ActiveProvider()
	if err != nil {
		return fmt.Errorf("pipeline: resolve provider config: %w", err)
	}
	if providerCfg.ConcurrentRequests <= 0 {
		if prof, ok := provider.Profiles[pl.Config.Provider]; ok {
			providerCfg.ConcurrentRequests = prof.ConcurrentRequests
		} else {
			providerCfg.ConcurrentRequests = 1
		}
	}

	sourceHash := hashEntries(entries)
	sess, residual, err := pl.resolveSession(inputPath, sourceHash, entries)
	if err != nil {
		return err
	}
	pl.log(fmt.Sprintf("session %s: %d of %d entries remaining", sess.ID, len(residual), sess.TotalEntries))

	if len(residual) == 0 {
		return pl.finalizeAndEmit(sess.ID, entries, outputPath)
	}

	if pl.Config.CacheWarmCount > 0 {
		n, err := pl.Cache.WarmMostHit(pl.Config.CacheWarmCount, pl.Config.SourceLanguage, pl.Config.TargetLanguage, pl.Config.Provider, providerCfg.Model)
		if err != nil {
			pl.log(fmt.Sprintf("warning: cache warm failed: %v", err))
		} else if n > 0 {
			pl.log(fmt.Sprintf("preloaded %d hot cache entries", n))
		}
	}

	workEntries, warmedCount := pl.warmFromCache(residual, providerCfg.Model)
	if warmedCount > 0 {
		pl.log(fmt.Sprintf("cache warm: %d/%d entries resolved without a provider call", warmedCount, len(residual)))
	}

	batches := batch.Pack(workEntries, providerCfg.MaxCharsPerRequest)
	pl.log(fmt.Sprintf("packed %d entries into %d batches", len(workEntries), len(batches)))

	sessionID := sess.ID
	sourceByText, err := pl.sourceTextIndex(sessionID)
	if err != nil {
		return err
	}

	rateLimiter := provider.NewRateLimiter(providerCfg.RateLimit)
	dispatchCfg := batch.Config{
		Provider:               pl.Provider,
		Model:                  providerCfg.Model,
		SystemPrompt:           pl.Config.RenderSystemPrompt(),
		Temperature:            pl.Config.Translation.Temperature,
		Concurrency:            providerCfg.ConcurrentRequests,
		RateLimiter:            rateLimiter,
		Retry:                  provider.RetryOptions{MaxRetries: pl.Config.Translation.RetryCount, InitialBackoff: msToDuration(pl.Config.Translation.RetryBackoffMs)},
		RetryIndividualEntries: pl.Config.Translation.RetryIndividualEntries,
		OnProgress: func(completed, total int) {
			if pl.ProgressCallback != nil {
				pl.ProgressCallback(completed, total)
			}
		},
		OnBatchComplete: func(br batch.BatchResult) {
			if err := pl.persistBatchResult(sessionID, br, sourceByText, providerCfg.Model); err != nil {
				pl.log(fmt.Sprintf("warning: persist batch %d failed: %v", br.BatchIndex, err))
			}
		},
	}

	_, dispatchErr := batch.Dispatch(ctx, batches, dispatchCfg)
	if dispatchErr != nil {
		if finalizeErr := pl.Sessions.Finalize(sess.ID, session.StatusFailed, nil); finalizeErr != nil {
			pl.log(fmt.Sprintf("warning: finalize after fatal provider error failed: %v", finalizeErr))
		}
		return fmt.Errorf("pipeline: session %s aborted: %w", sess.ID, dispatchErr)
	}

	return pl.finalizeAndEmit(sess.ID, entries, outputPath)
}

func (pl *Pipeline) resolveSession(inputPath, sourceHash string, entries []subtitle.Entry) (*session.Session, []session.SourceEntry, error) {
	providerName := pl.Config.Provider
	providerCfg, _ := pl.Config.ActiveProvider()

	existing, err := pl.Sessions.FindResumable(sourceHash, pl.Config.SourceLanguage, pl.Config.TargetLanguage, providerName, providerCfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: resolve resumable session: %w", err)
	}
	if existing != nil {
		residual, err := pl.Sessions.ResidualWorkset(existing.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: load residual workset: %w", err)
		}
		return existing, residual, nil
	}

	sourceEntries := make([]session.SourceEntry, len(entries))
	for i, e := range entries {
		sourceEntries[i] = session.SourceEntry{SeqNum: e.SeqNum, StartMs: e.StartMs, EndMs: e.EndMs, SourceText: e.Text}
	}

	id, err := pl.Sessions.Create(session.CreateParams{
		SourcePath: inputPath,
		SourceHash: sourceHash,
		SourceLang: pl.Config.SourceLanguage,
		TargetLang: pl.Config.TargetLanguage,
		Provider:   providerName,
		Model:      providerCfg.Model,
		Entries:    sourceEntries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: create session: %w", err)
	}

	created, err := pl.Sessions.FindResumable(sourceHash, pl.Config.SourceLanguage, pl.Config.TargetLanguage, providerName, providerCfg.Model)
	if err != nil || created == nil {
		return nil, nil, fmt.Errorf("pipeline: reload created session %s: %w", id, err)
	}

	residual, err := pl.Sessions.ResidualWorkset(id)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: load residual workset: %w", err)
	}
	return created, residual, nil
}

// warmFromCache checks the two-tier cache for each residual entry before
// dispatch, returning only the entries that still need a provider call
// and the count that were resolved from cache.
func (pl *Pipeline) warmFromCache(residual []session.SourceEntry, model string) ([]subtitle.Entry, int) {
	var needWork []subtitle.Entry
	warmed := 0

	for _, se := range residual {
		entry := subtitle.Entry{SeqNum: se.SeqNum, StartMs: se.StartMs, EndMs: se.EndMs, Text: se.SourceText}
		key := cache.Fingerprint(se.SourceText, pl.Config.SourceLanguage, pl.Config.TargetLanguage, pl.Config.Provider, model)
		if hit, ok := pl.Cache.Get(key); ok {
			translatedText := hit.TranslatedText
			if pl.Config.Translation.PreserveFormatting {
				translatedText = format.Preserve(se.SourceText, translatedText)
			}
			if err := pl.Sessions.SaveTranslation(se.ID, session.TranslatedEntry{
				TranslatedText: translatedText,
				Status:         session.EntryCompleted,
				Attempts:       1,
			}, nil); err == nil {
				warmed++
				continue
			}
		}
		needWork = append(needWork, entry)
	}
	return needWork, warmed
}

// sourceTextIndex builds a lookup from a source entry's (seq, text) pair
// to its row ID, so persistBatchResult can find the right row for each
// dispatched entry without reloading source entries per batch.
func (pl *Pipeline) sourceTextIndex(sessionID string) (map[string]int64, error) {
	sourceByText := make(map[string]int64)
	sourceEntries, err := pl.Sessions.SourceEntries(sessionID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reload source entries: %w", err)
	}
	for _, se := range sourceEntries {
		sourceByText[fmt.Sprintf("%d:%s", se.SeqNum, se.SourceText)] = se.ID
	}
	return sourceByText, nil
}

// persistBatchResult commits one batch's entries durably as soon as that
// batch completes: all of its translated-entry rows, their diagnostics,
// and the session's completed_entries counter land in a single
// transaction, so a crash mid-dispatch replays at most one batch.
func (pl *Pipeline) persistBatchResult(sessionID string, br batch.BatchResult, sourceByText map[string]int64, model string) error {
	cacheBatch := make(map[cache.FingerprintKey]cache.Entry)
	items := make([]session.BatchItem, 0, len(br.Entries))

	for _, er := range br.Entries {
		key := fmt.Sprintf("%d:%s", er.Source.SeqNum, er.Source.Text)
		sourceEntryID, ok := sourceByText[key]
		if !ok {
			continue
		}

		finalText := er.Text
		if er.Status == batch.StatusCompleted && pl.Config.Translation.PreserveFormatting {
			finalText = format.Preserve(er.Source.Text, er.Text)
		}

		var diagResults []session.ValidationResult
		for _, r := range validate.Diagnose(er.Source.Text, finalText, validate.Options{
			SourceLang: pl.Config.SourceLanguage,
			TargetLang: pl.Config.TargetLanguage,
			Glossary:   pl.Config.Glossary,
		}) {
			diagResults = append(diagResults, session.ValidationResult{
				Type: r.Type, Passed: r.Passed, Severity: string(r.Severity), Message: r.Message,
			})
		}

		status := session.EntryFailed
		var lastErr *string
		if er.Status == batch.StatusCompleted {
			status = session.EntryCompleted
		} else if er.LastError != "" {
			lastErr = &er.LastError
		}

		items = append(items, session.BatchItem{
			SourceEntryID: sourceEntryID,
			Entry: session.TranslatedEntry{
				TranslatedText: finalText,
				Status:         status,
				Confidence:     er.Confidence,
				Attempts:       er.Attempts,
				LastError:      lastErr,
			},
			Results: diagResults,
		})

		if status == session.EntryCompleted {
			cacheBatch[cache.Fingerprint(er.Source.Text, pl.Config.SourceLanguage, pl.Config.TargetLanguage, pl.Config.Provider, model)] =
				cache.Entry{SourceText: er.Source.Text, TranslatedText: er.Text}
		}
	}

	if err := pl.Sessions.SaveBatch(sessionID, items); err != nil {
		return fmt.Errorf("pipeline: persist batch %d: %w", br.BatchIndex, err)
	}

	if err := pl.Cache.PutBatch(cacheBatch); err != nil {
		pl.log(fmt.Sprintf("warning: cache batch write failed: %v", err))
	}

	return nil
}

// finalizeAndEmit derives the session's terminal status and writes the
// output file unconditionally, falling back to each entry's source text
// when it never completed, so a Paused or Failed run still leaves an
// inspectable file rather than none at all.
func (pl *Pipeline) finalizeAndEmit(sessionID string, entries []subtitle.Entry, outputPath string) error {
	translated, err := pl.Sessions.TranslatedEntries(sessionID)
	if err != nil {
		return fmt.Errorf("pipeline: load translated entries: %w", err)
	}

	status, err := pl.finalizeStatus(sessionID, translated, len(entries))
	if err != nil {
		return err
	}
	pl.log(fmt.Sprintf("session %s finalized: %s", sessionID, status))

	bySourceID := make(map[int64]session.TranslatedEntry, len(translated))
	for _, te := range translated {
		bySourceID[te.SourceEntryID] = te
	}

	sourceEntries, err := pl.Sessions.SourceEntries(sessionID)
	if err != nil {
		return fmt.Errorf("pipeline: reload source entries for emit: %w", err)
	}

	out := make([]subtitle.Entry, len(sourceEntries))
	for i, se := range sourceEntries {
		text := se.SourceText
		if te, ok := bySourceID[se.ID]; ok {
			text = te.TranslatedText
		}
		out[i] = subtitle.Entry{SeqNum: se.SeqNum, StartMs: se.StartMs, EndMs: se.EndMs, Text: text}
	}

	if err := subtitle.WriteFile(outputPath, out); err != nil {
		return fmt.Errorf("pipeline: emit output: %w", err)
	}
	pl.log("wrote output subtitle file")
	return nil
}

// finalizeStatus derives the session's terminal status from aggregate
// entry outcomes: Completed if every entry succeeded, Failed if the
// failed fraction exceeds the configured threshold, otherwise Paused so
// the job auto-resumes next run.
func (pl *Pipeline) finalizeStatus(sessionID string, translated []session.TranslatedEntry, total int) (session.Status, error) {
	var failed, completed int
	for _, te := range translated {
		switch te.Status {
		case session.EntryFailed:
			failed++
		case session.EntryCompleted:
			completed++
		}
	}

	status := session.StatusCompleted
	switch {
	case failed == 0 && completed == total:
		status = session.StatusCompleted
	case float64(failed)/float64(len(translated)) > pl.Config.Translation.FailureThreshold:
		status = session.StatusFailed
	default:
		status = session.StatusPaused
	}

	if err := pl.Sessions.Finalize(sessionID, status, nil); err != nil {
		return "", fmt.Errorf("pipeline: finalize session: %w", err)
	}
	return status, nil
}

func hashEntries(entries []subtitle.Entry) string {
	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%d|%d|%d|%s\n", e.SeqNum, e.StartMs, e.EndMs, e.Text)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (pl *Pipeline) log(msg string) {
	if pl.LogCallback != nil {
		pl.LogCallback(msg)
	}
}

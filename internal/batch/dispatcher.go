package batch

import (
	"context"
	"sync"

	"github.com/lsilvatti/subtrans/internal/provider"
	"github.com/lsilvatti/subtrans/internal/subtitle"
	"github.com/lsilvatti/subtrans/internal/validate"
	"github.com/lsilvatti/subtrans/pkg/safe"
)

// EntryStatus is the outcome a dispatch run records for one entry.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// EntryResult is one dispatched entry's outcome, ready for the
// orchestrator to run through format preservation and persist.
type EntryResult struct {
	Source     subtitle.Entry
	Text       string
	Status     EntryStatus
	Confidence *float64
	Attempts   int
	LastError  string
}

// BatchResult is one batch's outcome, tagged with its original packing
// index so results can be reassembled in packing order regardless of
// arrival order.
type BatchResult struct {
	BatchIndex int
	Entries    []EntryResult
}

// Config configures one dispatch run.
type Config struct {
	Provider               provider.Provider
	Model                  string
	SystemPrompt           string
	Temperature            float64
	Concurrency            int
	RateLimiter            *provider.RateLimiter
	Retry                  provider.RetryOptions
	RetryIndividualEntries bool
	// OnProgress is invoked once per completed batch, in arrival order
	// (not submission order). It must be cheap and non-blocking.
	OnProgress func(completed, total int)
	// OnBatchComplete is invoked once per completed batch, with that
	// batch's own result, as soon as it lands rather than after every
	// batch finishes. Callers use this to persist each batch durably as
	// it completes instead of buffering results until Dispatch returns.
	// It must be safe to call concurrently from multiple batches at once.
	OnBatchComplete func(BatchResult)
}

// Dispatch submits batches to the provider with bounded concurrency.
// Results are returned ordered by each batch's original packing index.
// If any batch fails with a terminal authentication error, Dispatch
// cancels outstanding and not-yet-started batches and returns that error
// alongside whatever batches had already completed.
func Dispatch(ctx context.Context, batches []Batch, cfg Config) ([]BatchResult, error) {
	results := make([]BatchResult, len(batches))
	if len(batches) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	var completed int
	var progressMu sync.Mutex
	var fatalOnce sync.Once
	var fatalErr error

	for _, b := range batches {
		wg.Add(1)
		go func(b Batch) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				results[b.Index] = BatchResult{BatchIndex: b.Index, Entries: failAll(b.Entries, ctx.Err().Error())}
				return
			}

			result := BatchResult{BatchIndex: b.Index}
			var batchErr error
			if err := safe.Run(func() error {
				result.Entries, batchErr = dispatchOneBatch(ctx, b, cfg)
				return nil
			}); err != nil {
				result.Entries = failAll(b.Entries, err.Error())
			}
			results[b.Index] = result

			if batchErr != nil && provider.IsAuthError(batchErr) {
				fatalOnce.Do(func() {
					fatalErr = batchErr
					cancel()
				})
			}

			if cfg.OnBatchComplete != nil {
				cfg.OnBatchComplete(result)
			}

			if cfg.OnProgress != nil {
				progressMu.Lock()
				completed++
				n := completed
				progressMu.Unlock()
				cfg.OnProgress(n, len(batches))
			}
		}(b)
	}

	wg.Wait()
	return results, fatalErr
}

// dispatchOneBatch returns the batch's entry results plus the raw
// completion error, if any, so the caller can detect a terminal
// authentication failure even when the batch itself resolved to Failed
// entries via fallback.
func dispatchOneBatch(ctx context.Context, b Batch, cfg Config) ([]EntryResult, error) {
	texts := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		texts[i] = e.Text
	}
	body := BuildRequestBody(texts)

	resp, err := provider.Do(ctx, cfg.Retry, cfg.RateLimiter, func(ctx context.Context) (provider.Response, error) {
		return cfg.Provider.Complete(ctx, provider.Request{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			Messages:     []provider.Message{{Role: "user", Content: body}},
		})
	})
	if err != nil {
		if provider.IsAuthError(err) {
			return failAll(b.Entries, err.Error()), err
		}
		if cfg.RetryIndividualEntries {
			return fallbackAll(ctx, b.Entries, cfg, err.Error()), err
		}
		return failAll(b.Entries, err.Error()), err
	}

	validation := Validate(resp.Text, len(b.Entries))
	if validation.Passed() {
		return extractAll(b.Entries, resp.Text), nil
	}

	// Structural protocol violation: salvage what we can, then fall back
	// per-entry for the rest, or fail the whole batch.
	salvaged := RecoverEntries(resp.Text, len(b.Entries))
	salvagedByIndex := make(map[int]string, len(salvaged))
	for _, s := range salvaged {
		salvagedByIndex[s.Index] = s.Text
	}

	if !cfg.RetryIndividualEntries {
		return failAll(b.Entries, "batch protocol violation: "+validation.Err), nil
	}

	results := make([]EntryResult, len(b.Entries))
	var missing []int
	for i, e := range b.Entries {
		if text, ok := salvagedByIndex[i]; ok {
			conf := validate.Confidence(e.Text, text)
			results[i] = EntryResult{Source: e, Text: text, Status: StatusCompleted, Confidence: &conf, Attempts: 1}
		} else {
			missing = append(missing, i)
		}
	}

	for _, i := range missing {
		results[i] = fallbackOne(ctx, b.Entries[i], cfg)
	}

	return results, nil
}

func extractAll(entries []subtitle.Entry, response string) []EntryResult {
	results := make([]EntryResult, len(entries))
	for i, e := range entries {
		text, err := ExtractEntryText(response, i, len(entries))
		if err != nil {
			// Should not happen once Validate passed, but fall back safely.
			results[i] = fallbackResult(e, err.Error())
			continue
		}
		results[i] = EntryResult{Source: e, Text: text, Status: StatusCompleted, Attempts: 1}
	}
	return results
}

func fallbackAll(ctx context.Context, entries []subtitle.Entry, cfg Config, reason string) []EntryResult {
	results := make([]EntryResult, len(entries))
	for i, e := range entries {
		results[i] = fallbackOne(ctx, e, cfg)
		if results[i].Status == StatusFailed && results[i].LastError == "" {
			results[i].LastError = reason
		}
	}
	return results
}

// fallbackOne re-sends a single entry as a standalone request, no markers,
// under the same retry/backoff rules.
func fallbackOne(ctx context.Context, e subtitle.Entry, cfg Config) EntryResult {
	resp, err := provider.Do(ctx, cfg.Retry, cfg.RateLimiter, func(ctx context.Context) (provider.Response, error) {
		return cfg.Provider.Complete(ctx, provider.Request{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Temperature:  cfg.Temperature,
			Messages:     []provider.Message{{Role: "user", Content: e.Text}},
		})
	})
	if err != nil {
		return fallbackResult(e, err.Error())
	}
	conf := validate.Confidence(e.Text, resp.Text)
	return EntryResult{Source: e, Text: resp.Text, Status: StatusCompleted, Confidence: &conf, Attempts: 1}
}

// fallbackResult builds a Failed entry that keeps the source text as its
// fallback translation.
func fallbackResult(e subtitle.Entry, lastErr string) EntryResult {
	return EntryResult{Source: e, Text: e.Text, Status: StatusFailed, Attempts: 1, LastError: lastErr}
}

func failAll(entries []subtitle.Entry, reason string) []EntryResult {
	results := make([]EntryResult, len(entries))
	for i, e := range entries {
		results[i] = EntryResult{Source: e, Text: e.Text, Status: StatusFailed, Attempts: 1, LastError: reason}
	}
	return results
}

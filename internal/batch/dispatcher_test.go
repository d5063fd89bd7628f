package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lsilvatti/subtrans/internal/provider"
	"github.com/lsilvatti/subtrans/internal/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(p provider.Provider, retryIndividual bool) Config {
	return Config{
		Provider:               p,
		Model:                  "mock-model",
		RetryIndividualEntries: retryIndividual,
		Concurrency:            4,
		Retry:                  provider.RetryOptions{MaxRetries: 1, InitialBackoff: time.Millisecond},
	}
}

func TestDispatch_WorkingProvider_AllCompleted(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello"), entry(2, "World")}
	batches := Pack(entries, 200)

	results, err := Dispatch(context.Background(), batches, testConfig(provider.NewMockProvider(provider.Working), true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 2)
	assert.Equal(t, StatusCompleted, results[0].Entries[0].Status)
	assert.Equal(t, "HELLO", results[0].Entries[0].Text)
	assert.Equal(t, "WORLD", results[0].Entries[1].Text)
}

func TestDispatch_FailingProvider_NoFallback_WholeBatchFails(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello"), entry(2, "World")}
	batches := Pack(entries, 200)

	results, err := Dispatch(context.Background(), batches, testConfig(provider.NewMockProvider(provider.Failing), false))
	require.NoError(t, err)
	require.Len(t, results, 1)
	for i, r := range results[0].Entries {
		assert.Equal(t, StatusFailed, r.Status)
		assert.Equal(t, entries[i].Text, r.Text)
	}
}

func TestDispatch_FailingProvider_WithFallback_StillFailsButKeepsSource(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello")}
	batches := Pack(entries, 200)

	results, err := Dispatch(context.Background(), batches, testConfig(provider.NewMockProvider(provider.Failing), true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Entries[0].Status)
	assert.Equal(t, "Hello", results[0].Entries[0].Text)
	assert.NotEmpty(t, results[0].Entries[0].LastError)
}

func TestDispatch_PartialMarkers_SalvagesAndFallsBack(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello"), entry(2, "World"), entry(3, "Again")}
	batches := Pack(entries, 200)

	results, err := Dispatch(context.Background(), batches, testConfig(provider.NewMockProvider(provider.PartialMarkers), true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 3)
	// Every entry resolves to Completed: either salvaged from the batch
	// response or recovered via per-entry fallback.
	for _, r := range results[0].Entries {
		assert.Equal(t, StatusCompleted, r.Status)
	}
}

func TestDispatch_TruncatedResponse_FallsBackPerEntry(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello"), entry(2, "World")}
	batches := Pack(entries, 200)

	results, err := Dispatch(context.Background(), batches, testConfig(provider.NewMockProvider(provider.Truncated), true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 2)
	for _, r := range results[0].Entries {
		assert.Equal(t, StatusCompleted, r.Status)
		assert.NotEmpty(t, r.Text)
	}
}

func TestDispatch_PreservesOrderAcrossConcurrentBatches(t *testing.T) {
	entries := make([]subtitle.Entry, 20)
	for i := range entries {
		entries[i] = entry(uint32(i+1), "x")
	}
	var batches []Batch
	for i, e := range entries {
		batches = append(batches, Batch{Index: i, Entries: []subtitle.Entry{e}})
	}

	cfg := testConfig(provider.NewMockProvider(provider.Working), true)
	cfg.Concurrency = 8
	results, err := Dispatch(context.Background(), batches, cfg)

	require.NoError(t, err)
	require.Len(t, results, len(entries))
	for i, r := range results {
		assert.Equal(t, i, r.BatchIndex)
		require.Len(t, r.Entries, 1)
		assert.Equal(t, entries[i].SeqNum, r.Entries[0].Source.SeqNum)
	}
}

func TestDispatch_EmptyBatches_ReturnsEmptyResults(t *testing.T) {
	results, err := Dispatch(context.Background(), nil, testConfig(provider.NewMockProvider(provider.Working), true))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatch_ProgressCallback_FiresOncePerBatch(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "a"), entry(2, "b"), entry(3, "c")}
	var batches []Batch
	for i, e := range entries {
		batches = append(batches, Batch{Index: i, Entries: []subtitle.Entry{e}})
	}

	var calls int
	cfg := testConfig(provider.NewMockProvider(provider.Working), true)
	cfg.OnProgress = func(completed, total int) {
		calls++
		assert.Equal(t, len(batches), total)
	}
	_, err := Dispatch(context.Background(), batches, cfg)
	require.NoError(t, err)
	assert.Equal(t, len(batches), calls)
}

func TestDispatch_OnBatchCompleteCallback_FiresOncePerBatchWithItsResult(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "a"), entry(2, "b"), entry(3, "c")}
	var batches []Batch
	for i, e := range entries {
		batches = append(batches, Batch{Index: i, Entries: []subtitle.Entry{e}})
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	cfg := testConfig(provider.NewMockProvider(provider.Working), true)
	cfg.OnBatchComplete = func(br BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		seen[br.BatchIndex] = true
		require.Len(t, br.Entries, 1)
	}
	_, err := Dispatch(context.Background(), batches, cfg)
	require.NoError(t, err)
	assert.Len(t, seen, len(batches))
}

func TestDispatch_AuthError_AbortsRemainingBatchesAndReturnsFatalErr(t *testing.T) {
	entries := make([]subtitle.Entry, 10)
	for i := range entries {
		entries[i] = entry(uint32(i+1), "x")
	}
	var batches []Batch
	for i, e := range entries {
		batches = append(batches, Batch{Index: i, Entries: []subtitle.Entry{e}})
	}

	cfg := testConfig(provider.NewMockProvider(provider.AuthFailing), true)
	cfg.Concurrency = 2
	results, err := Dispatch(context.Background(), batches, cfg)

	require.Error(t, err)
	assert.True(t, provider.IsAuthError(err))
	require.Len(t, results, len(batches))
	for _, r := range results {
		for _, e := range r.Entries {
			assert.Equal(t, StatusFailed, e.Status)
		}
	}
}

func TestDispatch_AuthError_DoesNotFallBackPerEntry(t *testing.T) {
	entries := []subtitle.Entry{entry(1, "Hello"), entry(2, "World")}
	batches := Pack(entries, 200)

	mock := provider.NewMockProvider(provider.AuthFailing)
	results, err := Dispatch(context.Background(), batches, testConfig(mock, true))

	require.Error(t, err)
	require.Len(t, results, 1)
	for _, e := range results[0].Entries {
		assert.Equal(t, StatusFailed, e.Status)
	}
	assert.Equal(t, 1, mock.Calls())
}

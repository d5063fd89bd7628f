package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_FreshDatabase_StampsSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	v, err := s.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestCreate_InsertsSessionAndSourceEntries(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt",
		SourceHash: "abc123",
		SourceLang: "en",
		TargetLang: "fr",
		Provider:   "ollama",
		Model:      "llama3",
		Entries: []SourceEntry{
			{SeqNum: 1, StartMs: 0, EndMs: 1000, SourceText: "Hello"},
			{SeqNum: 2, StartMs: 1000, EndMs: 2000, SourceText: "World"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := s.SourceEntries(id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(1), entries[0].SeqNum)
	assert.Equal(t, "Hello", entries[0].SourceText)
}

func TestFindResumable_MatchingFingerprint_ReturnsInProgressSession(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h1", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{{SeqNum: 1, SourceText: "Hi"}},
	})
	require.NoError(t, err)

	found, err := s.FindResumable("h1", "en", "fr", "ollama", "llama3")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)
}

func TestFindResumable_NoMatch_ReturnsNil(t *testing.T) {
	s := openTestStore(t)
	found, err := s.FindResumable("nope", "en", "fr", "ollama", "llama3")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestResidualWorkset_OnlyUntranslatedOrFailedRemain(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h2", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{
			{SeqNum: 1, SourceText: "Hello"},
			{SeqNum: 2, SourceText: "World"},
			{SeqNum: 3, SourceText: "Again"},
		},
	})
	require.NoError(t, err)

	entries, err := s.SourceEntries(id)
	require.NoError(t, err)

	require.NoError(t, s.SaveTranslation(entries[0].ID, TranslatedEntry{
		TranslatedText: "Bonjour", Status: EntryCompleted, Attempts: 1,
	}, nil))
	require.NoError(t, s.SaveTranslation(entries[1].ID, TranslatedEntry{
		TranslatedText: "World", Status: EntryFailed, Attempts: 1,
	}, nil))

	residual, err := s.ResidualWorkset(id)
	require.NoError(t, err)
	require.Len(t, residual, 2)
	assert.Equal(t, uint32(2), residual[0].SeqNum)
	assert.Equal(t, uint32(3), residual[1].SeqNum)
}

func TestSaveTranslation_PersistsValidationResults(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h3", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{{SeqNum: 1, SourceText: "Hello"}},
	})
	require.NoError(t, err)
	entries, _ := s.SourceEntries(id)

	err = s.SaveTranslation(entries[0].ID, TranslatedEntry{
		TranslatedText: "Bonjour", Status: EntryCompleted, Attempts: 1,
	}, []ValidationResult{
		{Type: "bracket_match", Passed: true, Severity: "low", Message: "ok"},
	})
	require.NoError(t, err)

	translated, err := s.TranslatedEntries(id)
	require.NoError(t, err)
	require.Len(t, translated, 1)
	assert.Equal(t, "Bonjour", translated[0].TranslatedText)
}

func TestSaveBatch_CommitsEntriesAndProgressTogether(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h5", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{
			{SeqNum: 1, SourceText: "Hello"},
			{SeqNum: 2, SourceText: "World"},
			{SeqNum: 3, SourceText: "Again"},
		},
	})
	require.NoError(t, err)
	entries, err := s.SourceEntries(id)
	require.NoError(t, err)

	err = s.SaveBatch(id, []BatchItem{
		{SourceEntryID: entries[0].ID, Entry: TranslatedEntry{TranslatedText: "Bonjour", Status: EntryCompleted, Attempts: 1}},
		{SourceEntryID: entries[1].ID, Entry: TranslatedEntry{TranslatedText: "Monde", Status: EntryCompleted, Attempts: 1},
			Results: []ValidationResult{{Type: "bracket_match", Passed: true, Severity: "low", Message: "ok"}}},
	})
	require.NoError(t, err)

	sess, err := s.Get(id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.CompletedEntries)

	residual, err := s.ResidualWorkset(id)
	require.NoError(t, err)
	require.Len(t, residual, 1)
	assert.Equal(t, uint32(3), residual[0].SeqNum)
}

func TestSaveBatch_EmptyBatch_NoOp(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveBatch("no-such-session", nil))
}

func TestSaveBatch_UpsertAccumulatesAttempts(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h6", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{{SeqNum: 1, SourceText: "Hello"}},
	})
	require.NoError(t, err)
	entries, err := s.SourceEntries(id)
	require.NoError(t, err)

	require.NoError(t, s.SaveBatch(id, []BatchItem{
		{SourceEntryID: entries[0].ID, Entry: TranslatedEntry{TranslatedText: "", Status: EntryFailed, Attempts: 1}},
	}))
	require.NoError(t, s.SaveBatch(id, []BatchItem{
		{SourceEntryID: entries[0].ID, Entry: TranslatedEntry{TranslatedText: "Bonjour", Status: EntryCompleted, Attempts: 1}},
	}))

	translated, err := s.TranslatedEntries(id)
	require.NoError(t, err)
	require.Len(t, translated, 1)
	assert.Equal(t, EntryCompleted, translated[0].Status)
	assert.Equal(t, 2, translated[0].Attempts)
}

func TestFinalize_SetsTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Create(CreateParams{
		SourcePath: "movie.srt", SourceHash: "h4", SourceLang: "en", TargetLang: "fr",
		Provider: "ollama", Model: "llama3",
		Entries: []SourceEntry{{SeqNum: 1, SourceText: "Hello"}},
	})
	require.NoError(t, err)

	score := 0.9
	require.NoError(t, s.Finalize(id, StatusCompleted, &score))

	found, err := s.FindResumable("h4", "en", "fr", "ollama", "llama3")
	require.NoError(t, err)
	assert.Nil(t, found) // no longer in_progress
}

func TestOpen_UnknownSchemaVersion_FailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE schema_version SET version = 99`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrUnknownSchemaVersion)
}

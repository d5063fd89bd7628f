package subtitle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.srt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile_BasicBlocks(t *testing.T) {
	content := "1\n00:00:01,000 --> 00:00:04,000\nHello, world!\n\n" +
		"2\n00:00:05,000 --> 00:00:08,000\nHow are you?\n\n" +
		"3\n00:00:10,000 --> 00:00:15,000\nThis is a test\nwith multiple lines.\n"

	entries, err := ParseFile(writeTemp(t, content))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, uint32(1), entries[0].SeqNum)
	assert.Equal(t, uint64(1000), entries[0].StartMs)
	assert.Equal(t, uint64(4000), entries[0].EndMs)
	assert.Equal(t, "Hello, world!", entries[0].Text)
	assert.Equal(t, "This is a test\nwith multiple lines.", entries[2].Text)
}

func TestParseFile_CRLFLineEndings(t *testing.T) {
	content := "1\r\n00:00:01,000 --> 00:00:04,000\r\nHello\r\n\r\n"
	entries, err := ParseFile(writeTemp(t, content))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hello", entries[0].Text)
}

func TestParseFile_DotMillisecondSeparator(t *testing.T) {
	content := "1\n00:00:01.000 --> 00:00:04.000\nHello\n\n"
	entries, err := ParseFile(writeTemp(t, content))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1000), entries[0].StartMs)
}

func TestParseFile_NoTrailingBlankLine(t *testing.T) {
	content := "1\n00:00:01,000 --> 00:00:04,000\nHello, world!"
	entries, err := ParseFile(writeTemp(t, content))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseFile_MissingFile_Errors(t *testing.T) {
	_, err := ParseFile("/nonexistent/file.srt")
	assert.Error(t, err)
}

func TestWrite_PreservesSeqNumAndTimestamps(t *testing.T) {
	entries := []Entry{
		{SeqNum: 5, StartMs: 1000, EndMs: 4000, Text: "Hello"},
		{SeqNum: 6, StartMs: 5000, EndMs: 8000, Text: "World"},
	}
	out := Write(entries)
	assert.Contains(t, out, "5\n00:00:01,000 --> 00:00:04,000\nHello")
	assert.Contains(t, out, "6\n00:00:05,000 --> 00:00:08,000\nWorld")
}

func TestWrite_ParseRoundTrip(t *testing.T) {
	original := []Entry{
		{SeqNum: 1, StartMs: 1000, EndMs: 4000, Text: "Line one"},
		{SeqNum: 2, StartMs: 5000, EndMs: 8000, Text: "Line two"},
	}
	path := writeTemp(t, Write(original))
	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed, len(original))
	for i, e := range original {
		assert.Equal(t, e.SeqNum, parsed[i].SeqNum)
		assert.Equal(t, e.StartMs, parsed[i].StartMs)
		assert.Equal(t, e.EndMs, parsed[i].EndMs)
		assert.Equal(t, e.Text, parsed[i].Text)
	}
}

package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AllMarkersPresent_Passes(t *testing.T) {
	response := "\n<<ENTRY_0>>\nHello translated\n<<ENTRY_1>>\nWorld translated\n<<ENTRY_2>>\nTest translated\n<<END>>"
	result := Validate(response, 3)
	assert.True(t, result.Passed())
	assert.True(t, result.AllPresent)
	assert.True(t, result.EndMarkerPresent)
	assert.Empty(t, result.MissingIndices)
}

func TestValidate_MissingMarker_Fails(t *testing.T) {
	response := "\n<<ENTRY_0>>\nHello translated\n<<ENTRY_2>>\nTest translated\n<<END>>"
	result := Validate(response, 3)
	assert.False(t, result.Passed())
	assert.False(t, result.AllPresent)
	assert.Equal(t, []int{1}, result.MissingIndices)
}

func TestValidate_MissingEndMarker_Fails(t *testing.T) {
	response := "\n<<ENTRY_0>>\nHello translated\n<<ENTRY_1>>\nWorld translated"
	result := Validate(response, 2)
	assert.False(t, result.Passed())
	assert.False(t, result.EndMarkerPresent)
}

func TestValidate_OutOfOrderMarkers_Detected(t *testing.T) {
	response := "<<ENTRY_1>>\nSecond\n<<ENTRY_0>>\nFirst\n<<END>>"
	result := Validate(response, 2)
	assert.False(t, result.Passed())
	assert.True(t, result.OutOfOrder)
}

func TestValidate_SingleEntryBatch_EmitsMarkersAndEnd(t *testing.T) {
	body := BuildRequestBody([]string{"Hello"})
	assert.Equal(t, "<<ENTRY_0>>\nHello\n<<END>>", body)
	result := Validate("<<ENTRY_0>>\nBonjour\n<<END>>", 1)
	assert.True(t, result.Passed())
}

func TestValidate_EmptyBatch_TrivialSuccess(t *testing.T) {
	result := Validate("", 0)
	assert.True(t, result.Passed())
}

func TestExtractEntryText_ExtractsEachEntry(t *testing.T) {
	response := "<<ENTRY_0>>\nFirst entry text\n<<ENTRY_1>>\nSecond entry text\n<<END>>"
	text0, err := ExtractEntryText(response, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "First entry text", text0)

	text1, err := ExtractEntryText(response, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Second entry text", text1)
}

func TestExtractEntryText_MissingMarker_Errors(t *testing.T) {
	response := "<<ENTRY_0>>\nFirst entry text\n<<END>>"
	_, err := ExtractEntryText(response, 1, 2)
	assert.Error(t, err)
}

func TestRecoverEntries_AllMarkersPresent_RecoversAll(t *testing.T) {
	response := "<<ENTRY_0>>\nFirst entry\n<<ENTRY_1>>\nSecond entry\n<<ENTRY_2>>\nThird entry\n<<END>>"
	recovered := RecoverEntries(response, 3)
	require.Len(t, recovered, 3)
	assert.Equal(t, RecoveredEntry{Index: 0, Text: "First entry"}, recovered[0])
	assert.Equal(t, RecoveredEntry{Index: 1, Text: "Second entry"}, recovered[1])
	assert.Equal(t, RecoveredEntry{Index: 2, Text: "Third entry"}, recovered[2])
}

func TestRecoverEntries_MissingMiddleMarker_OnlyRecoversLast(t *testing.T) {
	// ENTRY_1 is missing, so ENTRY_0's terminator (ENTRY_1) is absent and
	// it cannot be recovered; only ENTRY_2 can be, via <<END>>.
	response := "<<ENTRY_0>>\nFirst entry\n<<ENTRY_2>>\nThird entry\n<<END>>"
	recovered := RecoverEntries(response, 3)
	require.Len(t, recovered, 1)
	assert.Equal(t, RecoveredEntry{Index: 2, Text: "Third entry"}, recovered[0])
}

func TestIsTruncated_MissingEndMarker_True(t *testing.T) {
	assert.True(t, IsTruncated("<<ENTRY_0>>\nHello", 1))
}

func TestIsTruncated_CompleteResponse_False(t *testing.T) {
	assert.False(t, IsTruncated("<<ENTRY_0>>\nHello\n<<END>>", 1))
}

func TestBuildRequestBody_RoundTripsThroughValidate(t *testing.T) {
	body := BuildRequestBody([]string{"Hello", "World"})
	result := Validate(body, 2)
	assert.True(t, result.Passed())
}

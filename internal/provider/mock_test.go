package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchRequest() Request {
	return Request{
		Model: "mock-model",
		Messages: []Message{
			{Role: "user", Content: "<<ENTRY_0>>\nHello\n<<ENTRY_1>>\nWorld\n<<END>>"},
		},
	}
}

func TestMockProvider_Working_PreservesMarkers(t *testing.T) {
	m := NewMockProvider(Working)
	resp, err := m.Complete(context.Background(), batchRequest())
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "<<ENTRY_0>>")
	assert.Contains(t, resp.Text, "<<ENTRY_1>>")
	assert.Contains(t, resp.Text, "<<END>>")
	assert.Contains(t, resp.Text, "HELLO")
	assert.Contains(t, resp.Text, "WORLD")
}

func TestMockProvider_Failing_AlwaysErrors(t *testing.T) {
	m := NewMockProvider(Failing)
	_, err := m.Complete(context.Background(), batchRequest())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestMockProvider_Empty_ReturnsEmptyText(t *testing.T) {
	m := NewMockProvider(Empty)
	resp, err := m.Complete(context.Background(), batchRequest())
	require.NoError(t, err)
	assert.Equal(t, "", resp.Text)
}

func TestMockProvider_PartialMarkers_DropsSomeMarkers(t *testing.T) {
	m := NewMockProvider(PartialMarkers)
	resp, err := m.Complete(context.Background(), batchRequest())
	require.NoError(t, err)
	assert.NotContains(t, resp.Text, "<<ENTRY_1>>")
}

func TestMockProvider_Intermittent_FailsEveryNthCall(t *testing.T) {
	m := NewMockProvider(Intermittent)
	m.EveryN = 2

	_, err1 := m.Complete(context.Background(), batchRequest())
	require.Error(t, err1)

	_, err2 := m.Complete(context.Background(), batchRequest())
	require.NoError(t, err2)

	_, err3 := m.Complete(context.Background(), batchRequest())
	require.Error(t, err3)
}

func TestMockProvider_Truncated_CutsResponseShort(t *testing.T) {
	m := NewMockProvider(Truncated)
	resp, err := m.Complete(context.Background(), batchRequest())
	require.NoError(t, err)
	assert.NotContains(t, resp.Text, "<<END>>")
}

package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_KnownPlatforms(t *testing.T) {
	t.Parallel()
	for _, p := range All() {
		got, err := Parse(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestParse_NormalizesCaseAndSpace(t *testing.T) {
	t.Parallel()
	got, err := Parse("  ChatGPT ")
	require.NoError(t, err)
	assert.Equal(t, ChatGPT, got)
}

func TestParse_RejectsUnknown(t *testing.T) {
	t.Parallel()
	_, err := Parse("copilot")
	assert.Error(t, err)
}

func TestBehaviorFor_UnknownFallsBackConservatively(t *testing.T) {
	t.Parallel()
	b := BehaviorFor(Platform("someday"))
	assert.Equal(t, 45*time.Second, b.ResponseWait)
	assert.Equal(t, 1, b.MaxConcurrent)
	assert.False(t, b.TwoStep)
}

func TestTable_Pacing(t *testing.T) {
	t.Parallel()
	var tab Table
	assert.Equal(t, 2, tab.MaxConcurrent(ChatGPT))
	assert.Equal(t, 1, tab.MaxConcurrent(Claude))
	assert.Equal(t, 1, tab.MaxConcurrent(Platform("unknown")))
	assert.Equal(t, 45*time.Second, tab.WaitFor(Claude))
	assert.True(t, tab.TwoStep(GoogleAIMode))
	assert.False(t, tab.TwoStep(Gemini))
}

func TestDefault_IsSubsetOfAll(t *testing.T) {
	t.Parallel()
	known := map[Platform]bool{}
	for _, p := range All() {
		known[p] = true
	}
	for _, p := range Default() {
		assert.True(t, known[p], "default platform %s not in All()", p)
	}
}

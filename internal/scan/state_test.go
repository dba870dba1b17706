package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avistalabs/columbus/internal/platform"
)

func TestState_BeginClaimsSingleSlot(t *testing.T) {
	t.Parallel()
	s := NewState()

	require.NoError(t, s.Begin("scan-1", "prod-1"))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Begin("scan-2", "prod-2"), ErrAlreadyRunning)

	s.Finish(PhaseComplete)
	assert.False(t, s.Running())
	assert.NoError(t, s.Begin("scan-3", "prod-3"))
}

func TestState_AbortReleasesSlot(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))
	s.Abort()
	assert.False(t, s.Running())
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
	assert.NoError(t, s.Begin("scan-2", "prod-2"))
}

func TestState_InitTotalsMarksSkippedPlatforms(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))

	s.InitTotals(map[platform.Platform]int{platform.ChatGPT: 4},
		[]platform.Platform{platform.ChatGPT, platform.Claude})

	snap := s.Snapshot()
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, PlatformReady, snap.Platforms[platform.ChatGPT].Status)
	assert.Equal(t, 4, snap.Platforms[platform.ChatGPT].Total)
	assert.Equal(t, PlatformSkipped, snap.Platforms[platform.Claude].Status)
	assert.Equal(t, 0, snap.Platforms[platform.Claude].Total)
}

func TestState_Counters(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))
	s.InitTotals(map[platform.Platform]int{platform.Gemini: 3}, []platform.Platform{platform.Gemini})

	s.MarkSubmitted(platform.Gemini)
	s.MarkCollected(platform.Gemini)
	s.MarkFailed(platform.Gemini)

	snap := s.Snapshot()
	ps := snap.Platforms[platform.Gemini]
	assert.Equal(t, 1, ps.Submitted)
	assert.Equal(t, 1, ps.Collected)
	assert.Equal(t, 1, ps.Failed)
	assert.Equal(t, 1, snap.Completed)
}

func TestState_SetPhaseIgnoredAfterCancel(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))

	s.CancelAndDrain()
	s.SetPhase(PhaseCollecting)

	assert.Equal(t, PhaseCancelled, s.Snapshot().Phase)
}

func TestState_SessionRegistry(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))

	s.RegisterSession("a")
	s.RegisterSession("b")
	s.RegisterSession("c")
	s.DeregisterSession("b")

	labels := s.CancelAndDrain()
	assert.ElementsMatch(t, []string{"a", "c"}, labels)

	// Registry is drained; a second cancel has nothing left to close.
	assert.Empty(t, s.CancelAndDrain())
}

func TestState_CancelBeforeBeginIsNoOp(t *testing.T) {
	t.Parallel()
	s := NewState()
	assert.Empty(t, s.CancelAndDrain())
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
}

func TestState_SnapshotIsACopy(t *testing.T) {
	t.Parallel()
	s := NewState()
	require.NoError(t, s.Begin("scan-1", "prod-1"))
	s.InitTotals(map[platform.Platform]int{platform.ChatGPT: 2}, []platform.Platform{platform.ChatGPT})

	snap := s.Snapshot()
	s.MarkCollected(platform.ChatGPT)

	assert.Equal(t, 0, snap.Platforms[platform.ChatGPT].Collected)
	assert.Equal(t, 1, s.Snapshot().Platforms[platform.ChatGPT].Collected)
}

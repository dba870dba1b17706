package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
	"github.com/avistalabs/columbus/internal/testutil"
)

func TestResolveRegions_LocalWhenNoTargets(t *testing.T) {
	t.Parallel()
	regions := ResolveRegions([]model.Prompt{{ID: "p1", Text: "q"}})
	assert.Equal(t, []string{LocalRegion}, regions)
}

func TestResolveRegions_LowercasesAndSorts(t *testing.T) {
	t.Parallel()
	regions := ResolveRegions([]model.Prompt{
		{ID: "p1", TargetRegions: []string{"US", "de"}},
		{ID: "p2"},
		{ID: "p3", TargetRegions: []string{"fr"}},
	})
	assert.Equal(t, []string{"de", "fr", LocalRegion, "us"}, regions)
}

func TestResolveRegions_EmptyPromptSet(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{LocalRegion}, ResolveRegions(nil))
}

// Fan-out example from the scenario: one untargeted prompt plus one targeting
// us, two platforms authenticated for us, one sample. The untargeted prompt
// runs locally on both platforms, the targeted one in us on both: four tasks.
func TestBuildTasks_FanOut(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "0123456789abcdef",
		Prompts: []model.Prompt{
			{ID: "p1", Text: "best crm?"},
			{ID: "p2", Text: "best crm in the us?", TargetRegions: []string{"us"}},
		},
		Samples:   1,
		Platforms: []platform.Platform{platform.ChatGPT, platform.Claude},
		Regions:   []string{LocalRegion, "us"},
	}
	auth := &testutil.DummyAuth{Pairs: map[string]bool{
		"us/chatgpt": true,
		"us/claude":  true,
	}}

	tasks, err := BuildTasks(req, auth)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)

	var local, us int
	for _, task := range tasks {
		switch task.Region {
		case LocalRegion:
			local++
			assert.True(t, task.IsLocal)
			assert.Equal(t, "p1", task.Prompt.ID)
		case "us":
			us++
			assert.False(t, task.IsLocal)
			assert.Equal(t, "p2", task.Prompt.ID)
		}
	}
	assert.Equal(t, 2, local)
	assert.Equal(t, 2, us)
}

func TestBuildTasks_SamplesMultiply(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts:       []model.Prompt{{ID: "p1", Text: "q"}},
		Samples:       3,
		Platforms:     []platform.Platform{platform.Gemini},
		Regions:       []string{LocalRegion},
	}
	tasks, err := BuildTasks(req, &testutil.DummyAuth{})
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestBuildTasks_LabelsAreUnique(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "0123456789abcdef",
		Prompts: []model.Prompt{
			{ID: "p1", Text: "a"},
			{ID: "p2", Text: "b", TargetRegions: []string{"us", "de"}},
		},
		Samples:   2,
		Platforms: []platform.Platform{platform.ChatGPT, platform.Perplexity},
		Regions:   []string{"de", LocalRegion, "us"},
	}
	auth := &testutil.DummyAuth{Pairs: map[string]bool{
		"us/chatgpt":    true,
		"us/perplexity": true,
		"de/chatgpt":    true,
	}}

	tasks, err := BuildTasks(req, auth)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		assert.False(t, seen[task.Label], "duplicate label %s", task.Label)
		seen[task.Label] = true
	}
}

func TestBuildTasks_UnauthenticatedCombinationsSkipped(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts:       []model.Prompt{{ID: "p1", Text: "q", TargetRegions: []string{"us"}}},
		Samples:       1,
		Platforms:     []platform.Platform{platform.ChatGPT, platform.Claude},
		Regions:       []string{"us"},
	}
	auth := &testutil.DummyAuth{Pairs: map[string]bool{"us/chatgpt": true}}

	tasks, err := BuildTasks(req, auth)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, platform.ChatGPT, tasks[0].Platform)
}

func TestBuildTasks_NoAdmittedCombination(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts:       []model.Prompt{{ID: "p1", Text: "q", TargetRegions: []string{"us"}}},
		Samples:       1,
		Platforms:     []platform.Platform{platform.ChatGPT},
		Regions:       []string{"us"},
	}
	_, err := BuildTasks(req, &testutil.DummyAuth{})
	assert.ErrorIs(t, err, ErrNoPlatforms)
}

// A prompt targeting a region absent from the resolved set contributes no
// tasks for it; the caller is responsible for resolving regions first.
func TestBuildTasks_UnresolvedRegionDropped(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts: []model.Prompt{
			{ID: "p1", Text: "a"},
			{ID: "p2", Text: "b", TargetRegions: []string{"jp"}},
		},
		Samples:   1,
		Platforms: []platform.Platform{platform.ChatGPT},
		Regions:   []string{LocalRegion},
	}
	tasks, err := BuildTasks(req, &testutil.DummyAuth{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "p1", tasks[0].Prompt.ID)
}

func TestBuildTasks_RegionMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts:       []model.Prompt{{ID: "p1", Text: "q", TargetRegions: []string{"US"}}},
		Samples:       1,
		Platforms:     []platform.Platform{platform.ChatGPT},
		Regions:       []string{"us"},
	}
	auth := &testutil.DummyAuth{Pairs: map[string]bool{"us/chatgpt": true}}
	tasks, err := BuildTasks(req, auth)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestBuildTasks_OrderIsStableWithinPlatform(t *testing.T) {
	t.Parallel()
	req := Request{
		ScanSessionID: "abc",
		Prompts: []model.Prompt{
			{ID: "p1", Text: "a"},
			{ID: "p2", Text: "b"},
			{ID: "p3", Text: "c"},
		},
		Samples:   2,
		Platforms: []platform.Platform{platform.Claude},
		Regions:   []string{LocalRegion},
	}
	tasks, err := BuildTasks(req, &testutil.DummyAuth{})
	require.NoError(t, err)
	require.Len(t, tasks, 6)

	wantOrder := []struct {
		id     string
		sample int
	}{
		{"p1", 0}, {"p1", 1}, {"p2", 0}, {"p2", 1}, {"p3", 0}, {"p3", 1},
	}
	for i, w := range wantOrder {
		assert.Equal(t, w.id, tasks[i].Prompt.ID)
		assert.Equal(t, w.sample, tasks[i].Sample)
	}
}

func TestTaskLabel_TruncatesScanID(t *testing.T) {
	t.Parallel()
	label := taskLabel("0123456789abcdef", "us", platform.Claude, 3, 1)
	assert.Equal(t, "scan-01234567-us-claude-3-1", label)
}

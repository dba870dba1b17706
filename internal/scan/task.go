package scan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// LocalRegion is the sentinel region meaning "no geo-targeting": prompts with
// no target regions run here, and it never requires authentication.
const LocalRegion = "local"

// ErrNoPlatforms is returned when no (region, platform) pair is admitted, so
// the scan cannot do any work. Signalled before any session is created.
var ErrNoPlatforms = errors.New("no platforms available - please authenticate at least one platform")

// Request is an immutable description of one scan. Regions must already be
// resolved (see ResolveRegions); prompts targeting a region outside Regions
// contribute no tasks.
type Request struct {
	ProductID     string
	ScanSessionID string
	Prompts       []model.Prompt
	Samples       int
	Platforms     []platform.Platform
	Regions       []string
}

// Task is the atomic unit of work: one (region, platform, prompt, sample).
// Tasks are never mutated after creation, only consumed.
type Task struct {
	// Label uniquely addresses the underlying session across the whole scan.
	Label string

	Region      string
	Platform    platform.Platform
	Prompt      model.Prompt
	PromptIndex int
	Sample      int
	IsLocal     bool
}

// ResolveRegions collects every region the prompt set targets, lower-cased
// and sorted for deterministic task ordering. Prompts without target regions
// contribute the local sentinel.
func ResolveRegions(prompts []model.Prompt) []string {
	seen := make(map[string]struct{})
	for _, p := range prompts {
		if len(p.TargetRegions) == 0 {
			seen[LocalRegion] = struct{}{}
			continue
		}
		for _, r := range p.TargetRegions {
			seen[strings.ToLower(r)] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []string{LocalRegion}
	}
	regions := make([]string, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// BuildTasks fans a request out into the flat task list, partition-ordered by
// (region, platform, prompt, sample). A (region, platform) pair is admitted
// iff the region is local or the pair has a stored authenticated session; the
// admitted set is built in a single pass first so an empty one is reported as
// ErrNoPlatforms instead of a silent zero-task scan.
func BuildTasks(req Request, auth interfaces.AuthStatus) ([]Task, error) {
	type combo struct {
		region string
		plat   platform.Platform
	}

	admitted := make(map[combo]struct{})
	for _, region := range req.Regions {
		for _, p := range req.Platforms {
			if region != LocalRegion && (auth == nil || !auth.IsRegionPlatformAuthenticated(region, p)) {
				continue
			}
			admitted[combo{region, p}] = struct{}{}
		}
	}
	if len(admitted) == 0 {
		return nil, ErrNoPlatforms
	}

	samples := req.Samples
	if samples < 1 {
		samples = 1
	}

	var tasks []Task
	for _, region := range req.Regions {
		isLocal := region == LocalRegion
		for _, p := range req.Platforms {
			if _, ok := admitted[combo{region, p}]; !ok {
				continue
			}
			for idx, prompt := range req.Prompts {
				if !promptTargets(prompt, region, isLocal) {
					continue
				}
				for sample := 0; sample < samples; sample++ {
					tasks = append(tasks, Task{
						Label:       taskLabel(req.ScanSessionID, region, p, idx, sample),
						Region:      region,
						Platform:    p,
						Prompt:      prompt,
						PromptIndex: idx,
						Sample:      sample,
						IsLocal:     isLocal,
					})
				}
			}
		}
	}
	return tasks, nil
}

// promptTargets reports whether the prompt should execute in the region:
// region-less prompts run only locally, targeted ones only in their listed
// regions (case-insensitive).
func promptTargets(p model.Prompt, region string, isLocal bool) bool {
	if len(p.TargetRegions) == 0 {
		return isLocal
	}
	for _, r := range p.TargetRegions {
		if strings.EqualFold(r, region) {
			return true
		}
	}
	return false
}

func taskLabel(scanSessionID, region string, p platform.Platform, promptIdx, sample int) string {
	id := scanSessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("scan-%s-%s-%s-%d-%d", id, region, p, promptIdx, sample)
}

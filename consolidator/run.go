package consolidator

import (
	"time"

	"github.com/nimtier/tiermem/model"
)

// Stats aggregates one consolidation run's outcome (spec.md §4.F:
// "clusters built, members merged, average importance, processing
// time, success rate").
type Stats struct {
	ClustersBuilt    int
	ClustersMerged   int
	MembersMerged    int
	AverageImportance float64
	ProcessingTime   time.Duration
	SuccessRate      float64
}

// RunResult is the full output of one consolidation pass: the survivor
// set (merged representatives plus untouched pass-through memories),
// the tombstones recording old->new id forwarding, and aggregate stats.
type RunResult struct {
	Survivors  []model.Memory
	Tombstones []Tombstone
	Stats      Stats
}

// Run clusters memories and merges every eligible cluster, in one call
// (spec.md §4.F's full pipeline as the Lifecycle Manager invokes it).
func Run(memories []model.Memory, now time.Time, p Params) RunResult {
	start := time.Now()
	clusters := Cluster(memories, p)

	var survivors []model.Memory
	var tombstones []Tombstone
	var importanceSum float64
	var mergedClusters, attempted int

	for _, c := range clusters {
		if len(c.Members) < 2 {
			survivors = append(survivors, c.Members[0])
			continue
		}
		attempted++
		outcome := Merge(c, now, p)
		if !outcome.Merged {
			// rejected merge: members are kept as-is.
			survivors = append(survivors, c.Members...)
			continue
		}
		survivors = append(survivors, outcome.Result)
		tombstones = append(tombstones, outcome.Tombstone...)
		importanceSum += outcome.Result.Importance
		mergedClusters++
	}

	successRate := 1.0
	if attempted > 0 {
		successRate = float64(mergedClusters) / float64(attempted)
	}
	avgImportance := 0.0
	if mergedClusters > 0 {
		avgImportance = importanceSum / float64(mergedClusters)
	}

	return RunResult{
		Survivors:  survivors,
		Tombstones: tombstones,
		Stats: Stats{
			ClustersBuilt:     len(clusters),
			ClustersMerged:    mergedClusters,
			MembersMerged:     len(tombstones),
			AverageImportance: avgImportance,
			ProcessingTime:    time.Since(start),
			SuccessRate:       successRate,
		},
	}
}

package loadgen

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/types"
)

// Score tiers. Most players land in the middle; a few are elite or barely
// clear the chart.
type tier struct {
	weight     int
	minScore   int64
	maxScore   int64
	minAcc     float64
	comboRange int32
}

//nolint:gochecknoglobals // fixed distribution table
var tiers = []tier{
	{weight: 40, minScore: 300_000, maxScore: 700_000, minAcc: 0.80, comboRange: 600},
	{weight: 20, minScore: 700_000, maxScore: 900_000, minAcc: 0.90, comboRange: 900},
	{weight: 20, minScore: 10_000, maxScore: 300_000, minAcc: 0.50, comboRange: 200},
	{weight: 10, minScore: 900_000, maxScore: 1_000_000, minAcc: 0.97, comboRange: 1200},
	{weight: 10, minScore: 0, maxScore: 10_000, minAcc: 0.00, comboRange: 50},
}

// coarseEvery makes one attempt in n land on a round score so that boards
// contain ties broken by accuracy and combo.
const coarseEvery = 4

// Plan is the generated workload.
type Plan struct {
	Partitions  []model.Partition
	Submissions []types.SubmitRequest
}

// Generate builds cfg.Tracks partitions, each with cfg.Players players making
// cfg.Attempts attempts. Track ids are unique per run so repeated runs against
// the same server do not interfere.
func Generate(cfg Config, rng *rand.Rand) Plan {
	runID := uuid.NewString()[:8]

	plan := Plan{
		Partitions:  make([]model.Partition, 0, cfg.Tracks),
		Submissions: make([]types.SubmitRequest, 0, cfg.Tracks*cfg.Players*cfg.Attempts),
	}
	for t := range cfg.Tracks {
		p := model.Partition{
			TrackID:    fmt.Sprintf("loadgen-%s-%02d", runID, t),
			Difficulty: model.Difficulties[t%len(model.Difficulties)],
		}
		plan.Partitions = append(plan.Partitions, p)

		for i := range cfg.Players {
			name := PlayerName(i, runID)
			tr := pickTier(rng)
			for range cfg.Attempts {
				plan.Submissions = append(plan.Submissions, attempt(rng, p, name, tr))
			}
		}
	}
	rng.Shuffle(len(plan.Submissions), func(i, j int) {
		plan.Submissions[i], plan.Submissions[j] = plan.Submissions[j], plan.Submissions[i]
	})
	return plan
}

// PlayerName fits within the stored name length.
func PlayerName(i int, runID string) string {
	return fmt.Sprintf("p%05d-%s", i, runID[:min(len(runID), 8)])
}

func pickTier(rng *rand.Rand) tier {
	total := 0
	for _, t := range tiers {
		total += t.weight
	}
	n := rng.IntN(total)
	for _, t := range tiers {
		if n < t.weight {
			return t
		}
		n -= t.weight
	}
	return tiers[0]
}

func attempt(rng *rand.Rand, p model.Partition, name string, t tier) types.SubmitRequest {
	score := t.minScore + rng.Int64N(t.maxScore-t.minScore+1)
	if rng.IntN(coarseEvery) == 0 {
		score -= score % 10_000
	}
	// Accuracy travels as a fraction with four decimals so it maps to whole
	// basis points.
	accBP := int(t.minAcc*model.AccuracyScale) + rng.IntN(int((1-t.minAcc)*model.AccuracyScale)+1)
	return types.SubmitRequest{
		TrackID:    p.TrackID,
		Difficulty: string(p.Difficulty),
		Name:       name,
		Score:      float64(score),
		Acc:        float64(accBP) / model.AccuracyScale,
		Combo:      float64(rng.Int32N(t.comboRange + 1)),
	}
}

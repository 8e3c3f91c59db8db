package oracle

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/rl1809/baller-exchange/internal/core/domain"
)

// Rarity tiers from rarest to most common, with the probability ceiling of
// the base roll for each.
var rarityTiers = []struct {
	name    string
	ceiling float64
}{
	{"transcendent", 1 / 391.0},
	{"sublime", 1 / 156.0},
	{"pristine", 1 / 31.3},
	{"notable", 1 / 6.26},
}

const commonRarity = "common"

// maxStatsRoll bounds how close to zero a stats roll may get.
const maxStatsRoll = 0.0000013

var statNames = []string{"VIT", "END", "STR", "DEX", "RES", "INT", "FAI"}

const (
	minHeightCM      = 17.0
	maxHeightCM      = 60.0
	giantHeightMinCM = 120.0
	giantHeightMaxCM = 240.0
	minWeightG       = 450.0
	maxWeightG       = 1800.0
	giantWeightMinG  = 3600.0
	giantWeightMaxG  = 7200.0
	weightVariance   = 0.075
)

var (
	modifiers  = []string{"ancient", "brisk", "crooked", "dazzling", "electric", "feral", "gilded", "hollow", "iron", "jolly", "lucky", "molten", "nimble", "radiant", "stormy", "velvet"}
	names      = []string{"acorn", "badger", "comet", "dynamo", "ember", "falcon", "geyser", "harbor", "lantern", "meadow", "nugget", "orchard", "pebble", "quarry", "rocket", "thistle"}
	appraisals = []string{"adequate", "bold", "charming", "dubious", "exquisite", "fine", "grand", "humble", "impressive", "peculiar", "refined", "splendid", "sturdy", "treasured"}
)

// LocalOracle generates item attributes in-process.
type LocalOracle struct {
	mu        sync.Mutex
	rng       *rand.Rand
	cdnPrefix string
}

// NewLocalOracle creates a generator; rng may be nil to use a random seed.
func NewLocalOracle(cdnPrefix string, rng *rand.Rand) *LocalOracle {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &LocalOracle{rng: rng, cdnPrefix: cdnPrefix}
}

func (o *LocalOracle) Generate(ctx context.Context, itemID string) (domain.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	r := o.rng
	roll := r.Float64()
	rarity, floor := rarityOf(roll)

	// Rarer rolls leave more points to spread across the stats.
	statsRoll := floor + r.Float64()*(roll-floor)
	points := math.Tan((1 - statsRoll) * (math.Pi / 2))

	heightRoll := r.Float64()
	height, weight := o.size(heightRoll)

	return domain.Attributes{
		"modifier":    pick(r, modifiers),
		"name":        pick(r, names),
		"appraisal":   pick(r, appraisals),
		"roll":        roll,
		"rarity_name": rarity,
		"points":      points,
		"base_stats":  o.distribute(int(math.Round(points))),
		"height_roll": heightRoll,
		"height":      height,
		"weight":      weight,
		"baller_path": o.assetPath(itemID),
	}, nil
}

// rarityOf returns the tier of roll and the ceiling of the next rarer tier.
func rarityOf(roll float64) (string, float64) {
	floor := maxStatsRoll
	for _, tier := range rarityTiers {
		if roll <= tier.ceiling {
			return tier.name, floor
		}
		floor = tier.ceiling
	}
	return commonRarity, floor
}

func (o *LocalOracle) size(heightRoll float64) (heightCM, weightG float64) {
	variance := 1 - weightVariance + o.rng.Float64()*2*weightVariance
	heightCM = minHeightCM + heightRoll*(maxHeightCM-minHeightCM)
	if heightCM >= maxHeightCM*0.99 {
		heightCM = giantHeightMinCM + heightRoll*(giantHeightMaxCM-giantHeightMinCM)
		return heightCM, giantWeightMinG + heightRoll*(giantWeightMaxG-giantWeightMinG)*variance
	}
	return heightCM, minWeightG + heightRoll*(maxWeightG-minWeightG)*variance
}

// distribute spreads points over the stats in random order. Each stat ends
// up between 1 and 99.
func (o *LocalOracle) distribute(points int) map[string]int {
	order := make([]string, len(statNames))
	copy(order, statNames)
	o.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	stats := make(map[string]int, len(order))
	remaining := points
	for _, stat := range order {
		share := 1/float64(len(order)) + o.rng.Float64()*(0.75-1/float64(len(order)))
		take := int(math.Round(o.rng.Float64() * share * float64(remaining)))
		stats[stat] = clampStat(take)
		remaining -= take
	}
	if remaining > 0 {
		stat := pick(o.rng, order)
		stats[stat] = clampStat(stats[stat] + remaining)
	}
	return stats
}

func (o *LocalOracle) assetPath(itemID string) string {
	file := "baller_" + itemID + ".glb"
	if o.cdnPrefix == "" {
		return file
	}
	return strings.TrimSuffix(o.cdnPrefix, "/") + "/" + file
}

func clampStat(v int) int {
	return min(99, max(1, v))
}

func pick(r *rand.Rand, from []string) string {
	return from[r.IntN(len(from))]
}

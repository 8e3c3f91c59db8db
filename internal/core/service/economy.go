package service

import (
	"time"

	"github.com/google/uuid"
)

// EconomyConfig holds the tunable constants of the economy.
type EconomyConfig struct {
	RollCost        int64
	PackRollCost    int64
	RollsPerPack    int
	StartingBalance int64
	AccrualPeriod   time.Duration
	AccrualAmount   int64
	MaxTradeItems   int
}

func DefaultEconomyConfig() EconomyConfig {
	return EconomyConfig{
		RollCost:        1000,
		PackRollCost:    4000,
		RollsPerPack:    5,
		StartingBalance: 4000,
		AccrualPeriod:   5 * time.Minute,
		AccrualAmount:   2,
		MaxTradeItems:   10,
	}
}

// rollTerms returns the price and item count of a single or pack roll.
func (c EconomyConfig) rollTerms(pack bool) (cost int64, count int) {
	if pack {
		return c.PackRollCost, c.RollsPerPack
	}
	return c.RollCost, 1
}

func newID() string {
	return uuid.NewString()
}

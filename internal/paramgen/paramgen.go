// Package paramgen generates random market instances: leaders selling into a
// single follower with nonnegative quantities and a shared capacity.
package paramgen

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/timpalpant/mlfgame"
)

// Mode selects how the leaders' price caps account for the risk of a
// follower deficit.
type Mode int

const (
	// Deterministic uses the sampled price caps as is.
	Deterministic Mode = iota
	// Gaussian caps prices with a chance constraint assuming normally
	// distributed deficits.
	Gaussian
	// Cantelli caps prices with the distribution-free Cantelli bound.
	Cantelli
)

var modeStr = [...]string{
	"deterministic",
	"gaussian",
	"cantelli",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeStr) {
		return "unknown"
	}
	return modeStr[m]
}

type Config struct {
	NumLeaders int
	// Upper bound on the total quantity bought by the follower.
	Capacity        float64
	MarketDivisor   float64
	DemandIntercept float64
	DemandSlope     float64
	Mode            Mode
}

func DefaultConfig() Config {
	return Config{
		NumLeaders:      8,
		Capacity:        50,
		MarketDivisor:   3,
		DemandIntercept: 2000,
		DemandSlope:     1.0 / 7.0,
		Mode:            Deterministic,
	}
}

// Generate samples a game with follower constraints y >= 0 and
// sum(y) <= Capacity, and identity processing costs.
func Generate(cfg Config, rng *rand.Rand) (*mlfgame.Params, error) {
	n := cfg.NumLeaders
	if n <= 0 {
		return nil, errors.Errorf("invalid number of leaders: %d", n)
	}
	if cfg.Mode < Deterministic || cfg.Mode > Cantelli {
		return nil, errors.Errorf("unknown mode: %d", cfg.Mode)
	}

	q := mat.NewDense(n+1, n, nil)
	for i := 0; i < n; i++ {
		q.Set(i, i, -1)
		q.Set(n, i, 1)
	}
	r := make([]float64, n+1)
	r[n] = cfg.Capacity

	processing := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		processing.Set(i, i, 1)
	}

	costs := make([]float64, n)
	low := make([]float64, n)
	high := make([]float64, n)
	for i := 0; i < n; i++ {
		costs[i] = uniform(rng, 1.2, 1.5)
		high[i] = uniform(rng, 30, 70)
	}

	if cfg.Mode != Deterministic {
		capPrices(cfg.Mode, high, rng)
	}

	params := &mlfgame.Params{
		LeaderCosts:     costs,
		DemandIntercept: cfg.DemandIntercept,
		DemandSlope:     cfg.DemandSlope,
		LeaderLow:       low,
		LeaderHigh:      high,
		MarketDivisor:   cfg.MarketDivisor,
		Constraints:     q,
		Bounds:          r,
		Processing:      processing,
	}

	return params, params.Validate()
}

// capPrices limits each leader's price so that its expected loss from a
// follower deficit stays below a sampled limit with probability 1-ε.
func capPrices(mode Mode, high []float64, rng *rand.Rand) {
	deficitVariance := float64(4 + rng.Intn(6))
	deficitMean := float64(1 + rng.Intn(4))
	for i := range high {
		lossLimit := uniform(rng, 100, 300)
		eps := uniform(rng, 0, 0.1)
		high[i] = math.Min(high[i], lossLimit/deficitQuantile(mode, eps, deficitMean, deficitVariance))
	}
}

// deficitQuantile returns the (1-eps) quantile (or its upper bound) of the
// follower deficit.
func deficitQuantile(mode Mode, eps, mean, variance float64) float64 {
	switch mode {
	case Gaussian:
		return distuv.UnitNormal.Quantile(1-eps)*math.Sqrt(variance) + mean
	case Cantelli:
		return math.Sqrt((1-eps)/eps*variance) + mean
	}

	panic(errors.Errorf("no deficit quantile for mode %v", mode))
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

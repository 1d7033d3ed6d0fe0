// Generate a random game and save it for later solving with mlfnash -params.
package main

import (
	"flag"
	"math/rand"

	"github.com/golang/glog"

	"github.com/timpalpant/mlfgame"
	"github.com/timpalpant/mlfgame/internal/paramgen"
)

func main() {
	cfg := paramgen.DefaultConfig()
	seed := flag.Int64("seed", 1234, "Random seed")
	mode := flag.Int("mode", int(paramgen.Deterministic),
		"Price cap mode: 0 = deterministic, 1 = gaussian chance constraint, 2 = cantelli bound")
	output := flag.String("output", "game.gob.gz", "File to save the game to")
	flag.IntVar(&cfg.NumLeaders, "num_leaders", cfg.NumLeaders, "Number of leaders")
	flag.Float64Var(&cfg.Capacity, "capacity", cfg.Capacity, "Follower total quantity capacity")
	flag.Float64Var(&cfg.MarketDivisor, "market_divisor", cfg.MarketDivisor,
		"Market price divisor of the last (government) leader")
	flag.Float64Var(&cfg.DemandIntercept, "demand_intercept", cfg.DemandIntercept, "Inverse demand intercept a")
	flag.Float64Var(&cfg.DemandSlope, "demand_slope", cfg.DemandSlope, "Inverse demand slope b")
	flag.Parse()
	cfg.Mode = paramgen.Mode(*mode)

	game, err := paramgen.Generate(cfg, rand.New(rand.NewSource(*seed)))
	if err != nil {
		glog.Fatal(err)
	}

	glog.Infof("Generated %v game: %d leaders, %d follower constraints, price caps %v",
		cfg.Mode, game.NumLeaders(), game.NumConstraints(), game.LeaderHigh)
	if err := mlfgame.SaveFile(*output, game); err != nil {
		glog.Fatal(err)
	}
	glog.Infof("Saved game to %v", *output)
}

// Compute the multi-leader-follower Nash equilibrium of a generated or saved game.
package main

import (
	"expvar"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	_ "net/http/pprof"

	"github.com/golang/glog"

	"github.com/timpalpant/mlfgame"
	"github.com/timpalpant/mlfgame/internal/paramgen"
	"github.com/timpalpant/mlfgame/npyio"
	"github.com/timpalpant/mlfgame/search"
)

type RunParams struct {
	ParamsFile string
	Seed       int64
	Game       paramgen.Config
	Search     search.Options
	Restarts   int
	OutputFile string
	NPZFile    string
	DebugAddr  string
}

var lastPriceSpread = expvar.NewFloat("mlfnash/restart_price_spread")

func main() {
	params := RunParams{
		Game:   paramgen.DefaultConfig(),
		Search: search.DefaultOptions(),
	}
	mode := flag.Int("mode", int(paramgen.Deterministic),
		"Price cap mode: 0 = deterministic, 1 = gaussian chance constraint, 2 = cantelli bound")
	flag.StringVar(&params.ParamsFile, "params", "", "Load game parameters from this file instead of generating them")
	flag.Int64Var(&params.Seed, "seed", 1234, "Random seed used to generate the game")
	flag.IntVar(&params.Game.NumLeaders, "num_leaders", params.Game.NumLeaders, "Number of leaders")
	flag.Float64Var(&params.Game.Capacity, "capacity", params.Game.Capacity, "Follower total quantity capacity")
	flag.Float64Var(&params.Game.MarketDivisor, "market_divisor", params.Game.MarketDivisor,
		"Market price divisor of the last (government) leader")
	flag.IntVar(&params.Search.NumWorkers, "workers", params.Search.NumWorkers,
		"Number of active sets to solve in parallel")
	flag.Int64Var(&params.Search.Seed, "search.seed", params.Search.Seed, "Seed for initial leader prices")
	flag.Float64Var(&params.Search.Instance.Tolerance, "search.tolerance", params.Search.Instance.Tolerance,
		"Fixed point convergence tolerance")
	flag.Float64Var(&params.Search.Instance.LearningRate, "search.learning_rate", params.Search.Instance.LearningRate,
		"Fixed point step size")
	flag.IntVar(&params.Search.Instance.MaxIterations, "search.max_iter", params.Search.Instance.MaxIterations,
		"Maximum fixed point iterations per active set")
	flag.IntVar(&params.Restarts, "restarts", 0,
		"Re-solve this many times from different initial prices and report the price spread")
	flag.StringVar(&params.OutputFile, "output", "", "Save the search result to this file")
	flag.StringVar(&params.NPZFile, "npz", "", "Export prices, quantities and the game to this .npz file")
	flag.StringVar(&params.DebugAddr, "debug_addr", "localhost:4123", "Address for expvar and pprof handlers")
	flag.Parse()
	params.Game.Mode = paramgen.Mode(*mode)

	if params.DebugAddr != "" {
		go http.ListenAndServe(params.DebugAddr, nil)
	}

	game := mustLoadGame(params)
	searcher, err := search.NewSearcher(game, params.Search)
	if err != nil {
		glog.Fatal(err)
	}

	result := searcher.Solve()
	eq := result.Equilibrium
	if !result.Found() {
		glog.Warning("No admissible equilibrium found")
	} else {
		glog.Infof("Equilibrium at active set %v with follower cost %v", eq.ActiveSet, eq.Cost)
	}
	for _, d := range eq.Diagnostics {
		glog.Warningf("Equilibrium diagnostic: %v", d)
	}
	fmt.Printf("The prices are %v and the quantities are %v\n", eq.Prices, eq.Quantities)

	if params.Restarts > 0 {
		spread := priceSpread(searcher, eq, params.Search.Seed, params.Restarts)
		lastPriceSpread.Set(spread)
		glog.Infof("Max price difference over %d restarts: %v", params.Restarts, spread)
	}

	if params.OutputFile != "" {
		glog.Infof("Saving result to %v", params.OutputFile)
		if err := mlfgame.SaveFile(params.OutputFile, result); err != nil {
			glog.Fatal(err)
		}
	}

	if params.NPZFile != "" {
		glog.Infof("Exporting arrays to %v", params.NPZFile)
		if err := exportNPZ(params.NPZFile, game, eq); err != nil {
			glog.Fatal(err)
		}
	}
}

func mustLoadGame(params RunParams) *mlfgame.Params {
	if params.ParamsFile != "" {
		glog.Infof("Loading game from: %v", params.ParamsFile)
		game, err := mlfgame.LoadParams(params.ParamsFile)
		if err != nil {
			glog.Fatal(err)
		}
		return game
	}

	glog.Infof("Generating %v game with %d leaders", params.Game.Mode, params.Game.NumLeaders)
	game, err := paramgen.Generate(params.Game, rand.New(rand.NewSource(params.Seed)))
	if err != nil {
		glog.Fatal(err)
	}
	return game
}

// priceSpread re-solves the game with fresh initial prices and returns the
// largest deviation from the reference equilibrium prices.
func priceSpread(searcher *search.Searcher, ref mlfgame.Candidate, seed int64, restarts int) float64 {
	var spread float64
	for i := 1; i <= restarts; i++ {
		// Offset past the per-active-set seeds of earlier runs.
		result := searcher.SolveSeeded(seed + int64(i)<<32)
		if result.Found() != ref.Admissible {
			glog.Warningf("Restart %d: admissible = %v, expected %v", i, result.Found(), ref.Admissible)
			return math.Inf(1)
		}

		for j, p := range result.Equilibrium.Prices {
			spread = math.Max(spread, math.Abs(p-ref.Prices[j]))
		}
	}

	return spread
}

func exportNPZ(filename string, game *mlfgame.Params, eq mlfgame.Candidate) error {
	arrays := map[string]npyio.Array{
		"prices":      npyio.Vector(eq.Prices),
		"quantities":  npyio.Vector(eq.Quantities),
		"cost":        npyio.Vector([]float64{eq.Cost}),
		"w":           npyio.Vector(game.LeaderCosts),
		"leader_low":  npyio.Vector(game.LeaderLow),
		"leader_high": npyio.Vector(game.LeaderHigh),
		"B":           npyio.Matrix(game.Processing),
	}
	if game.NumConstraints() > 0 {
		arrays["Q"] = npyio.Matrix(game.Constraints)
		arrays["r"] = npyio.Vector(game.Bounds)
	}

	return npyio.MakeNPZ(filename, arrays)
}

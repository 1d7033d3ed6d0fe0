// Package search finds the multi-leader-follower Nash equilibrium by brute
// force over the follower's active constraint sets.
//
// Each subset of follower constraints is assumed binding in turn, the
// leaders' equilibrium is computed against the resulting follower response,
// and the admissible candidate of least follower cost is selected. The
// number of subsets grows as 2^M, so this is only practical for small M.
package search

import (
	"expvar"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/timpalpant/mlfgame"
	"github.com/timpalpant/mlfgame/equilibrium"
	"github.com/timpalpant/mlfgame/follower"
)

var (
	subsetsEvaluated  = expvar.NewInt("search/subsets_evaluated")
	subsetsDegenerate = expvar.NewInt("search/subsets_degenerate")
	subsetsFailed     = expvar.NewInt("search/subsets_failed")
	subsetsAdmissible = expvar.NewInt("search/subsets_admissible")
	cacheHits         = expvar.NewInt("search/response_cache_hits")
	cacheMisses       = expvar.NewInt("search/response_cache_misses")
)

// maxCachedResponses bounds the response cache regardless of the number of
// active sets.
const maxCachedResponses = 1 << 16

type Options struct {
	// Number of active sets solved concurrently.
	NumWorkers int
	// Active sets with det(Q_A B Q_Aᵗ) at or below this are skipped as
	// linearly dependent.
	DegeneracyTolerance float64
	// Minimum number of follower responses kept between calls to Solve.
	// The cache grows to hold every active set, up to maxCachedResponses.
	ResponseCacheSize int
	// Base seed for the random initial prices. The active set with
	// enumeration index i is seeded with Seed+i.
	Seed int64
	// Options for each instance's fixed point iteration.
	Instance equilibrium.Options
}

func DefaultOptions() Options {
	return Options{
		NumWorkers:          10,
		DegeneracyTolerance: 1e-6,
		ResponseCacheSize:   1024,
		Seed:                1,
		Instance:            equilibrium.DefaultOptions(),
	}
}

// Stats summarizes the active sets visited by one search.
type Stats struct {
	Evaluated  int
	Degenerate int
	Failed     int
	Admissible int
	NonConvex  int
	Elapsed    time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%d active sets (%d degenerate, %d failed, %d admissible, %d non-convex) in %v",
		s.Evaluated, s.Degenerate, s.Failed, s.Admissible, s.NonConvex, s.Elapsed)
}

type Result struct {
	// The minimal cost admissible candidate. If no candidate was admissible,
	// this is the Infeasible sentinel with infinite cost.
	Equilibrium mlfgame.Candidate
	Stats       Stats
}

// Found reports whether an admissible equilibrium was found.
func (r *Result) Found() bool {
	return r.Equilibrium.Admissible
}

// Searcher solves a fixed game instance. It is safe for concurrent use.
type Searcher struct {
	params        *mlfgame.Params
	opts          Options
	responses     *lru.Cache
	cacheCapacity int
}

func NewSearcher(params *mlfgame.Params, opts Options) (*Searcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultOptions()
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaults.NumWorkers
	}
	if opts.DegeneracyTolerance <= 0 {
		opts.DegeneracyTolerance = defaults.DegeneracyTolerance
	}
	if opts.ResponseCacheSize <= 0 {
		opts.ResponseCacheSize = defaults.ResponseCacheSize
	}
	opts.Instance = opts.Instance.WithDefaults()

	capacity := responseCacheCapacity(opts.ResponseCacheSize, params.NumConstraints())
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}

	return &Searcher{
		params:        params,
		opts:          opts,
		responses:     cache,
		cacheCapacity: capacity,
	}, nil
}

// responseCacheCapacity grows the cache to hold every active set, so that
// repeated searches reuse all responses, up to maxCachedResponses.
func responseCacheCapacity(size, numConstraints int) int {
	if n := mlfgame.CountActiveSets(numConstraints); n > size {
		size = n
	}
	if size > maxCachedResponses {
		size = maxCachedResponses
	}
	return size
}

// Solve searches all active sets using the configured seed.
func (s *Searcher) Solve() *Result {
	return s.SolveSeeded(s.opts.Seed)
}

// SolveSeeded searches all active sets in parallel and returns the
// admissible candidate of minimal follower cost. The result depends only
// on the parameters, options and seed, not on scheduling. Candidates are
// reduced as they complete and are not retained.
func (s *Searcher) SolveSeeded(seed int64) *Result {
	start := time.Now()
	m := s.params.NumConstraints()
	glog.V(1).Infof("Searching %d active sets with %d workers",
		mlfgame.CountActiveSets(m), s.opts.NumWorkers)

	type task struct {
		idx int
		set mlfgame.ActiveSet
	}

	tasks := make(chan task, s.opts.NumWorkers)
	results := make(chan indexedCandidate, s.opts.NumWorkers)
	var wg sync.WaitGroup
	for worker := 0; worker < s.opts.NumWorkers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- indexedCandidate{t.idx, s.solveInstance(t.set, seed+int64(t.idx))}
			}
		}()
	}

	go func() {
		idx := 0
		mlfgame.EnumerateActiveSets(m, func(set mlfgame.ActiveSet) {
			tasks <- task{idx, set}
			idx++
		})
		close(tasks)
		wg.Wait()
		close(results)
	}()

	var r reducer
	for c := range results {
		r.add(c)
	}

	result := r.result(s.params.NumLeaders())
	result.Stats.Elapsed = time.Since(start)
	glog.Infof("Searched %v", result.Stats)
	if !result.Found() {
		glog.Warningf("No admissible equilibrium found")
	}

	return result
}

// SolveInstance computes the equilibrium candidate for a single active set.
// It is seeded as in Solve, with Seed plus the set's enumeration index, so
// it reproduces the candidate Solve computes for the same set.
func (s *Searcher) SolveInstance(set mlfgame.ActiveSet) mlfgame.Candidate {
	idx, err := mlfgame.ActiveSetIndex(s.params.NumConstraints(), set)
	if err != nil {
		return s.failed(set, err)
	}

	return s.solveInstance(set, s.opts.Seed+int64(idx))
}

func (s *Searcher) solveInstance(set mlfgame.ActiveSet, seed int64) (c mlfgame.Candidate) {
	n := s.params.NumLeaders()
	defer func() {
		if r := recover(); r != nil {
			c = s.failed(set, errors.Errorf("panic: %v", r))
		}
	}()

	if s.isDegenerate(set) {
		glog.V(2).Infof("Skipping linearly dependent active set %v", set)
		c = mlfgame.Infeasible(n, set)
		c.Degenerate = true
		return c
	}

	response, err := s.followerResponse(set)
	if err != nil {
		return s.failed(set, err)
	}

	diagnostics := response.ConvexityDiagnostics(s.params.LeaderCosts, s.params.DemandSlope)
	for _, d := range diagnostics {
		glog.Warningf("Active set %v: %v, equilibrium may not be reliable", set, d)
	}

	rng := rand.New(rand.NewSource(seed))
	solver := equilibrium.NewSolver(s.params, response, rng, s.opts.Instance)
	eq, err := solver.Run()
	if err != nil {
		return s.failed(set, err)
	}

	c = mlfgame.Candidate{
		ActiveSet:   set,
		Prices:      eq.Prices,
		Quantities:  eq.Quantities,
		Admissible:  s.params.IsAdmissible(eq.Quantities),
		Cost:        s.params.FollowerCost(eq.Prices, eq.Quantities),
		Iterations:  eq.Iterations,
		Diagnostics: diagnostics,
	}
	glog.V(2).Infof("Active set %v: p = %v, y = %v, admissible = %v, cost = %v (%d iterations)",
		set, c.Prices, c.Quantities, c.Admissible, c.Cost, c.Iterations)
	return c
}

// isDegenerate reports whether the active constraints are (numerically)
// linearly dependent. Skipping them loses no solutions: some linearly
// independent subset spans the same face and is enumerated as well.
func (s *Searcher) isDegenerate(set mlfgame.ActiveSet) bool {
	if len(set) == 0 {
		return false
	}

	a1, _ := s.params.ActiveRows(set)
	var ab mat.Dense
	ab.Mul(a1, s.params.Processing)
	var gram mat.Dense
	gram.Mul(&ab, a1.T())
	return mat.Det(&gram) <= s.opts.DegeneracyTolerance
}

func (s *Searcher) followerResponse(set mlfgame.ActiveSet) (*follower.Response, error) {
	key := set.Key()
	if cached, ok := s.responses.Get(key); ok {
		cacheHits.Add(1)
		return cached.(*follower.Response), nil
	}

	cacheMisses.Add(1)
	a1, b1 := s.params.ActiveRows(set)
	response, err := follower.Solve(s.params.Processing, a1, b1)
	if err != nil {
		return nil, err
	}

	// Sets are always enumerated in the same order, so evicting would make
	// a full cache miss on every set of the next search. Keep the first
	// sets instead.
	if s.responses.Len() < s.cacheCapacity {
		s.responses.Add(key, response)
	}
	return response, nil
}

func (s *Searcher) failed(set mlfgame.ActiveSet, err error) mlfgame.Candidate {
	glog.Warningf("Active set %v failed: %v", set, err)
	c := mlfgame.Infeasible(s.params.NumLeaders(), set)
	c.Failure = err.Error()
	return c
}

type indexedCandidate struct {
	idx int
	mlfgame.Candidate
}

// reducer keeps the best admissible candidate seen so far. Among equal
// costs the one with the lowest enumeration index wins, so the result does
// not depend on the order in which candidates arrive.
type reducer struct {
	best  indexedCandidate
	found bool
	stats Stats
}

func (r *reducer) add(c indexedCandidate) {
	r.stats.record(&c.Candidate)
	// As in mlfgame.SelectEquilibrium, only admissible finite costs count.
	if !(c.EffectiveCost() < math.Inf(1)) {
		return
	}

	if !r.found || c.Beats(&r.best.Candidate) ||
		(!r.best.Beats(&c.Candidate) && c.idx < r.best.idx) {
		r.best = c
		r.found = true
	}
}

func (r *reducer) result(numLeaders int) *Result {
	eq := mlfgame.Infeasible(numLeaders, nil)
	if r.found {
		eq = r.best.Candidate
	}

	return &Result{
		Equilibrium: eq,
		Stats:       r.stats,
	}
}

func (s *Stats) record(c *mlfgame.Candidate) {
	s.Evaluated++
	subsetsEvaluated.Add(1)
	switch {
	case c.Degenerate:
		s.Degenerate++
		subsetsDegenerate.Add(1)
	case c.Failure != "":
		s.Failed++
		subsetsFailed.Add(1)
	case c.Admissible:
		s.Admissible++
		subsetsAdmissible.Add(1)
	}
	if len(c.Diagnostics) > 0 {
		s.NonConvex++
	}
}

// Package equilibrium finds the leaders' equilibrium prices for a fixed
// follower response by a damped projected fixed-point iteration:
//
//	p ← p + η (Π(p - ∇c(p)) - p)
//
// where ∇c is the vector of each leader's own-price cost derivative and Π
// clips prices into the box [LeaderLow, LeaderHigh].
package equilibrium

import (
	"math"
	"math/rand"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/timpalpant/mlfgame"
	"github.com/timpalpant/mlfgame/follower"
)

var (
	ErrNotConverged = errors.New("fixed point iteration did not converge")
	ErrNumerical    = errors.New("numerical instability in fixed point iteration")
)

type Options struct {
	// Iteration stops once every price moves by less than Tolerance.
	Tolerance float64
	// Damping factor η applied to each projected step.
	LearningRate float64
	// Maximum number of iterations before giving up with ErrNotConverged.
	MaxIterations int
}

func DefaultOptions() Options {
	return Options{
		Tolerance:     1e-5,
		LearningRate:  5e-3,
		MaxIterations: 5000000,
	}
}

// WithDefaults returns a copy of the options with zero fields set to defaults.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Tolerance <= 0 {
		o.Tolerance = defaults.Tolerance
	}
	if o.LearningRate <= 0 {
		o.LearningRate = defaults.LearningRate
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaults.MaxIterations
	}
	return o
}

type Result struct {
	Prices     []float64
	Quantities []float64
	Iterations int
}

// Solver computes the equilibrium prices for one follower response.
// A Solver is not safe for concurrent use, since it owns its random source.
type Solver struct {
	params   *mlfgame.Params
	response *follower.Response
	rng      *rand.Rand
	opts     Options

	// Column sums of D: the total quantity response to each leader's price.
	colSums []float64
}

func NewSolver(params *mlfgame.Params, response *follower.Response, rng *rand.Rand, opts Options) *Solver {
	n := params.NumLeaders()
	colSums := make([]float64, n)
	for i := range colSums {
		colSums[i] = mat.Sum(response.D.ColView(i))
	}

	return &Solver{
		params:   params,
		response: response,
		rng:      rng,
		opts:     opts.WithDefaults(),
		colSums:  colSums,
	}
}

// Gradient returns, for each leader, the derivative of its cost with respect
// to its own price given the follower's affine reaction to prices p.
// The price feedback terms of the last (market) leader are scaled by
// 1/MarketDivisor.
func (s *Solver) Gradient(p []float64) []float64 {
	y := s.response.Quantities(p)
	ySum := floats.Sum(y)
	price := s.params.DemandIntercept - s.params.DemandSlope*ySum
	w, b := s.params.LeaderCosts, s.params.DemandSlope

	grad := make([]float64, len(p))
	for i := range grad {
		k := 1.0
		if i == len(grad)-1 {
			k = s.params.MarketDivisor
		}

		dii := s.response.D.At(i, i)
		grad[i] = y[i] + p[i]*dii + w[i]*y[i]*dii - price*dii/k + y[i]*b*s.colSums[i]/k
	}

	return grad
}

// Project clips x elementwise into the leaders' price box, in place.
func (s *Solver) Project(x []float64) []float64 {
	for i := range x {
		x[i] = math.Min(s.params.LeaderHigh[i], math.Max(x[i], s.params.LeaderLow[i]))
	}
	return x
}

// Run iterates from a price vector drawn uniformly within the price box.
func (s *Solver) Run() (Result, error) {
	p := make([]float64, s.params.NumLeaders())
	for i := range p {
		lo, hi := s.params.LeaderLow[i], s.params.LeaderHigh[i]
		p[i] = lo + s.rng.Float64()*(hi-lo)
	}

	return s.RunFrom(p)
}

// RunFrom iterates from the given initial prices until the largest price
// change falls below the tolerance.
func (s *Solver) RunFrom(initial []float64) (Result, error) {
	p := append([]float64(nil), initial...)
	step := make([]float64, len(p))
	delta := make([]float64, len(p))
	var change float64
	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		floats.SubTo(step, p, s.Gradient(p))
		s.Project(step)
		floats.SubTo(delta, step, p)
		floats.Scale(s.opts.LearningRate, delta)
		floats.Add(p, delta)

		change = floats.Norm(delta, math.Inf(1))
		if math.IsNaN(change) || math.IsInf(change, 0) || floats.HasNaN(p) {
			return Result{}, errors.Wrapf(ErrNumerical, "price change %v at iteration %d", change, iter)
		}

		if change <= s.opts.Tolerance {
			glog.V(3).Infof("Converged after %d iterations: p = %v", iter, p)
			return Result{
				Prices:     p,
				Quantities: s.response.Quantities(p),
				Iterations: iter,
			}, nil
		}
	}

	return Result{}, errors.Wrapf(ErrNotConverged, "max price change %v after %d iterations",
		change, s.opts.MaxIterations)
}

// Package mlfgame defines multi-leader, single-follower pricing games:
// leaders set prices within box bounds and a follower buys quantities
// minimizing a quadratic cost subject to linear constraints Qy <= r.
package mlfgame

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MaxConstraints bounds the number of follower constraints, since the
// equilibrium search visits every subset of them.
const MaxConstraints = 24

// FeasibilityTolerance is the relative slack allowed when checking Qy <= r:
// row i may exceed r_i by FeasibilityTolerance*max(1, |r_i|). Constraints
// assumed active are satisfied with equality only up to rounding, which
// scales with the magnitude of the bound.
const FeasibilityTolerance = 1e-9

// feasibilitySlack returns the allowed violation of a constraint with bound r.
func feasibilitySlack(r float64) float64 {
	return FeasibilityTolerance * math.Max(1, math.Abs(r))
}

var ErrInvalidParams = errors.New("invalid game parameters")

// Params defines one instance of the multi-leader, single-follower game.
// Params are read-only once constructed and may be shared between goroutines.
type Params struct {
	// Per-unit processing cost of each leader (w).
	LeaderCosts []float64
	// Inverse demand coefficients: price(q) = DemandIntercept - DemandSlope*q.
	DemandIntercept float64
	DemandSlope     float64
	// Box bounds on each leader's price.
	LeaderLow  []float64
	LeaderHigh []float64
	// Divides the price feedback of the last leader, which plays the role
	// of the market (government) leader.
	MarketDivisor float64
	// Follower constraints Qy <= r. Constraints is nil when M = 0.
	Constraints *mat.Dense
	Bounds      []float64
	// Follower processing cost matrix (B), L x L, invertible.
	Processing *mat.Dense
}

func (p *Params) NumLeaders() int {
	return len(p.LeaderCosts)
}

func (p *Params) NumConstraints() int {
	if p.Constraints == nil {
		return 0
	}

	m, _ := p.Constraints.Dims()
	return m
}

// Validate sanity checks the dimensions and values of the parameters.
func (p *Params) Validate() error {
	n := p.NumLeaders()
	if n == 0 {
		return errors.Wrap(ErrInvalidParams, "game must have at least one leader")
	}
	if len(p.LeaderLow) != n || len(p.LeaderHigh) != n {
		return errors.Wrapf(ErrInvalidParams, "price bounds have length (%d, %d), expected %d",
			len(p.LeaderLow), len(p.LeaderHigh), n)
	}
	for i := range p.LeaderLow {
		if p.LeaderLow[i] > p.LeaderHigh[i] {
			return errors.Wrapf(ErrInvalidParams, "leader %d has low price %v > high price %v",
				i, p.LeaderLow[i], p.LeaderHigh[i])
		}
	}
	if p.MarketDivisor == 0 {
		return errors.Wrap(ErrInvalidParams, "market divisor must be nonzero")
	}

	if p.Processing == nil {
		return errors.Wrap(ErrInvalidParams, "missing follower processing matrix")
	}
	if r, c := p.Processing.Dims(); r != n || c != n {
		return errors.Wrapf(ErrInvalidParams, "processing matrix is %dx%d, expected %dx%d", r, c, n, n)
	}

	m := p.NumConstraints()
	if m > MaxConstraints {
		return errors.Wrapf(ErrInvalidParams, "%d follower constraints exceeds maximum of %d",
			m, MaxConstraints)
	}
	if m > 0 {
		if _, c := p.Constraints.Dims(); c != n {
			return errors.Wrapf(ErrInvalidParams, "constraint matrix has %d columns, expected %d", c, n)
		}
	}
	if len(p.Bounds) != m {
		return errors.Wrapf(ErrInvalidParams, "%d constraint bounds for %d constraints", len(p.Bounds), m)
	}

	for name, v := range map[string][]float64{
		"leader costs": p.LeaderCosts,
		"low prices":   p.LeaderLow,
		"high prices":  p.LeaderHigh,
		"bounds":       p.Bounds,
		"demand":       {p.DemandIntercept, p.DemandSlope, p.MarketDivisor},
	} {
		if floats.HasNaN(v) {
			return errors.Wrapf(ErrInvalidParams, "%s contain NaN", name)
		}
	}
	if hasNaN(p.Processing) || (m > 0 && hasNaN(p.Constraints)) {
		return errors.Wrap(ErrInvalidParams, "matrices contain NaN")
	}

	return nil
}

// ActiveRows returns the rows of Q and r selected by the given active set.
// Both are nil for the empty set.
func (p *Params) ActiveRows(set ActiveSet) (*mat.Dense, []float64) {
	if len(set) == 0 {
		return nil, nil
	}

	n := p.NumLeaders()
	a1 := mat.NewDense(len(set), n, nil)
	b1 := make([]float64, len(set))
	for k, row := range set {
		a1.SetRow(k, p.Constraints.RawRowView(row))
		b1[k] = p.Bounds[row]
	}

	return a1, b1
}

// IsAdmissible reports whether the follower quantities y satisfy every
// follower constraint Qy <= r, irrespective of which were assumed active.
func (p *Params) IsAdmissible(y []float64) bool {
	m := p.NumConstraints()
	if m == 0 {
		return true
	}

	qy := mat.NewVecDense(m, nil)
	qy.MulVec(p.Constraints, mat.NewVecDense(len(y), y))
	for i := 0; i < m; i++ {
		if qy.AtVec(i) > p.Bounds[i]+feasibilitySlack(p.Bounds[i]) {
			return false
		}
	}

	return true
}

// FollowerCost evaluates the follower objective -p'y + y'By/2.
func (p *Params) FollowerCost(prices, y []float64) float64 {
	yv := mat.NewVecDense(len(y), y)
	return -floats.Dot(prices, y) + mat.Inner(yv, p.Processing, yv)/2
}

func hasNaN(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) {
				return true
			}
		}
	}

	return false
}

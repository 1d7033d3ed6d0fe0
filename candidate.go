package mlfgame

import (
	"fmt"
	"math"
)

type DiagnosticKind int

const (
	// NonConvex indicates that a leader's cost may not be convex in its own
	// price for the derived follower response, so a computed equilibrium
	// may not be reliable.
	NonConvex DiagnosticKind = iota
)

var diagnosticKindStr = [...]string{
	"non-convex",
}

func (k DiagnosticKind) String() string {
	return diagnosticKindStr[k]
}

// Diagnostic is a non-fatal condition raised while computing a candidate.
type Diagnostic struct {
	Kind   DiagnosticKind
	Leader int
	Value  float64
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%v at leader %d with value %v", d.Kind, d.Leader, d.Value)
}

// Candidate is the equilibrium obtained for a single choice of active set.
type Candidate struct {
	ActiveSet  ActiveSet
	Prices     []float64
	Quantities []float64
	// Whether the quantities satisfy all follower constraints.
	Admissible bool
	// Follower objective -p'y + y'By/2, or +Inf for infeasible candidates.
	Cost float64

	// The active set constraints were linearly dependent, so no solve was attempted.
	Degenerate  bool
	Iterations  int
	Diagnostics []Diagnostic
	// Non-empty if solving this active set failed (e.g. singular system or
	// no convergence). Stored as a string so that candidates are gob-encodable.
	Failure string
}

// Infeasible returns the sentinel candidate for an active set that cannot
// produce an equilibrium: zero prices and quantities with infinite cost.
func Infeasible(numLeaders int, set ActiveSet) Candidate {
	return Candidate{
		ActiveSet:  set,
		Prices:     make([]float64, numLeaders),
		Quantities: make([]float64, numLeaders),
		Admissible: false,
		Cost:       math.Inf(1),
	}
}

// EffectiveCost is the cost used to rank candidates: inadmissible
// candidates never beat admissible ones.
func (c *Candidate) EffectiveCost() float64 {
	if !c.Admissible {
		return math.Inf(1)
	}

	return c.Cost
}

// Beats reports whether c is strictly preferred to other: c is admissible
// and has lower cost. Equal costs do not beat each other, so callers
// break ties by order.
func (c *Candidate) Beats(other *Candidate) bool {
	return c.EffectiveCost() < other.EffectiveCost()
}

// SelectEquilibrium returns the admissible candidate of minimal follower cost.
// Ties are broken in favor of the earliest candidate. If there is no
// admissible candidate, an Infeasible sentinel is returned.
func SelectEquilibrium(candidates []Candidate) Candidate {
	best := -1
	bestCost := math.Inf(1)
	for i := range candidates {
		if cost := candidates[i].EffectiveCost(); cost < bestCost {
			best, bestCost = i, cost
		}
	}

	if best < 0 {
		if len(candidates) == 0 {
			return Candidate{Cost: math.Inf(1)}
		}
		return Infeasible(len(candidates[0].Prices), nil)
	}

	return candidates[best]
}

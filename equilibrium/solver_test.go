package equilibrium

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/timpalpant/mlfgame"
	"github.com/timpalpant/mlfgame/follower"
)

// monopoly is a single leader facing an unconstrained follower with B = 1.
// The follower buys y = p and the leader's first-order condition reads
// p(2 + w + 2b) - a = 0, so p* = 10 / 5 = 2.
func monopoly() *mlfgame.Params {
	return &mlfgame.Params{
		LeaderCosts:     []float64{1},
		DemandIntercept: 10,
		DemandSlope:     1,
		LeaderLow:       []float64{0},
		LeaderHigh:      []float64{10},
		MarketDivisor:   1,
		Processing:      mat.NewDense(1, 1, []float64{1}),
	}
}

func newSolver(t *testing.T, params *mlfgame.Params, seed int64, opts Options) *Solver {
	require.NoError(t, params.Validate())
	resp, err := follower.Unconstrained(params.Processing)
	require.NoError(t, err)
	return NewSolver(params, resp, rand.New(rand.NewSource(seed)), opts)
}

func TestRun_Monopoly(t *testing.T) {
	s := newSolver(t, monopoly(), 1, DefaultOptions())
	result, err := s.Run()
	require.NoError(t, err)

	assert.InDelta(t, 2.0, result.Prices[0], 1e-3)
	assert.Equal(t, result.Prices, result.Quantities)
	assert.InDelta(t, 0, s.Gradient(result.Prices)[0], 5e-3)
	assert.Greater(t, result.Iterations, 0)
}

func TestGradient(t *testing.T) {
	s := newSolver(t, monopoly(), 1, DefaultOptions())
	// 5p - 10
	assert.InDelta(t, -10, s.Gradient([]float64{0})[0], 1e-12)
	assert.InDelta(t, 0, s.Gradient([]float64{2})[0], 1e-12)
	assert.InDelta(t, 5, s.Gradient([]float64{3})[0], 1e-12)
}

func TestGradient_MarketLeader(t *testing.T) {
	params := &mlfgame.Params{
		LeaderCosts:     []float64{1, 2},
		DemandIntercept: 20,
		DemandSlope:     0.5,
		LeaderLow:       []float64{0, 0},
		LeaderHigh:      []float64{10, 10},
		MarketDivisor:   4,
		Processing:      mat.NewDense(2, 2, []float64{2, 0, 0, 1}),
	}
	s := newSolver(t, params, 1, DefaultOptions())

	// D = diag(1/2, 1), y = (p0/2, p1).
	p := []float64{4, 3}
	y := []float64{2, 3}
	price := 20 - 0.5*5
	expected0 := y[0] + p[0]*0.5 + 1*y[0]*0.5 - price*0.5 + y[0]*0.5*0.5
	expected1 := y[1] + p[1]*1 + 2*y[1]*1 - price*1/4 + y[1]*0.5*1/4
	grad := s.Gradient(p)
	assert.InDelta(t, expected0, grad[0], 1e-12)
	assert.InDelta(t, expected1, grad[1], 1e-12)
}

func TestProject(t *testing.T) {
	params := monopoly()
	params.LeaderCosts = []float64{1, 1, 1}
	params.LeaderLow = []float64{0, 1, -5}
	params.LeaderHigh = []float64{10, 2, 5}
	params.Processing = mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	s := newSolver(t, params, 1, DefaultOptions())

	assert.Equal(t, []float64{0, 2, 3}, s.Project([]float64{-1, 7, 3}))
	assert.Equal(t, []float64{10, 1, -5}, s.Project([]float64{11, 1, -6}))
}

func TestRun_IndependentOfStart(t *testing.T) {
	opts := DefaultOptions()
	first, err := newSolver(t, monopoly(), 1, opts).Run()
	require.NoError(t, err)
	second, err := newSolver(t, monopoly(), 2, opts).Run()
	require.NoError(t, err)

	// The stopping rule bounds the step, not the distance to the fixed
	// point, so the attainable precision is Tolerance/LearningRate.
	assert.InDelta(t, first.Prices[0], second.Prices[0], 2*opts.Tolerance/opts.LearningRate)
}

func TestRun_Reproducible(t *testing.T) {
	first, err := newSolver(t, monopoly(), 42, DefaultOptions()).Run()
	require.NoError(t, err)
	second, err := newSolver(t, monopoly(), 42, DefaultOptions()).Run()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunFrom_Bound(t *testing.T) {
	// With a large demand intercept the optimal price exceeds the cap.
	params := monopoly()
	params.DemandIntercept = 1000
	s := newSolver(t, params, 1, DefaultOptions())
	result, err := s.RunFrom([]float64{5})
	require.NoError(t, err)
	assert.InDelta(t, 10, result.Prices[0], 1e-2)
	assert.LessOrEqual(t, result.Prices[0], 10.0)
}

func TestRun_NotConverged(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxIterations = 10
	s := newSolver(t, monopoly(), 1, opts)
	_, err := s.RunFrom([]float64{9})
	require.Error(t, err)
	assert.Equal(t, ErrNotConverged, errors.Cause(err))
}

func TestRun_Numerical(t *testing.T) {
	params := monopoly()
	params.LeaderLow = []float64{math.Inf(-1)}
	params.LeaderHigh = []float64{math.Inf(1)}
	s := newSolver(t, params, 1, DefaultOptions())
	_, err := s.RunFrom([]float64{math.Inf(1)})
	require.Error(t, err)
	assert.Equal(t, ErrNumerical, errors.Cause(err))
}

func TestOptionsWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultOptions(), Options{}.WithDefaults())

	opts := Options{Tolerance: 1e-3}.WithDefaults()
	assert.Equal(t, 1e-3, opts.Tolerance)
	assert.Equal(t, DefaultOptions().LearningRate, opts.LearningRate)
}

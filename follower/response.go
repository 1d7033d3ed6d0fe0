// Package follower computes the follower's best response to leader prices.
//
// The follower minimizes y'By/2 - p'y. With a chosen set of binding
// constraints A1 y = b1 the minimizer is affine in the prices,
//
//	y = C + D p,
//
// and is obtained in closed form by eliminating the Lagrange multipliers:
//
//	C = B⁻¹A1ᵗ(A1B⁻¹A1ᵗ)⁻¹b1
//	D = B⁻¹ - B⁻¹A1ᵗ(A1B⁻¹A1ᵗ)⁻¹A1B⁻¹
package follower

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/timpalpant/mlfgame"
)

var ErrSingular = errors.New("singular matrix")

// Response is the affine map y = C + D p from leader prices to follower
// quantities. It is immutable after construction.
type Response struct {
	C *mat.VecDense
	D *mat.Dense
}

// Solve derives the follower response for processing matrix B and the
// active constraints A1 y = b1. A nil A1 means no constraint is active.
func Solve(B mat.Matrix, A1 *mat.Dense, b1 []float64) (*Response, error) {
	if A1 == nil {
		return Unconstrained(B)
	}

	return Constrained(B, A1, b1)
}

// Unconstrained returns the response C = 0, D = B⁻¹.
func Unconstrained(B mat.Matrix) (*Response, error) {
	bInv, err := invert(B)
	if err != nil {
		return nil, errors.Wrap(err, "processing matrix")
	}

	n, _ := B.Dims()
	return &Response{
		C: mat.NewVecDense(n, nil),
		D: bInv,
	}, nil
}

// Constrained returns the response of the equality constrained problem.
// A1 must have full row rank.
func Constrained(B mat.Matrix, A1 *mat.Dense, b1 []float64) (*Response, error) {
	k, n := A1.Dims()
	if len(b1) != k {
		return nil, errors.Errorf("%d active bounds for %d active constraints", len(b1), k)
	}

	bInv, err := invert(B)
	if err != nil {
		return nil, errors.Wrap(err, "processing matrix")
	}

	var bInvAt mat.Dense // B⁻¹A1ᵗ, n x k
	bInvAt.Mul(bInv, A1.T())
	var schur mat.Dense // A1B⁻¹A1ᵗ, k x k
	schur.Mul(A1, &bInvAt)
	schurInv, err := invert(&schur)
	if err != nil {
		return nil, errors.Wrap(err, "active constraints")
	}

	var gain mat.Dense // B⁻¹A1ᵗ(A1B⁻¹A1ᵗ)⁻¹, n x k
	gain.Mul(&bInvAt, schurInv)

	c := mat.NewVecDense(n, nil)
	c.MulVec(&gain, mat.NewVecDense(k, append([]float64(nil), b1...)))

	var aBInv mat.Dense
	aBInv.Mul(A1, bInv)
	var correction mat.Dense
	correction.Mul(&gain, &aBInv)
	d := mat.NewDense(n, n, nil)
	d.Sub(bInv, &correction)

	return &Response{C: c, D: d}, nil
}

// NumLeaders returns the dimension of the price vector.
func (r *Response) NumLeaders() int {
	return r.C.Len()
}

// Quantities returns the follower's response y = C + D p.
func (r *Response) Quantities(p []float64) []float64 {
	n := r.C.Len()
	y := mat.NewVecDense(n, nil)
	y.MulVec(r.D, mat.NewVecDense(len(p), p))
	y.AddVec(y, r.C)
	return y.RawVector().Data
}

// ConvexityDiagnostics checks the second-order term of each leader's cost
// under this response, given leader processing costs w and demand slope b.
// A diagnostic is returned for each leader whose curvature is negative.
func (r *Response) ConvexityDiagnostics(w []float64, b float64) []mlfgame.Diagnostic {
	var result []mlfgame.Diagnostic
	n, _ := r.D.Dims()
	for i := 0; i < n; i++ {
		dii := r.D.At(i, i)
		curvature := dii * (2*b*mat.Sum(r.D.ColView(i)) + 2 + w[i]*dii)
		if curvature < 0 {
			result = append(result, mlfgame.Diagnostic{
				Kind:   mlfgame.NonConvex,
				Leader: i,
				Value:  curvature,
			})
		}
	}

	return result
}

func invert(m mat.Matrix) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, errors.Wrapf(ErrSingular, "%v", err)
	}

	return &inv, nil
}

package param

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// gamutSolve finds non-negative coefficients c_i in [0,1] for the given
// basis channels (XYZ tristimulus of each channel at full output) that
// reproduce the target chromaticity (x, y), maximizing Σc_i as a proxy for
// bringing the achieved luminance as close as possible to the request.
//
// The chromaticity-match constraints are linear and scale-invariant:
//
//	(1-x)·X - x·Y - x·Z = 0
//	-y·X + (1-y)·Y - y·Z = 0
//
// where (X, Y, Z) = Σ c_i · basis_i. Each c_i is bounded above by 1 via a
// slack variable c_i + s_i = 1, so the standard-form problem solved is
// "minimize -Σc_i subject to A·v = b, v >= 0" over v = (c, s).
//
// Returns the coefficients and whether the request was satisfied exactly
// (false means the closest feasible point was used — an out-of-gamut
// request).
func gamutSolve(basis []channelBasis, x, y float64) ([]float64, bool) {
	n := len(basis)
	if n == 0 {
		return nil, true
	}

	rows := 2 + n
	cols := 2 * n
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)

	for i, ch := range basis {
		a.Set(0, i, (1-x)*ch.x-x*ch.y-x*ch.z)
		a.Set(1, i, -y*ch.x+(1-y)*ch.y-y*ch.z)
	}
	b[0], b[1] = 0, 0

	for i := 0; i < n; i++ {
		a.Set(2+i, i, 1)
		a.Set(2+i, n+i, 1)
		b[2+i] = 1
	}

	c := make([]float64, cols)
	for i := 0; i < n; i++ {
		c[i] = -1 // minimize -Σc_i == maximize Σc_i
	}

	_, xOpt, err := lp.Simplex(c, a, b, 0, nil)
	if err != nil || xOpt == nil {
		// Solver failure — fall back to the single basis channel whose own
		// chromaticity is nearest the target, flagged out of gamut.
		return clampedFallback(basis, x, y), false
	}
	coeffs := xOpt[:n]
	total := 0.0
	for _, v := range coeffs {
		total += v
	}
	if total == 0 && (x != 0 || y != 0) {
		// c = 0 always satisfies the chromaticity rows, so an optimum of zero
		// means no non-negative mix of the basis reaches (x, y).
		return clampedFallback(basis, x, y), false
	}
	return coeffs, true
}

// channelBasis is a channel's XYZ tristimulus contribution at coefficient 1.
type channelBasis struct {
	name    string
	x, y, z float64
}

// clampedFallback returns a best-effort, always-feasible coefficient vector
// when the LP solver reports infeasibility (e.g. requested chromaticity
// outside the basis's achievable gamut).
func clampedFallback(basis []channelBasis, x, y float64) []float64 {
	out := make([]float64, len(basis))
	best := -1
	bestDist := -1.0
	for i, ch := range basis {
		sum := ch.x + ch.y + ch.z
		if sum <= 0 {
			continue
		}
		cx, cy := ch.x/sum, ch.y/sum
		d := (cx-x)*(cx-x) + (cy-y)*(cy-y)
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 {
		out[best] = 1
	}
	return out
}

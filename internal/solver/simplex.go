// Package solver provides SolverAdapter backends for the allocation MILP: a
// pure-Go branch and bound over a bounded-variable simplex, and an adapter
// that shells out to a CBC binary.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"cargoalloc/internal/milp"
)

var errLPInfeasible = errors.New("lp relaxation infeasible")

// Simplex tolerances. costTol prices entering columns, pivTol rejects tiny
// pivot elements, feasTol is the phase-1 residual below which a basis counts
// as feasible.
const (
	costTol = 1e-9
	pivTol  = 1e-9
	feasTol = 1e-7

	// stallPivots consecutive degenerate steps switch pricing to Bland's
	// rule, which cannot cycle.
	stallPivots = 64
)

// solveNodeLP solves the node relaxation of the allocation problem. The
// binary indicators are folded away: each (transporter, site) pair carries an
// allocation window [lo[p], hi[p]] instead, with p = i*numSites + j, and
// branching tightens windows rather than variable integrality. Columns are x
// per pair, then u, then v, then one slack per deviation inequality; rows are
// the site coverage equalities and four deviation rows per transporter.
// Finite windows stay variable bounds the simplex handles natively, never
// extra rows.
func solveNodeLP(ds *milp.Dataset, lo, hi []float64) (float64, []float64, error) {
	n, s := ds.NumTransporters(), ds.NumSites()
	pairs := n * s
	cols := pairs + 2*n + 4*n
	rows := s + 4*n

	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)
	up := make([]float64, cols)

	uCol := func(i int) int { return pairs + i }
	vCol := func(i int) int { return pairs + n + i }
	slack := pairs + 2*n

	// The x columns are shifted by their window floor, so every column's
	// lower bound is zero and the floors move onto the right-hand sides.
	for p := 0; p < pairs; p++ {
		up[p] = hi[p] - lo[p]
	}
	for k := pairs; k < cols; k++ {
		up[k] = math.Inf(1)
	}
	for i := 0; i < n; i++ {
		c[uCol(i)] = ds.WeightTonnage
		c[vCol(i)] = ds.WeightRevenue
	}

	// Coverage: sum_i x[i][j] = demand_j.
	for j := 0; j < s; j++ {
		rhs := ds.Sites[j].Demand
		for i := 0; i < n; i++ {
			p := i*s + j
			a.Set(j, p, 1)
			rhs -= lo[p]
		}
		b[j] = rhs
	}

	// Deviation linearizations: two inequalities per absolute value, tons
	// then revenue, each carrying one slack.
	for i := 0; i < n; i++ {
		var floorTons, floorRev float64
		for j := 0; j < s; j++ {
			p := i*s + j
			floorTons += lo[p]
			floorRev += lo[p] * ds.Sites[j].Rate
		}

		rHi, rLo := s+i, s+n+i
		for j := 0; j < s; j++ {
			p := i*s + j
			a.Set(rHi, p, 1)
			a.Set(rLo, p, 1)
		}
		a.Set(rHi, uCol(i), -1)
		a.Set(rHi, slack, 1)
		slack++
		a.Set(rLo, uCol(i), 1)
		a.Set(rLo, slack, -1)
		slack++
		b[rHi] = ds.TargetTons(i) - floorTons
		b[rLo] = ds.TargetTons(i) - floorTons

		rHi, rLo = s+2*n+i, s+3*n+i
		for j := 0; j < s; j++ {
			p := i*s + j
			a.Set(rHi, p, ds.Sites[j].Rate)
			a.Set(rLo, p, ds.Sites[j].Rate)
		}
		a.Set(rHi, vCol(i), -1)
		a.Set(rHi, slack, 1)
		slack++
		a.Set(rLo, vCol(i), 1)
		a.Set(rLo, slack, -1)
		slack++
		b[rHi] = ds.TargetRevenue(i) - floorRev
		b[rLo] = ds.TargetRevenue(i) - floorRev
	}

	obj, z, err := boundedSimplex(c, a, b, up)
	if err != nil {
		return 0, nil, err
	}
	x := make([]float64, pairs)
	for p := 0; p < pairs; p++ {
		x[p] = z[p] + lo[p]
	}
	return obj, x, nil
}

// boundedSimplex solves min c.z subject to A z = b, 0 <= z <= up (entries of
// up may be +Inf) with a two-phase full-tableau simplex. Upper bounds are
// handled in the ratio test, so a bound never costs a constraint row. Returns
// errLPInfeasible when phase 1 cannot reach feasibility.
func boundedSimplex(c []float64, a *mat.Dense, b, up []float64) (float64, []float64, error) {
	m, n := a.Dims()
	total := n + m // structural columns plus one artificial per row

	t := mat.NewDense(m, total, nil)
	xb := make([]float64, m)
	basis := make([]int, m)
	inBasis := make([]bool, total)
	atUpper := make([]bool, total)
	upper := make([]float64, total)
	copy(upper, up)
	for j := n; j < total; j++ {
		upper[j] = math.Inf(1)
	}

	// Initial basis: the artificials, with rows flipped so the right-hand
	// side is nonnegative.
	for i := 0; i < m; i++ {
		sign := 1.0
		if b[i] < 0 {
			sign = -1
		}
		for j := 0; j < n; j++ {
			t.Set(i, j, sign*a.At(i, j))
		}
		t.Set(i, n+i, 1)
		xb[i] = sign * b[i]
		basis[i] = n + i
		inBasis[n+i] = true
	}

	// Phase 1: minimize the artificial sum. With the artificials basic the
	// reduced costs are the negated column sums.
	d := make([]float64, total)
	for j := 0; j < n; j++ {
		var sum float64
		for i := 0; i < m; i++ {
			sum += t.At(i, j)
		}
		d[j] = -sum
	}
	if err := runSimplex(t, d, xb, basis, inBasis, atUpper, upper, n); err != nil {
		return 0, nil, err
	}
	var residual float64
	for i := 0; i < m; i++ {
		if basis[i] >= n {
			residual += xb[i]
		}
	}
	if residual > feasTol {
		return 0, nil, errLPInfeasible
	}

	// Phase 2: true costs against the current tableau. Artificials never
	// re-enter; any left basic sit at zero and stay there.
	cb := make([]float64, m)
	for i, bj := range basis {
		if bj < n {
			cb[i] = c[bj]
		}
	}
	for j := 0; j < total; j++ {
		if inBasis[j] || j >= n {
			d[j] = 0
			continue
		}
		var sum float64
		for i := 0; i < m; i++ {
			sum += cb[i] * t.At(i, j)
		}
		d[j] = c[j] - sum
	}
	if err := runSimplex(t, d, xb, basis, inBasis, atUpper, upper, n); err != nil {
		return 0, nil, err
	}

	x := make([]float64, n)
	for j := 0; j < n; j++ {
		if atUpper[j] {
			x[j] = upper[j]
		}
	}
	for i, bj := range basis {
		if bj < n {
			x[bj] = xb[i]
		}
	}
	var obj float64
	for j := 0; j < n; j++ {
		obj += c[j] * x[j]
	}
	return obj, x, nil
}

// runSimplex pivots until no priced column improves. Columns at or above
// nStruct (the artificials) and columns whose bound span is zero never enter.
func runSimplex(t *mat.Dense, d, xb []float64, basis []int, inBasis, atUpper []bool, upper []float64, nStruct int) error {
	m, total := t.Dims()
	maxIter := 200 * (m + total)
	bland := false
	stale := 0
	for iter := 0; iter < maxIter; iter++ {
		enter := -1
		best := costTol
		for j := 0; j < nStruct; j++ {
			if inBasis[j] || upper[j] < pivTol {
				continue
			}
			var score float64
			switch {
			case !atUpper[j] && d[j] < -costTol:
				score = -d[j]
			case atUpper[j] && d[j] > costTol:
				score = d[j]
			default:
				continue
			}
			if bland {
				enter = j
				break
			}
			if score > best {
				best = score
				enter = j
			}
		}
		if enter < 0 {
			return nil
		}
		dir := 1.0
		if atUpper[enter] {
			dir = -1
		}

		// Ratio test over the basic rows; the entering column's own bound
		// span limits too, and reaching it is a bound flip with no pivot.
		leave := -1
		leaveAtUpper := false
		limit := upper[enter]
		for i := 0; i < m; i++ {
			w := dir * t.At(i, enter)
			var r float64
			var toUpper bool
			switch {
			case w > pivTol:
				r = xb[i] / w
			case w < -pivTol:
				if basis[i] >= nStruct {
					// A basic artificial must never grow; swap it out
					// instead.
					r = 0
					break
				}
				ub := upper[basis[i]]
				if math.IsInf(ub, 1) {
					continue
				}
				r = (ub - xb[i]) / -w
				toUpper = true
			default:
				continue
			}
			if r < 0 {
				r = 0
			}
			switch {
			case r < limit-pivTol:
				limit, leave, leaveAtUpper = r, i, toUpper
			case r < limit+pivTol && leave >= 0 && basis[i] < basis[leave]:
				leave, leaveAtUpper = i, toUpper
			}
		}
		if math.IsInf(limit, 1) {
			return fmt.Errorf("lp relaxation unbounded")
		}
		if limit <= pivTol {
			stale++
			if stale > stallPivots {
				bland = true
			}
		} else {
			stale = 0
		}
		if leave < 0 {
			// Bound flip: the entering column swings across its whole
			// span and the basis stands.
			for i := 0; i < m; i++ {
				xb[i] -= dir * limit * t.At(i, enter)
			}
			atUpper[enter] = !atUpper[enter]
			continue
		}

		enterVal := limit
		if dir < 0 {
			enterVal = upper[enter] - limit
		}
		for i := 0; i < m; i++ {
			if i != leave {
				xb[i] -= dir * limit * t.At(i, enter)
				if xb[i] < 0 && xb[i] > -pivTol {
					xb[i] = 0
				}
			}
		}
		out := basis[leave]
		inBasis[out] = false
		atUpper[out] = leaveAtUpper
		basis[leave] = enter
		inBasis[enter] = true
		atUpper[enter] = false
		xb[leave] = enterVal

		piv := t.At(leave, enter)
		row := t.RawRowView(leave)
		inv := 1 / piv
		for j := range row {
			row[j] *= inv
		}
		for i := 0; i < m; i++ {
			if i == leave {
				continue
			}
			f := t.At(i, enter)
			if f == 0 {
				continue
			}
			ri := t.RawRowView(i)
			for j := range ri {
				ri[j] -= f * row[j]
			}
		}
		if f := d[enter]; f != 0 {
			for j := range d {
				d[j] -= f * row[j]
			}
		}
	}
	return fmt.Errorf("lp iteration limit reached")
}

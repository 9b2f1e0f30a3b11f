package milp

import (
	"fmt"
	"math"
)

// Build translates a Dataset into the allocation MILP.
//
// Columns: x[i][j] continuous tons, y[i][j] binary participation, and the
// deviation columns u[i], v[i]. Rows:
//
//  1. coverage: sum_i x[i][j] = demand_j for every site j
//  2. linking:  x[i][j] <= max*y[i][j] and x[i][j] >= min*y[i][j], the big-M
//     encoding of the semi-continuous requirement that x is either 0 or in
//     [min, max]. Portable across backends without native semi-continuous
//     variable support.
//  3. tonnage deviation: u_i >= +/-(sum_j x[i][j] - targetTons_i)
//  4. revenue deviation: v_i >= +/-(sum_j rate_j*x[i][j] - targetRevenue_i)
//
// Objective: minimize alpha*sum(u) + beta*sum(v). The objective only pushes
// the deviation columns down, so at optimum u_i and v_i equal the absolute
// deviations.
//
// A site with zero demand forces its x column to zero through coverage; the
// matching indicators stay unconstrained and cost-free, and may take either
// value. That underdetermination is intentional.
func Build(ds *Dataset) (*Model, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	n := ds.NumTransporters()
	nSites := ds.NumSites()

	m := &Model{
		Dataset: ds,
		Vars:    make([]Variable, 0, 2*n*nSites+2*n),
		Epsilon: DefaultEpsilon,
	}

	for i := 0; i < n; i++ {
		for j := 0; j < nSites; j++ {
			upper := ds.MaxPerAssignment
			if d := ds.Sites[j].Demand; d < upper {
				upper = d
			}
			m.Vars = append(m.Vars, Variable{
				Name:        fmt.Sprintf("x_%d_%d", i, j),
				Kind:        VarAllocation,
				Transporter: i,
				Site:        j,
				Lower:       0,
				Upper:       upper,
			})
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < nSites; j++ {
			m.Vars = append(m.Vars, Variable{
				Name:        fmt.Sprintf("y_%d_%d", i, j),
				Kind:        VarIndicator,
				Transporter: i,
				Site:        j,
				Integer:     true,
				Lower:       0,
				Upper:       1,
			})
		}
	}
	for i := 0; i < n; i++ {
		m.Vars = append(m.Vars, Variable{
			Name:        fmt.Sprintf("u_%d", i),
			Kind:        VarTonnageDev,
			Transporter: i,
			Site:        -1,
			Lower:       0,
			Upper:       math.Inf(1),
		})
	}
	for i := 0; i < n; i++ {
		m.Vars = append(m.Vars, Variable{
			Name:        fmt.Sprintf("v_%d", i),
			Kind:        VarRevenueDev,
			Transporter: i,
			Site:        -1,
			Lower:       0,
			Upper:       math.Inf(1),
		})
	}

	m.ColCost = make([]float64, m.NumVars())
	for i := 0; i < n; i++ {
		m.ColCost[m.UIndex(i)] = ds.WeightTonnage
		m.ColCost[m.VIndex(i)] = ds.WeightRevenue
	}

	// Coverage: every unit of demand is served, exactly.
	for j := 0; j < nSites; j++ {
		cols := make([]int, n)
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			cols[i] = m.XIndex(i, j)
			vals[i] = 1
		}
		m.addEqRow(fmt.Sprintf("cover_%d", j), cols, vals, ds.Sites[j].Demand)
	}

	// Linking: x - max*y <= 0 and x - min*y >= 0.
	for i := 0; i < n; i++ {
		for j := 0; j < nSites; j++ {
			xc, yc := m.XIndex(i, j), m.YIndex(i, j)
			m.addLeRow(fmt.Sprintf("link_hi_%d_%d", i, j),
				[]int{xc, yc}, []float64{1, -ds.MaxPerAssignment}, 0)
			m.addGeRow(fmt.Sprintf("link_lo_%d_%d", i, j),
				[]int{xc, yc}, []float64{1, -ds.MinPerAssignment}, 0)
		}
	}

	// Deviation linearizations: two inequalities per absolute value.
	for i := 0; i < n; i++ {
		cols := make([]int, 0, nSites+1)
		vals := make([]float64, 0, nSites+1)
		for j := 0; j < nSites; j++ {
			cols = append(cols, m.XIndex(i, j))
			vals = append(vals, 1)
		}
		target := ds.TargetTons(i)
		m.addLeRow(fmt.Sprintf("tons_dev_hi_%d", i),
			append(append([]int(nil), cols...), m.UIndex(i)),
			append(append([]float64(nil), vals...), -1), target)
		m.addGeRow(fmt.Sprintf("tons_dev_lo_%d", i),
			append(append([]int(nil), cols...), m.UIndex(i)),
			append(append([]float64(nil), vals...), 1), target)
	}
	for i := 0; i < n; i++ {
		cols := make([]int, 0, nSites+1)
		vals := make([]float64, 0, nSites+1)
		for j := 0; j < nSites; j++ {
			cols = append(cols, m.XIndex(i, j))
			vals = append(vals, ds.Sites[j].Rate)
		}
		target := ds.TargetRevenue(i)
		m.addLeRow(fmt.Sprintf("rev_dev_hi_%d", i),
			append(append([]int(nil), cols...), m.VIndex(i)),
			append(append([]float64(nil), vals...), -1), target)
		m.addGeRow(fmt.Sprintf("rev_dev_lo_%d", i),
			append(append([]int(nil), cols...), m.VIndex(i)),
			append(append([]float64(nil), vals...), 1), target)
	}

	return m, nil
}

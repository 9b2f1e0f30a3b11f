package solver

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"cargoalloc/internal/milp"
)

// BranchBound is the default backend: depth-first branch and bound over the
// per-pair allocation windows, node relaxations solved by the bounded
// simplex. The binary indicators never enter a node LP; a pair is branched
// when its allocation falls strictly inside (0, min), the one region the
// semi-continuous bounds forbid, and each child either switches the pair off
// or raises its floor to the minimum.
type BranchBound struct {
	// IntTol is the semi-continuity tolerance: an allocation within IntTol
	// of zero or of the minimum counts as resolved. Zero means the model
	// epsilon.
	IntTol float64
}

func NewBranchBound() *BranchBound { return &BranchBound{} }

type bnbNode struct {
	lo []float64
	hi []float64
}

func (n bnbNode) child(pair int, lo, hi float64) bnbNode {
	c := bnbNode{
		lo: append([]float64(nil), n.lo...),
		hi: append([]float64(nil), n.hi...),
	}
	c.lo[pair] = lo
	c.hi[pair] = hi
	return c
}

// Solve implements milp.SolverAdapter. On deadline expiry it returns the best
// incumbent marked SuboptimalTimeout, or a *milp.TimeoutError when none was
// found. An LP failure that is not a proven infeasibility surfaces as a plain
// error, never as *milp.InfeasibleError.
func (s *BranchBound) Solve(ctx context.Context, m *milp.Model, opts milp.Options) (*milp.RawSolution, error) {
	ds := m.Dataset
	tol := s.IntTol
	if tol <= 0 {
		tol = m.Epsilon
	}
	if tol <= 0 {
		tol = milp.DefaultEpsilon
	}

	var deadline time.Time
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}
	expired := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return !deadline.IsZero() && time.Now().After(deadline)
	}

	numT, numS := ds.NumTransporters(), ds.NumSites()
	pairs := numT * numS
	root := bnbNode{lo: make([]float64, pairs), hi: make([]float64, pairs)}
	for i := 0; i < numT; i++ {
		for j := 0; j < numS; j++ {
			hi := ds.MaxPerAssignment
			if d := ds.Sites[j].Demand; d < hi {
				hi = d
			}
			root.hi[i*numS+j] = hi
		}
	}

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1)
		found        bool
		rootFeasible bool
		nodes        int
		timedOut     bool
	)

	stack := []bnbNode{root}
	for len(stack) > 0 {
		if expired() {
			timedOut = true
			break
		}
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		obj, x, err := solveNodeLP(ds, node.lo, node.hi)
		if err != nil {
			if errors.Is(err, errLPInfeasible) {
				continue
			}
			// A numerical failure is a solver fault, never a proof about
			// the instance.
			return nil, err
		}
		if nodes == 1 {
			rootFeasible = true
		}
		if found && obj >= incumbentObj-1e-12 {
			continue
		}

		// Branch on the pair deepest inside the forbidden window.
		branch := -1
		worst := tol
		for p := 0; p < pairs; p++ {
			if x[p] <= tol || x[p] >= ds.MinPerAssignment-tol {
				continue
			}
			if d := math.Min(x[p], ds.MinPerAssignment-x[p]); d > worst {
				worst = d
				branch = p
			}
		}
		if branch < 0 {
			cand, candObj := exactObjective(ds, x, tol)
			if !found || candObj < incumbentObj {
				incumbent, incumbentObj, found = cand, candObj, true
			}
			continue
		}

		off := node.child(branch, node.lo[branch], 0)
		if ds.MinPerAssignment > node.hi[branch] {
			// The window cannot reach the minimum; only off survives.
			stack = append(stack, off)
			continue
		}
		on := node.child(branch, ds.MinPerAssignment, node.hi[branch])
		if x[branch] >= ds.MinPerAssignment/2 {
			stack = append(stack, off, on)
		} else {
			stack = append(stack, on, off)
		}
	}

	if opts.Verbose {
		log.Printf("bnb: nodes=%d found=%v objective=%g timedOut=%v", nodes, found, incumbentObj, timedOut)
	}

	if !found {
		if timedOut {
			return nil, &milp.TimeoutError{Limit: opts.TimeLimit}
		}
		if err := ds.CheckCapacity(); err != nil {
			return nil, err
		}
		if !rootFeasible {
			return nil, &milp.InfeasibleError{Constraint: milp.ConstraintDemandCoverage}
		}
		return nil, &milp.InfeasibleError{Constraint: milp.ConstraintAssignmentBounds}
	}

	status := milp.StatusOptimal
	if timedOut {
		status = milp.StatusSuboptimalTimeout
	}
	return rawFromPairs(m, incumbent, incumbentObj, status, tol), nil
}

// exactObjective recomputes a leaf's objective from its allocations alone;
// the relaxation's deviation columns are discarded. Allocations within tol of
// zero are snapped to zero.
func exactObjective(ds *milp.Dataset, x []float64, tol float64) ([]float64, float64) {
	numT, numS := ds.NumTransporters(), ds.NumSites()
	out := append([]float64(nil), x...)
	for p := range out {
		if out[p] < tol {
			out[p] = 0
		}
	}
	var obj float64
	for i := 0; i < numT; i++ {
		var tons, rev float64
		for j := 0; j < numS; j++ {
			tons += out[i*numS+j]
			rev += out[i*numS+j] * ds.Sites[j].Rate
		}
		obj += ds.WeightTonnage*math.Abs(tons-ds.TargetTons(i)) +
			ds.WeightRevenue*math.Abs(rev-ds.TargetRevenue(i))
	}
	return out, obj
}

// rawFromPairs expands a per-pair allocation into the full model column
// order, deriving the indicators from the allocations and the deviation
// columns from the recomputed aggregates.
func rawFromPairs(m *milp.Model, x []float64, obj float64, status milp.Status, tol float64) *milp.RawSolution {
	ds := m.Dataset
	numT, numS := ds.NumTransporters(), ds.NumSites()
	vals := make([]float64, m.NumVars())
	for i := 0; i < numT; i++ {
		var tons, rev float64
		for j := 0; j < numS; j++ {
			p := i*numS + j
			vals[m.XIndex(i, j)] = x[p]
			if x[p] > tol {
				vals[m.YIndex(i, j)] = 1
			}
			tons += x[p]
			rev += x[p] * ds.Sites[j].Rate
		}
		vals[m.UIndex(i)] = math.Abs(tons - ds.TargetTons(i))
		vals[m.VIndex(i)] = math.Abs(rev - ds.TargetRevenue(i))
	}
	return &milp.RawSolution{Status: status, ColValues: vals, Objective: obj}
}

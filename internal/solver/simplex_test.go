package solver

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestBoundedSimplexRespectsUpperBounds(t *testing.T) {
	// min -x0 - x1 subject to x0 + x1 + s = 10, 0 <= x0 <= 4. The optimum
	// drives the slack to zero with x0 pinned at its bound, objective -10.
	c := []float64{-1, -1, 0}
	a := mat.NewDense(1, 3, []float64{1, 1, 1})
	b := []float64{10}
	up := []float64{4, math.Inf(1), math.Inf(1)}
	obj, x, err := boundedSimplex(c, a, b, up)
	if err != nil {
		t.Fatalf("boundedSimplex: %v", err)
	}
	if math.Abs(obj+10) > 1e-9 {
		t.Fatalf("objective: got %v, want -10", obj)
	}
	if x[0] > 4+1e-9 {
		t.Fatalf("x0 exceeds its bound: %v", x[0])
	}
	if math.Abs(x[0]+x[1]-10) > 1e-9 {
		t.Fatalf("constraint violated: x0+x1 = %v", x[0]+x[1])
	}
}

func TestBoundedSimplexNegativeRHS(t *testing.T) {
	// min x0 subject to -x0 + s = -3, so x0 >= 3.
	c := []float64{1, 0}
	a := mat.NewDense(1, 2, []float64{-1, 1})
	b := []float64{-3}
	up := []float64{math.Inf(1), math.Inf(1)}
	obj, x, err := boundedSimplex(c, a, b, up)
	if err != nil {
		t.Fatalf("boundedSimplex: %v", err)
	}
	if math.Abs(obj-3) > 1e-9 || math.Abs(x[0]-3) > 1e-9 {
		t.Fatalf("got obj %v x0 %v, want 3", obj, x[0])
	}
}

func TestBoundedSimplexInfeasible(t *testing.T) {
	// x0 + x1 = 5 with both columns capped at 2 cannot be satisfied.
	c := []float64{0, 0}
	a := mat.NewDense(1, 2, []float64{1, 1})
	b := []float64{5}
	up := []float64{2, 2}
	_, _, err := boundedSimplex(c, a, b, up)
	if !errors.Is(err, errLPInfeasible) {
		t.Fatalf("want errLPInfeasible, got %v", err)
	}
}

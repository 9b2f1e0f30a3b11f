package solver

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cargoalloc/internal/milp"
)

func buildModel(t *testing.T, sites []milp.Site, transporters []milp.Transporter, minPer, maxPer, alpha, beta float64) *milp.Model {
	t.Helper()
	ds, err := milp.NewDataset(sites, transporters, minPer, maxPer, alpha, beta)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	m, err := milp.Build(ds)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestSolveBalancedScenario(t *testing.T) {
	// 2 sites (20@2, 30@3), 2 transporters at 50% each, assignments in
	// [5,30]. The perfect split x = [[10,15],[10,15]] hits both targets
	// exactly, so the optimum is zero deviation.
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}, {Demand: 30, Rate: 3}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		5, 30, 1, 0.001,
	)
	raw, err := NewBranchBound().Solve(context.Background(), m, milp.Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if raw.Status != milp.StatusOptimal {
		t.Fatalf("status: got %v", raw.Status)
	}
	if raw.Objective > 1e-6 {
		t.Fatalf("objective: got %v, want 0", raw.Objective)
	}
	res, err := milp.Extract(m, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i, ta := range res.Transporters {
		if math.Abs(ta.AssignedTons-25) > 1e-6 {
			t.Fatalf("transporter %d tons: got %v, want 25", i, ta.AssignedTons)
		}
		if math.Abs(ta.AssignedRevenue-65) > 1e-6 {
			t.Fatalf("transporter %d revenue: got %v, want 65", i, ta.AssignedRevenue)
		}
	}
}

func TestSolveHonorsMinimumAssignment(t *testing.T) {
	// One 20-ton site, two equal transporters, but the minimum assignment
	// of 15 forbids a 10/10 split: one transporter must take everything.
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 1}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		15, 30, 1, 0,
	)
	raw, err := NewBranchBound().Solve(context.Background(), m, milp.Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	res, err := milp.Extract(m, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Tonnage deviation is 10 for each transporter whichever carries the
	// load, so the optimum objective is 20.
	if math.Abs(raw.Objective-20) > 1e-6 {
		t.Fatalf("objective: got %v, want 20", raw.Objective)
	}
	var carriers int
	for i := range res.Matrix {
		switch x := res.Matrix[i][0]; {
		case x == 0:
		case math.Abs(x-20) <= 1e-6:
			carriers++
		default:
			t.Fatalf("transporter %d carries %v, want 0 or 20", i, x)
		}
	}
	if carriers != 1 {
		t.Fatalf("want exactly one carrier, got %d", carriers)
	}
}

func TestSolveZeroDemandSite(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}, {Demand: 0, Rate: 7}},
		[]milp.Transporter{{Quota: 1}},
		5, 30, 1, 0.001,
	)
	raw, err := NewBranchBound().Solve(context.Background(), m, milp.Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	res, err := milp.Extract(m, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Matrix[0][1] != 0 {
		t.Fatalf("zero-demand site received %v tons", res.Matrix[0][1])
	}
	if math.Abs(res.Matrix[0][0]-20) > 1e-6 {
		t.Fatalf("site 0: got %v, want 20", res.Matrix[0][0])
	}
}

func TestSolveInfeasible(t *testing.T) {
	// A single site whose demand exceeds what both transporters together
	// may carry there.
	m := buildModel(t,
		[]milp.Site{{Demand: 100, Rate: 1}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		5, 30, 1, 0.001,
	)
	_, err := NewBranchBound().Solve(context.Background(), m, milp.Options{})
	var ie *milp.InfeasibleError
	if !errors.As(err, &ie) {
		t.Fatalf("want InfeasibleError, got %v", err)
	}
	if ie.Constraint != milp.ConstraintDemandCoverage {
		t.Fatalf("constraint class: got %q", ie.Constraint)
	}
}

func TestSolveTimeLimitNoIncumbent(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}, {Demand: 30, Rate: 3}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		5, 30, 1, 0.001,
	)
	// An already-expired deadline: the solver must fail fast with a typed
	// timeout, never block or fabricate an allocation.
	_, err := NewBranchBound().Solve(context.Background(), m, milp.Options{TimeLimit: time.Nanosecond})
	var te *milp.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("want TimeoutError, got %v", err)
	}
}

func TestSolveCancelledContext(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}},
		[]milp.Transporter{{Quota: 1}},
		5, 30, 1, 0.001,
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBranchBound().Solve(ctx, m, milp.Options{TimeLimit: time.Minute})
	var te *milp.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("want TimeoutError, got %v", err)
	}
}

func TestSolveProductionScaleInstance(t *testing.T) {
	// Eight delivery sites and eighteen transporters with assignments
	// bounded to [10, 50] tons. Each positive demand exceeds the minimum
	// and total capacity covers the largest site, so a feasible allocation
	// exists and the solver must return one rather than report
	// infeasibility.
	demands := []float64{196.562, 495.076, 254.053, 103.664, 149.648, 343.098, 0, 147.738}
	rates := []float64{50.44, 48.88, 43.68, 44.20, 26.52, 33.80, 21.84, 18.20}
	quotas := []float64{
		0.068, 0.049, 0.067, 0.041, 0.053, 0.069,
		0.047, 0.047, 0.044, 0.037, 0.055, 0.048,
		0.069, 0.069, 0.069, 0.066, 0.054, 0.045,
	}
	sites := make([]milp.Site, len(demands))
	for j := range demands {
		sites[j] = milp.Site{Demand: demands[j], Rate: rates[j]}
	}
	transporters := make([]milp.Transporter, len(quotas))
	for i := range quotas {
		transporters[i] = milp.Transporter{Quota: quotas[i]}
	}
	m := buildModel(t, sites, transporters, 10, 50, 1, 0.001)

	raw, err := NewBranchBound().Solve(context.Background(), m, milp.Options{TimeLimit: 20 * time.Second})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if raw.Status != milp.StatusOptimal && raw.Status != milp.StatusSuboptimalTimeout {
		t.Fatalf("status: got %v", raw.Status)
	}
	res, err := milp.Extract(m, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var total float64
	for _, ta := range res.Transporters {
		total += ta.AssignedTons
	}
	want := m.Dataset.TotalDemand()
	if math.Abs(total-want) > 1e-3 {
		t.Fatalf("assigned tons: got %v, want %v", total, want)
	}
	for i, row := range res.Matrix {
		for j, x := range row {
			if x > 1e-6 && (x < 10-1e-6 || x > 50+1e-6) {
				t.Fatalf("assignment [%d][%d] = %v outside [10, 50]", i, j, x)
			}
		}
	}
}

func TestRegistry(t *testing.T) {
	if _, err := New(""); err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, err := New("bnb"); err != nil {
		t.Fatalf("bnb: %v", err)
	}
	if _, err := New("cbc"); err != nil {
		t.Fatalf("cbc: %v", err)
	}
	if _, err := New("gurobi"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

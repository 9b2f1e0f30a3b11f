package milp

import (
	"context"
	"time"
)

// Status classifies the outcome of a solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusSuboptimalTimeout
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusSuboptimalTimeout:
		return "suboptimal_timeout"
	case StatusInfeasible:
		return "infeasible"
	}
	return "unknown"
}

// RawSolution is the untyped variable assignment returned by a solver backend.
// ColValues is indexed like Model.Vars. A StatusSuboptimalTimeout solution is
// the best incumbent found before the time limit; it is feasible but not
// proven optimal.
type RawSolution struct {
	Status    Status
	ColValues []float64
	Objective float64
}

// Options configure a single solver call.
type Options struct {
	// TimeLimit bounds the solve; zero means no limit. On expiry the
	// adapter returns either a best incumbent marked SuboptimalTimeout or
	// a *TimeoutError. It must never block indefinitely.
	TimeLimit time.Duration
	Verbose   bool
}

// SolverAdapter is the external collaborator that searches the model. A solve
// is a single synchronous call: it must return a feasible, integer-valid
// assignment within the model's tolerance, or report infeasibility or timeout
// explicitly via *InfeasibleError / *TimeoutError. Adapters must not retain or
// mutate the Model.
type SolverAdapter interface {
	Solve(ctx context.Context, m *Model, opts Options) (*RawSolution, error)
}

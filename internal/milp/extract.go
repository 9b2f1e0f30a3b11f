package milp

import (
	"fmt"
	"math"
)

// TransporterAllocation is the per-transporter line of an AllocationResult.
type TransporterAllocation struct {
	TargetTons       float64 `json:"targetTons"`
	AssignedTons     float64 `json:"assignedTons"`
	TargetRevenue    float64 `json:"targetRevenue"`
	AssignedRevenue  float64 `json:"assignedRevenue"`
	TonnageDeviation float64 `json:"tonnageDeviation"`
	RevenueDeviation float64 `json:"revenueDeviation"`
}

// AllocationResult is the validated, reconciled allocation report. It is
// produced once per successful solve and immutable thereafter.
type AllocationResult struct {
	Status       Status                  `json:"status"`
	Objective    float64                 `json:"objective"`
	Transporters []TransporterAllocation `json:"perTransporter"`
	// Matrix[i][j] is the tonnage routed from transporter i to site j,
	// with near-zero values clamped to exactly zero.
	Matrix [][]float64 `json:"allocationMatrix"`
}

// Extract converts a raw variable assignment into a validated
// AllocationResult. All aggregates are recomputed independently of the
// solver's own deviation columns; disagreement beyond the model tolerance is a
// *ReconciliationError. Extract is deterministic: re-extracting the same raw
// assignment yields an identical result.
func Extract(m *Model, raw *RawSolution) (*AllocationResult, error) {
	if raw == nil || raw.Status == StatusInfeasible {
		return nil, &InfeasibleError{}
	}
	if len(raw.ColValues) != m.NumVars() {
		return nil, &ReconciliationError{
			Check:       "column count",
			Transporter: -1, Site: -1,
			Got: float64(len(raw.ColValues)), Want: float64(m.NumVars()),
		}
	}
	ds := m.Dataset
	n, nSites := ds.NumTransporters(), ds.NumSites()
	eps := m.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	// Reassemble the allocation matrix, clamping solver noise around zero.
	matrix := make([][]float64, n)
	for i := 0; i < n; i++ {
		matrix[i] = make([]float64, nSites)
		for j := 0; j < nSites; j++ {
			x := raw.ColValues[m.XIndex(i, j)]
			if math.Abs(x) <= eps {
				x = 0
			}
			if x < 0 {
				return nil, &ReconciliationError{Check: "negative allocation", Transporter: i, Site: j, Got: x, Want: 0}
			}
			matrix[i][j] = x
		}
	}

	// Semi-continuity: zero, or within the per-assignment window.
	for i := 0; i < n; i++ {
		for j := 0; j < nSites; j++ {
			x := matrix[i][j]
			if x == 0 {
				continue
			}
			if x < ds.MinPerAssignment-eps || x > ds.MaxPerAssignment+eps {
				return nil, &ReconciliationError{Check: "semi-continuity", Transporter: i, Site: j, Got: x, Want: ds.MinPerAssignment}
			}
		}
	}

	// Coverage: each site's demand is served exactly.
	for j := 0; j < nSites; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += matrix[i][j]
		}
		if !within(sum, ds.Sites[j].Demand, eps) {
			return nil, &ReconciliationError{Check: "demand coverage", Transporter: -1, Site: j, Got: sum, Want: ds.Sites[j].Demand}
		}
	}

	// Per-transporter aggregates, recomputed from the matrix rather than
	// trusted from the solver's u/v columns. That independence is the guard
	// against adapter bugs.
	out := &AllocationResult{
		Status:       raw.Status,
		Objective:    raw.Objective,
		Transporters: make([]TransporterAllocation, n),
		Matrix:       matrix,
	}
	var objective float64
	for i := 0; i < n; i++ {
		var tons, revenue float64
		for j := 0; j < nSites; j++ {
			tons += matrix[i][j]
			revenue += matrix[i][j] * ds.Sites[j].Rate
		}
		ta := TransporterAllocation{
			TargetTons:       ds.TargetTons(i),
			AssignedTons:     tons,
			TargetRevenue:    ds.TargetRevenue(i),
			AssignedRevenue:  revenue,
			TonnageDeviation: math.Abs(tons - ds.TargetTons(i)),
			RevenueDeviation: math.Abs(revenue - ds.TargetRevenue(i)),
		}
		// At optimum the objective pins u/v to the absolute deviations; a
		// timed-out incumbent may carry slack in them, and a zero weight
		// leaves the column unpinned, so the check applies only to
		// weighted columns of an optimal solve.
		if raw.Status == StatusOptimal {
			if u := raw.ColValues[m.UIndex(i)]; ds.WeightTonnage > 0 && !within(u, ta.TonnageDeviation, eps) {
				return nil, &ReconciliationError{Check: "tonnage deviation", Transporter: i, Site: -1, Got: u, Want: ta.TonnageDeviation}
			}
			if v := raw.ColValues[m.VIndex(i)]; ds.WeightRevenue > 0 && !within(v, ta.RevenueDeviation, eps) {
				return nil, &ReconciliationError{Check: "revenue deviation", Transporter: i, Site: -1, Got: v, Want: ta.RevenueDeviation}
			}
		}
		objective += ds.WeightTonnage*raw.ColValues[m.UIndex(i)] + ds.WeightRevenue*raw.ColValues[m.VIndex(i)]
		out.Transporters[i] = ta
	}

	if !within(objective, raw.Objective, eps) {
		return nil, &ReconciliationError{Check: "objective", Transporter: -1, Site: -1, Got: raw.Objective, Want: objective}
	}

	return out, nil
}

// within reports whether a and b agree to the given tolerance, scaled by the
// magnitude of the values so large tonnage and revenue figures are not held to
// an absolute 1e-6.
func within(a, b, eps float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= eps*scale
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "optimal":
		*s = StatusOptimal
	case "suboptimal_timeout":
		*s = StatusSuboptimalTimeout
	case "infeasible":
		*s = StatusInfeasible
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Package milp builds the cargo allocation MILP and interprets solver output.
//
// The model allocates divisible site demand (tons) to transporters so that each
// transporter's realized tonnage and revenue track its quota share as closely
// as possible. Solving is delegated to a SolverAdapter backend.
package milp

import "fmt"

// Site is a supply site with a demand to be fully served.
type Site struct {
	Demand float64 // tons, >= 0
	Rate   float64 // currency per ton, >= 0
}

// Transporter carries a quota: the prescribed fraction of total tonnage and
// revenue it should receive. Quotas need not sum to 1.
type Transporter struct {
	Quota float64 // in [0,1]
}

// Dataset is the immutable input of a solve. Construct it once, never mutate
// it afterwards; derived aggregates are computed from the input on demand so a
// Dataset literal is as valid as one from NewDataset.
type Dataset struct {
	Sites        []Site
	Transporters []Transporter

	// Per-assignment bounds: an x[i][j] is either exactly zero or within
	// [MinPerAssignment, MaxPerAssignment].
	MinPerAssignment float64
	MaxPerAssignment float64

	// Objective weights for tonnage (alpha) and revenue (beta) deviation.
	// The two deviations live on different numeric scales, hence separate
	// weights.
	WeightTonnage float64
	WeightRevenue float64
}

// NewDataset validates the inputs and returns a Dataset with defensive copies
// of the slices.
func NewDataset(sites []Site, transporters []Transporter, minPer, maxPer, alpha, beta float64) (*Dataset, error) {
	ds := &Dataset{
		Sites:            append([]Site(nil), sites...),
		Transporters:     append([]Transporter(nil), transporters...),
		MinPerAssignment: minPer,
		MaxPerAssignment: maxPer,
		WeightTonnage:    alpha,
		WeightRevenue:    beta,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Validate checks the Dataset invariants. It returns a *ValidationError
// describing the first violation found.
func (ds *Dataset) Validate() error {
	if len(ds.Sites) == 0 {
		return &ValidationError{Field: "sites", Reason: "at least one site required"}
	}
	if len(ds.Transporters) == 0 {
		return &ValidationError{Field: "transporters", Reason: "at least one transporter required"}
	}
	for j, s := range ds.Sites {
		if s.Demand < 0 {
			return &ValidationError{Field: fmt.Sprintf("sites[%d].demand", j), Reason: "must be >= 0"}
		}
		if s.Rate < 0 {
			return &ValidationError{Field: fmt.Sprintf("sites[%d].rate", j), Reason: "must be >= 0"}
		}
	}
	for i, t := range ds.Transporters {
		if t.Quota < 0 || t.Quota > 1 {
			return &ValidationError{Field: fmt.Sprintf("transporters[%d].quota", i), Reason: "must be in [0,1]"}
		}
	}
	if ds.MinPerAssignment < 0 {
		return &ValidationError{Field: "minPerAssignment", Reason: "must be >= 0"}
	}
	if ds.MinPerAssignment > ds.MaxPerAssignment {
		return &ValidationError{Field: "minPerAssignment", Reason: "must be <= maxPerAssignment"}
	}
	if ds.WeightTonnage < 0 {
		return &ValidationError{Field: "weightTonnage", Reason: "must be >= 0"}
	}
	if ds.WeightRevenue < 0 {
		return &ValidationError{Field: "weightRevenue", Reason: "must be >= 0"}
	}
	return nil
}

// NumSites returns m.
func (ds *Dataset) NumSites() int { return len(ds.Sites) }

// NumTransporters returns n.
func (ds *Dataset) NumTransporters() int { return len(ds.Transporters) }

// TotalDemand returns T, the sum of site demands in tons.
func (ds *Dataset) TotalDemand() float64 {
	var t float64
	for _, s := range ds.Sites {
		t += s.Demand
	}
	return t
}

// TotalRevenue returns R, the revenue of serving all demand at the site rates.
func (ds *Dataset) TotalRevenue() float64 {
	var r float64
	for _, s := range ds.Sites {
		r += s.Demand * s.Rate
	}
	return r
}

// TargetTons returns quota_i * T for transporter i.
func (ds *Dataset) TargetTons(i int) float64 {
	return ds.Transporters[i].Quota * ds.TotalDemand()
}

// TargetRevenue returns quota_i * R for transporter i.
func (ds *Dataset) TargetRevenue(i int) float64 {
	return ds.Transporters[i].Quota * ds.TotalRevenue()
}

// CheckCapacity is a cheap pre-solve screen for infeasibility that can be
// detected without running a solver. It returns an *InfeasibleError naming the
// demand coverage constraint when a site cannot be covered: either its demand
// exceeds what all transporters together may carry there, or the demand is
// positive but below the minimum assignment size so no combination of
// assignments can sum to it.
func (ds *Dataset) CheckCapacity() error {
	n := float64(ds.NumTransporters())
	for j, s := range ds.Sites {
		if s.Demand > n*ds.MaxPerAssignment {
			return &InfeasibleError{
				Constraint: ConstraintDemandCoverage,
				Detail:     fmt.Sprintf("site %d demand %.3f exceeds aggregate capacity %.3f", j, s.Demand, n*ds.MaxPerAssignment),
			}
		}
		if s.Demand > 0 && s.Demand < ds.MinPerAssignment {
			return &InfeasibleError{
				Constraint: ConstraintDemandCoverage,
				Detail:     fmt.Sprintf("site %d demand %.3f is below the minimum assignment %.3f", j, s.Demand, ds.MinPerAssignment),
			}
		}
	}
	return nil
}

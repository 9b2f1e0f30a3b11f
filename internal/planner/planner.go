// Package planner orchestrates a solve end to end: dataset resolution,
// feasibility prescreen, model build, solver run, reconciliation, persistence,
// and event fan-out.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cargoalloc/internal/config"
	"cargoalloc/internal/metrics"
	"cargoalloc/internal/milp"
	"cargoalloc/internal/model"
	"cargoalloc/internal/solver"
	"cargoalloc/internal/store"
)

// Planner runs allocation solves. Publish, when set, receives lifecycle
// events (solve.started, solve.completed, solve.failed) for the stream broker
// and the webhook publisher.
type Planner struct {
	Store   store.Store
	Cfg     config.SolverConfig
	Publish func(tenantID string, ev model.SolveEvent)

	// NewAdapter builds a solver adapter by backend name. Defaults to
	// solver.New; tests swap in stubs.
	NewAdapter func(name string) (milp.SolverAdapter, error)
}

func New(st store.Store, cfg config.SolverConfig) *Planner {
	return &Planner{Store: st, Cfg: cfg, NewAdapter: solver.New}
}

// Solve resolves the request's dataset, runs the MILP, reconciles and stores
// the result. Solver statuses and failures are reported through metrics and
// events either way.
func (p *Planner) Solve(ctx context.Context, req model.SolveRequest) (model.Allocation, error) {
	return p.solve(ctx, uuid.New().String(), req)
}

// SolveAsync starts the solve in the background and returns its solve id
// immediately. Progress is reported through Publish; the caller follows the
// event stream or polls the solve state.
func (p *Planner) SolveAsync(req model.SolveRequest) string {
	solveID := uuid.New().String()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.Cfg.TimeLimit()+30*time.Second)
		defer cancel()
		if _, err := p.solve(ctx, solveID, req); err != nil {
			log.Printf("solve %s failed: %v", solveID, err)
		}
	}()
	return solveID
}

func (p *Planner) solve(ctx context.Context, solveID string, req model.SolveRequest) (model.Allocation, error) {
	din, scenarioID, err := p.resolveDataset(ctx, req)
	if err != nil {
		return model.Allocation{}, err
	}
	ds, err := p.toDataset(din)
	if err != nil {
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}
	// Cheap arithmetic prescreen before the solver gets involved.
	if err := ds.CheckCapacity(); err != nil {
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}

	m, err := milp.Build(ds)
	if err != nil {
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}

	backend := req.Solver
	if backend == "" {
		backend = p.Cfg.Backend
	}
	newAdapter := p.NewAdapter
	if newAdapter == nil {
		newAdapter = solver.New
	}
	adapter, err := newAdapter(backend)
	if err != nil {
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}

	limit := p.Cfg.TimeLimit()
	if req.TimeLimitMs > 0 {
		limit = time.Duration(req.TimeLimitMs) * time.Millisecond
	}

	p.emit(req.TenantID, model.SolveEvent{
		Type: "solve.started", SolveID: solveID, ScenarioID: scenarioID,
		TS: time.Now().UTC().Format(time.RFC3339),
	})

	start := time.Now()
	raw, err := adapter.Solve(ctx, m, milp.Options{TimeLimit: limit, Verbose: p.Cfg.Verbose})
	elapsed := time.Since(start)
	if err != nil {
		metrics.Solves.WithLabelValues(backend, errStatus(err)).Inc()
		metrics.SolveDuration.WithLabelValues(backend, errStatus(err)).Observe(elapsed.Seconds())
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}

	res, err := milp.Extract(m, raw)
	if err != nil {
		metrics.Solves.WithLabelValues(backend, errStatus(err)).Inc()
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, err
	}

	status := res.Status.String()
	metrics.Solves.WithLabelValues(backend, status).Inc()
	metrics.SolveDuration.WithLabelValues(backend, status).Observe(elapsed.Seconds())
	if res.Status == milp.StatusOptimal {
		metrics.SolveObjective.Observe(res.Objective)
	}

	alloc := p.toAllocation(req.TenantID, scenarioID, backend, din, res, elapsed)
	stored, err := p.Store.InsertAllocation(ctx, alloc)
	if err != nil {
		p.fail(ctx, req.TenantID, solveID, scenarioID, err)
		return model.Allocation{}, fmt.Errorf("persist allocation: %w", err)
	}

	p.emit(req.TenantID, model.SolveEvent{
		Type: "solve.completed", SolveID: solveID, ScenarioID: scenarioID,
		AllocationID: stored.ID, Status: status,
		TS: time.Now().UTC().Format(time.RFC3339),
		Payload: map[string]any{
			"objective":  res.Objective,
			"durationMs": elapsed.Milliseconds(),
		},
	})
	return stored, nil
}

func (p *Planner) resolveDataset(ctx context.Context, req model.SolveRequest) (model.DatasetIn, string, error) {
	if req.ScenarioID != "" && req.Dataset != nil {
		return model.DatasetIn{}, "", &milp.ValidationError{Field: "scenarioId", Reason: "scenarioId and dataset are mutually exclusive"}
	}
	if req.ScenarioID != "" {
		s, err := p.Store.GetScenario(ctx, req.TenantID, req.ScenarioID)
		if err != nil {
			return model.DatasetIn{}, "", err
		}
		return s.Dataset, s.ID, nil
	}
	if req.Dataset == nil {
		return model.DatasetIn{}, "", &milp.ValidationError{Field: "dataset", Reason: "one of scenarioId or dataset is required"}
	}
	return *req.Dataset, "", nil
}

// toDataset converts the wire shape into the solver's dataset, filling in
// configured default weights where the caller left them unset.
func (p *Planner) toDataset(in model.DatasetIn) (*milp.Dataset, error) {
	sites := make([]milp.Site, len(in.Sites))
	for j, s := range in.Sites {
		sites[j] = milp.Site{Demand: s.DemandTons, Rate: s.RatePerTon}
	}
	transporters := make([]milp.Transporter, len(in.Transporters))
	for i, tr := range in.Transporters {
		transporters[i] = milp.Transporter{Quota: tr.Quota}
	}
	alpha := p.Cfg.WeightTonnage
	if in.WeightTonnage != nil {
		alpha = *in.WeightTonnage
	}
	beta := p.Cfg.WeightRevenue
	if in.WeightRevenue != nil {
		beta = *in.WeightRevenue
	}
	return milp.NewDataset(sites, transporters, in.MinPerAssignment, in.MaxPerAssignment, alpha, beta)
}

func (p *Planner) toAllocation(tenantID, scenarioID, backend string, din model.DatasetIn, res *milp.AllocationResult, elapsed time.Duration) model.Allocation {
	per := make([]model.TransporterAllocation, len(res.Transporters))
	var tons, revenue float64
	for i, tr := range res.Transporters {
		name := ""
		if i < len(din.Transporters) {
			name = din.Transporters[i].Name
		}
		per[i] = model.TransporterAllocation{
			Transporter:      i,
			Name:             name,
			AssignedTons:     tr.AssignedTons,
			AssignedRevenue:  tr.AssignedRevenue,
			TargetTons:       tr.TargetTons,
			TargetRevenue:    tr.TargetRevenue,
			TonnageDeviation: tr.TonnageDeviation,
			RevenueDeviation: tr.RevenueDeviation,
		}
		tons += tr.AssignedTons
		revenue += tr.AssignedRevenue
	}
	return model.Allocation{
		TenantID:     tenantID,
		ScenarioID:   scenarioID,
		Status:       res.Status.String(),
		Objective:    res.Objective,
		TotalTons:    tons,
		TotalRevenue: revenue,
		Transporters: per,
		Matrix:       res.Matrix,
		Solver:       backend,
		DurationMs:   elapsed.Milliseconds(),
	}
}

func (p *Planner) emit(tenantID string, ev model.SolveEvent) {
	if p.Publish != nil {
		p.Publish(tenantID, ev)
	}
}

func (p *Planner) fail(ctx context.Context, tenantID, solveID, scenarioID string, err error) {
	p.emit(tenantID, model.SolveEvent{
		Type: "solve.failed", SolveID: solveID, ScenarioID: scenarioID,
		Status:  errStatus(err),
		TS:      time.Now().UTC().Format(time.RFC3339),
		Payload: map[string]any{"error": err.Error()},
	})
}

// errStatus maps typed solve failures onto low-cardinality metric labels.
func errStatus(err error) string {
	var (
		infeasible *milp.InfeasibleError
		timeout    *milp.TimeoutError
		reconcile  *milp.ReconciliationError
		invalid    *milp.ValidationError
	)
	switch {
	case errors.As(err, &infeasible):
		return milp.StatusInfeasible.String()
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &reconcile):
		return "reconciliation_error"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}

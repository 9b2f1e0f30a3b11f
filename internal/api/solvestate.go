package api

import (
	"sync"

	"cargoalloc/internal/model"
)

// SolveState holds the latest known lifecycle state for a solve.
type SolveState struct {
	Tenant       string         `json:"tenantId"`
	SolveID      string         `json:"solveId"`
	Phase        string         `json:"phase"`
	Status       string         `json:"status,omitempty"`
	ScenarioID   string         `json:"scenarioId,omitempty"`
	AllocationID string         `json:"allocationId,omitempty"`
	TS           string         `json:"ts"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// SolveStateCache stores latest solve states per tenant/solve.
type SolveStateCache struct {
	mu sync.Mutex
	// key: tenant|solveId
	m map[string]SolveState
}

// NewSolveStateCache constructs a SolveStateCache.
func NewSolveStateCache() *SolveStateCache { return &SolveStateCache{m: map[string]SolveState{}} }

func (c *SolveStateCache) key(tenant, solveID string) string {
	return tenant + "|" + solveID
}

// Upsert records the newest lifecycle event for a solve.
func (c *SolveStateCache) Upsert(tenant string, ev model.SolveEvent) {
	if tenant == "" || ev.SolveID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(tenant, ev.SolveID)] = SolveState{
		Tenant:       tenant,
		SolveID:      ev.SolveID,
		Phase:        ev.Type,
		Status:       ev.Status,
		ScenarioID:   ev.ScenarioID,
		AllocationID: ev.AllocationID,
		TS:           ev.TS,
		Payload:      ev.Payload,
	}
}

// Get returns the latest state for a solve, if any.
func (c *SolveStateCache) Get(tenant, solveID string) (SolveState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.m[c.key(tenant, solveID)]
	return st, ok
}

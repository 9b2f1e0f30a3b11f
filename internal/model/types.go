package model

// API request/response types. The solver-facing types live in internal/milp;
// these are the wire shapes the HTTP layer accepts and returns.

// DatasetIn is the allocation problem as submitted by clients.
type DatasetIn struct {
	Sites            []SiteIn        `json:"sites"`
	Transporters     []TransporterIn `json:"transporters"`
	MinPerAssignment float64         `json:"minPerAssignment"`
	MaxPerAssignment float64         `json:"maxPerAssignment"`
	WeightTonnage    *float64        `json:"weightTonnage,omitempty"`
	WeightRevenue    *float64        `json:"weightRevenue,omitempty"`
}

type SiteIn struct {
	Name       string  `json:"name,omitempty"`
	DemandTons float64 `json:"demandTons"`
	RatePerTon float64 `json:"ratePerTon"`
}

type TransporterIn struct {
	Name  string  `json:"name,omitempty"`
	Quota float64 `json:"quota"`
}

type ScenarioIn struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Dataset     DatasetIn `json:"dataset"`
}

type Scenario struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Dataset     DatasetIn `json:"dataset"`
	Version     int       `json:"version"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	UpdatedAt   string    `json:"updatedAt,omitempty"`
}

type ScenarioPatch struct {
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Dataset     *DatasetIn `json:"dataset,omitempty"`
}

// SolveRequest runs the allocation model against a stored scenario or an
// inline dataset. Exactly one of ScenarioID and Dataset must be set.
type SolveRequest struct {
	TenantID    string     `json:"tenantId"`
	ScenarioID  string     `json:"scenarioId,omitempty"`
	Dataset     *DatasetIn `json:"dataset,omitempty"`
	Solver      string     `json:"solver,omitempty"`
	TimeLimitMs int        `json:"timeLimitMs,omitempty"`
	Async       bool       `json:"async,omitempty"`
}

// Allocation is a persisted solve outcome.
type Allocation struct {
	ID           string                  `json:"id"`
	TenantID     string                  `json:"tenantId"`
	ScenarioID   string                  `json:"scenarioId,omitempty"`
	Status       string                  `json:"status"`
	Objective    float64                 `json:"objective"`
	TotalTons    float64                 `json:"totalTons"`
	TotalRevenue float64                 `json:"totalRevenue"`
	Transporters []TransporterAllocation `json:"perTransporter"`
	Matrix       [][]float64             `json:"allocationMatrix"`
	Solver       string                  `json:"solver,omitempty"`
	DurationMs   int64                   `json:"durationMs,omitempty"`
	CreatedAt    string                  `json:"createdAt,omitempty"`
}

type TransporterAllocation struct {
	Transporter      int     `json:"transporter"`
	Name             string  `json:"name,omitempty"`
	AssignedTons     float64 `json:"assignedTons"`
	AssignedRevenue  float64 `json:"assignedRevenue"`
	TargetTons       float64 `json:"targetTons"`
	TargetRevenue    float64 `json:"targetRevenue"`
	TonnageDeviation float64 `json:"tonnageDeviation"`
	RevenueDeviation float64 `json:"revenueDeviation"`
}

// SolveEvent is what the solve stream and webhook deliveries carry.
type SolveEvent struct {
	Type         string         `json:"type"`
	SolveID      string         `json:"solveId"`
	ScenarioID   string         `json:"scenarioId,omitempty"`
	AllocationID string         `json:"allocationId,omitempty"`
	Status       string         `json:"status,omitempty"`
	TS           string         `json:"ts"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

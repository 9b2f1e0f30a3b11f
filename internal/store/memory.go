package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cargoalloc/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu          sync.Mutex
	scenarios   map[string]model.Scenario   // id -> scenario
	scenByTen   map[string][]string         // tenant -> scenario ids
	allocations map[string]model.Allocation // id -> allocation
	allocByTen  map[string][]string         // tenant -> allocation ids
	subs        map[string][]model.Subscription
	deliveries  map[string]*memDelivery
	delivByTen  map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		scenarios:   map[string]model.Scenario{},
		scenByTen:   map[string][]string{},
		allocations: map[string]model.Allocation{},
		allocByTen:  map[string][]string{},
		subs:        map[string][]model.Subscription{},
		deliveries:  map[string]*memDelivery{},
		delivByTen:  map[string][]string{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func (m *Memory) CreateScenario(ctx context.Context, tenantID string, in model.ScenarioIn) (model.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Scenario{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        in.Name,
		Description: in.Description,
		Dataset:     in.Dataset,
		Version:     1,
		CreatedAt:   nowRFC3339(),
		UpdatedAt:   nowRFC3339(),
	}
	m.scenarios[s.ID] = s
	m.scenByTen[tenantID] = append(m.scenByTen[tenantID], s.ID)
	return s, nil
}

func (m *Memory) GetScenario(ctx context.Context, tenantID, id string) (model.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok || s.TenantID != tenantID {
		return model.Scenario{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListScenarios(ctx context.Context, tenantID, cursor string, limit int) ([]model.Scenario, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.scenByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Scenario{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.scenarios[ids[i]])
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) PatchScenario(ctx context.Context, tenantID, id string, patch model.ScenarioPatch) (model.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok || s.TenantID != tenantID {
		return model.Scenario{}, ErrNotFound
	}
	if patch.Name != "" {
		s.Name = patch.Name
	}
	if patch.Description != "" {
		s.Description = patch.Description
	}
	if patch.Dataset != nil {
		s.Dataset = *patch.Dataset
	}
	s.Version++
	s.UpdatedAt = nowRFC3339()
	m.scenarios[id] = s
	return s, nil
}

func (m *Memory) DeleteScenario(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.scenarios, id)
	ids := m.scenByTen[tenantID]
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	m.scenByTen[tenantID] = out
	return nil
}

func (m *Memory) InsertAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == "" {
		a.CreatedAt = nowRFC3339()
	}
	m.allocations[a.ID] = a
	m.allocByTen[a.TenantID] = append(m.allocByTen[a.TenantID], a.ID)
	return a, nil
}

func (m *Memory) GetAllocation(ctx context.Context, tenantID, id string) (model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok || a.TenantID != tenantID {
		return model.Allocation{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAllocations(ctx context.Context, tenantID, scenarioID, cursor string, limit int) ([]model.Allocation, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.allocByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Allocation{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		a := m.allocations[ids[i]]
		if scenarioID == "" || a.ScenarioID == scenarioID {
			out = append(out, a)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{
		ID: id, TenantID: tenantID, SubscriptionID: subscriptionID,
		EventType: eventType, URL: url, Secret: secret, Payload: payload,
		Status: "pending",
	}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.delivByTen[tenantID] = append(m.delivByTen[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, ids := range m.delivByTen {
		for _, id := range ids {
			d := m.deliveries[id]
			if d == nil {
				continue
			}
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.WebhookDelivery)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.delivByTen[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

func (m *Memory) AllocationStats(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := map[string]int{}
	var tons, revenue float64
	n := 0
	for _, id := range m.allocByTen[tenantID] {
		a := m.allocations[id]
		byStatus[a.Status]++
		tons += a.TotalTons
		revenue += a.TotalRevenue
		n++
	}
	return map[string]any{
		"allocations":  n,
		"byStatus":     byStatus,
		"totalTons":    tons,
		"totalRevenue": revenue,
	}, nil
}

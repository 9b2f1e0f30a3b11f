package store

import (
	"context"
	"errors"
	"time"

	"cargoalloc/internal/model"
)

// Store is the persistence interface used by the API server and the planner.
type Store interface {
	// Scenarios
	CreateScenario(ctx context.Context, tenantID string, in model.ScenarioIn) (model.Scenario, error)
	GetScenario(ctx context.Context, tenantID, id string) (model.Scenario, error)
	ListScenarios(ctx context.Context, tenantID, cursor string, limit int) ([]model.Scenario, string, error)
	PatchScenario(ctx context.Context, tenantID, id string, patch model.ScenarioPatch) (model.Scenario, error)
	DeleteScenario(ctx context.Context, tenantID, id string) error

	// Allocations
	InsertAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error)
	GetAllocation(ctx context.Context, tenantID, id string) (model.Allocation, error)
	ListAllocations(ctx context.Context, tenantID, scenarioID, cursor string, limit int) ([]model.Allocation, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	// Metrics
	AllocationStats(ctx context.Context, tenantID string) (map[string]any, error)
}

var ErrNotFound = errors.New("not found")

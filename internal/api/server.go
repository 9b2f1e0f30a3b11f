package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"cargoalloc/internal/auth"
	"cargoalloc/internal/config"
	"cargoalloc/internal/model"
	"cargoalloc/internal/planner"
	"cargoalloc/internal/store"
	"cargoalloc/internal/webhooks"
)

type Server struct {
	Cfg     *config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Planner *planner.Planner
	States  *SolveStateCache
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	srv := &Server{
		Cfg:    cfg,
		Store:  s,
		Pub:    webhooks.NewPublisher(s),
		Auth:   auth.NewVerifierFromEnv(),
		Broker: broker,
		States: NewSolveStateCache(),
	}
	pl := planner.New(s, cfg.Solver)
	pl.Publish = srv.publishSolveEvent
	srv.Planner = pl
	return srv, nil
}

// publishSolveEvent fans a planner lifecycle event out to the stream broker,
// the solve-state cache, and (for terminal events) the webhook publisher.
func (s *Server) publishSolveEvent(tenantID string, ev model.SolveEvent) {
	data := map[string]any{
		"solveId": ev.SolveID,
		"type":    ev.Type,
		"ts":      ev.TS,
	}
	if ev.ScenarioID != "" {
		data["scenarioId"] = ev.ScenarioID
	}
	if ev.AllocationID != "" {
		data["allocationId"] = ev.AllocationID
	}
	if ev.Status != "" {
		data["status"] = ev.Status
	}
	for k, v := range ev.Payload {
		data[k] = v
	}
	s.States.Upsert(tenantID, ev)
	s.Broker.Publish(ev.SolveID, SSEEvent{Type: ev.Type, Data: data})
	if ev.Type == "solve.completed" || ev.Type == "solve.failed" {
		s.Pub.Emit(context.Background(), tenantID, ev.Type, data)
	}
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	tenant := s.getPrincipal(r).Tenant
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "cargoalloc/internal/integrations/csvdrop"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CONFIG_FILE", "")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

const datasetJSON = `{
	"sites": [
		{"name": "Harbor A", "demandTons": 20, "ratePerTon": 2},
		{"name": "Harbor B", "demandTons": 30, "ratePerTon": 3}
	],
	"transporters": [
		{"name": "north", "quota": 0.5},
		{"name": "south", "quota": 0.5}
	],
	"minPerAssignment": 5,
	"maxPerAssignment": 30
}`

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestScenarioCRUD(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"name":"q3-plan","dataset":` + datasetJSON + `}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.ScenariosHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create scenario: got %d body %s", rr.Code, rr.Body.String())
	}
	var sc struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode scenario: %v", err)
	}
	if sc.ID == "" || sc.Version != 1 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}

	// list
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/scenarios?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ScenariosHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list scenarios: got %d", rr.Code)
	}

	// get
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/scenarios/"+sc.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ScenarioByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get scenario: got %d", rr.Code)
	}

	// patch bumps version
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/v1/scenarios/"+sc.ID, bytes.NewReader([]byte(`{"name":"q3-plan-v2"}`)))
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.ScenarioByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("patch scenario: got %d body %s", rr.Code, rr.Body.String())
	}
	var patched struct {
		Version int `json:"version"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &patched)
	if patched.Version != 2 {
		t.Fatalf("patch should bump version, got %d", patched.Version)
	}

	// delete
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/scenarios/"+sc.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.ScenarioByIDHandler(rr, req)
	if rr.Code != 204 {
		t.Fatalf("delete scenario: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/scenarios/"+sc.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ScenarioByIDHandler(rr, req)
	if rr.Code != 404 {
		t.Fatalf("get deleted scenario: got %d", rr.Code)
	}
}

func TestScenarioImportCSV(t *testing.T) {
	s := newTestServer(t)
	csvBody := "kind,name,value1,value2\n" +
		"site,Harbor A,20,2.0\n" +
		"site,Harbor B,30,3.0\n" +
		"transporter,north,0.5,\n" +
		"transporter,south,0.5,\n" +
		"param,minPerAssignment,5,\n" +
		"param,maxPerAssignment,30,\n"
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios/import?name=drop-1", bytes.NewReader([]byte(csvBody)))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.ScenarioImportHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("import: got %d body %s", rr.Code, rr.Body.String())
	}
	var sc struct {
		Name    string `json:"name"`
		Dataset struct {
			Sites []struct {
				Name string `json:"name"`
			} `json:"sites"`
		} `json:"dataset"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc.Name != "drop-1" || len(sc.Dataset.Sites) != 2 {
		t.Fatalf("unexpected scenario: %s", rr.Body.String())
	}

	// unknown source name rejected
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/scenarios/import?source=edi", bytes.NewReader([]byte(csvBody)))
	req.Header.Set("X-Role", "planner")
	s.ScenarioImportHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown source: got %d", rr.Code)
	}
}

func TestSolveInlineAndReport(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"dataset":` + datasetJSON + `}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.SolveHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("solve: got %d body %s", rr.Code, rr.Body.String())
	}
	var alloc struct {
		ID        string  `json:"id"`
		Status    string  `json:"status"`
		TotalTons float64 `json:"totalTons"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &alloc); err != nil {
		t.Fatalf("decode allocation: %v", err)
	}
	if alloc.Status != "optimal" {
		t.Fatalf("status: got %s", alloc.Status)
	}
	if alloc.TotalTons < 49.999 || alloc.TotalTons > 50.001 {
		t.Fatalf("total tons: got %v", alloc.TotalTons)
	}

	// fetch it back
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/allocations/"+alloc.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AllocationByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get allocation: got %d", rr.Code)
	}

	// plain-text report
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/allocations/"+alloc.ID+"/report", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AllocationByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("report: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("report content type: %s", ct)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("Transporter | Target tons")) {
		t.Fatalf("report missing header: %s", rr.Body.String())
	}

	// list allocations
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/allocations?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AllocationsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list allocations: got %d", rr.Code)
	}
}

func TestSolveValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"ambiguous", `{"scenarioId":"sc_1","dataset":` + datasetJSON + `}`},
		{"bad solver", `{"solver":"glpk","dataset":` + datasetJSON + `}`},
		{"no sites", `{"dataset":{"sites":[],"transporters":[{"quota":1}],"maxPerAssignment":10}}`},
		{"quota over one", `{"dataset":{"sites":[{"demandTons":1,"ratePerTon":1}],"transporters":[{"quota":1.5}],"maxPerAssignment":10}}`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(tc.body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Role", "planner")
		s.SolveHandler(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d, want 400", tc.name, rr.Code)
		}
	}
}

func TestSolveAcceptsQuotasSummingAboveOne(t *testing.T) {
	// Quotas are independent shares and need not sum to 1; a 0.8/0.8 pair
	// is valid and must reach the solver, not be rejected up front.
	s := newTestServer(t)
	body := `{"dataset":{"sites":[{"demandTons":20,"ratePerTon":2},{"demandTons":30,"ratePerTon":3}],` +
		`"transporters":[{"quota":0.8},{"quota":0.8}],"minPerAssignment":5,"maxPerAssignment":30}}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "planner")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("solve: got %d, want 200: %s", rr.Code, rr.Body.String())
	}
}

func TestSolveRBAC(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"dataset":` + datasetJSON + `}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "viewer")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer solve: got %d, want 403", rr.Code)
	}
}

func TestSolveInfeasibleMapsTo422(t *testing.T) {
	s := newTestServer(t)
	// demand 100 against 2 transporters capped at 30 tons each
	body := []byte(`{"dataset":{
		"sites":[{"demandTons":100,"ratePerTon":2}],
		"transporters":[{"quota":0.5},{"quota":0.5}],
		"minPerAssignment":5,"maxPerAssignment":30}}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "planner")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("infeasible solve: got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestSolveAsyncLifecycle(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"async":true,"dataset":` + datasetJSON + `}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("async solve: got %d body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		SolveID string `json:"solveId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.SolveID == "" {
		t.Fatalf("async response: %s", rr.Body.String())
	}

	// poll state until terminal
	deadline := time.Now().Add(5 * time.Second)
	for {
		rr = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/v1/solves/"+resp.SolveID, nil)
		req.Header.Set("X-Tenant-Id", "t_test")
		s.SolveByIDHandler(rr, req)
		if rr.Code == 200 {
			var st struct {
				Phase string `json:"phase"`
			}
			_ = json.Unmarshal(rr.Body.Bytes(), &st)
			if st.Phase == "solve.completed" {
				break
			}
			if st.Phase == "solve.failed" {
				t.Fatalf("solve failed: %s", rr.Body.String())
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("solve did not finish, last state: %s", rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSolveEnqueuesWebhook(t *testing.T) {
	s := newTestServer(t)
	subBody := []byte(`{"tenantId":"t_test","url":"https://example.invalid/webhook","events":["solve.completed"],"secret":"shh"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(subBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d", rr.Code)
	}

	body := []byte(`{"dataset":` + datasetJSON + `}`)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "planner")
	s.SolveHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("solve: %d body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.WebhookDeliveriesHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	if len(dres.Items) == 0 {
		t.Fatalf("expected at least one delivery")
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests. The handler writes from its own
// goroutine, so access to the buffer is locked.
type sseRecorder struct {
	mu   sync.Mutex
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *sseRecorder) Flush() {}

func (r *sseRecorder) body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}

func TestSolveEventsSSE(t *testing.T) {
	s := newTestServer(t)
	sid := "slv_sse"
	sseReq := httptest.NewRequest(http.MethodGet, "/v1/solves/"+sid+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)
	sseReq.Header.Set("X-Tenant-Id", "t_test")

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.SolveByIDHandler(rec, sseReq)
		close(done)
	}()

	// Give handler time to subscribe and send heartbeat
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(sid, SSEEvent{Type: "solve.completed", Data: map[string]any{"solveId": sid}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.body(), []byte("event: solve.completed")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.body(), []byte("event: solve.completed")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.body())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"name":"private","dataset":` + datasetJSON + `}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_alpha")
	req.Header.Set("X-Role", "planner")
	s.ScenariosHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create scenario: %d", rr.Code)
	}
	var sc struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &sc)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/scenarios/"+sc.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_beta")
	s.ScenarioByIDHandler(rr, req)
	if rr.Code != 404 {
		t.Fatalf("cross-tenant get: got %d, want 404", rr.Code)
	}
}

package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/billing"
	"github.com/ArthurBarre/site-forge-clone/internal/cache"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/generation"
	"github.com/ArthurBarre/site-forge-clone/internal/hosting"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
	"github.com/ArthurBarre/site-forge-clone/internal/service/deploy"
	"github.com/ArthurBarre/site-forge-clone/internal/service/dns"
	"github.com/ArthurBarre/site-forge-clone/internal/service/fulfillment"
	"github.com/ArthurBarre/site-forge-clone/internal/service/payment"
	"github.com/ArthurBarre/site-forge-clone/internal/service/purchase"
	"github.com/ArthurBarre/site-forge-clone/internal/service/search"
	"github.com/ArthurBarre/site-forge-clone/internal/token"
	"github.com/ArthurBarre/site-forge-clone/internal/ws"
)

const (
	testJWTSecret     = "router-test-secret"
	testWebhookSecret = "whsec_router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu         sync.Mutex
	ownerships map[string]string
	projects   map[string]*domain.HostingProject
	orders     []*domain.DomainOrder
	payments   map[string]*domain.Payment
	events     map[string]bool
	dnsConfigs map[string]*domain.DNSConfiguration
}

func newMemStore() *memStore {
	return &memStore{
		ownerships: map[string]string{},
		projects:   map[string]*domain.HostingProject{},
		payments:   map[string]*domain.Payment{},
		events:     map[string]bool{},
		dnsConfigs: map[string]*domain.DNSConfiguration{},
	}
}

func (m *memStore) GetChatOwnership(_ context.Context, chatID string) (*domain.ChatOwnership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID, ok := m.ownerships[chatID]; ok {
		return &domain.ChatOwnership{ChatID: chatID, UserID: userID}, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) CreateHostingProject(_ context.Context, p *domain.HostingProject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ChatID]; ok {
		return repository.ErrDuplicate
	}
	m.projects[p.ChatID] = p
	return nil
}

func (m *memStore) GetHostingProjectByChat(_ context.Context, chatID string) (*domain.HostingProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[chatID]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetHostingProjectByID(_ context.Context, id string) (*domain.HostingProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpdateHostingProject(_ context.Context, update domain.HostingProjectUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[update.ChatID]
	if !ok {
		return repository.ErrNotFound
	}
	if update.DeployURL != "" {
		p.DeployURL = update.DeployURL
	}
	if update.Status != "" {
		p.Status = update.Status
	}
	if update.LastDeployedAt != nil {
		p.LastDeployedAt = update.LastDeployedAt
	}
	return nil
}

func (m *memStore) DeleteHostingProjectByChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[chatID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.projects, chatID)
	return nil
}

func (m *memStore) DeleteHostingProjectByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, p := range m.projects {
		if p.ID == id {
			delete(m.projects, chatID)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) CreateDomainOrder(_ context.Context, order *domain.DomainOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return nil
}

func (m *memStore) GetDomainOrderByDomain(_ context.Context, name string) (*domain.DomainOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].Domain == name {
			return m.orders[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) CreatePayment(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *memStore) GetPaymentByID(_ context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *memStore) RecordWebhookEvent(_ context.Context, event *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.Provider + "/" + event.EventID
	if m.events[key] {
		return repository.ErrDuplicate
	}
	m.events[key] = true
	return nil
}

func (m *memStore) MarkWebhookProcessed(context.Context, string, string, string) error {
	return nil
}

func (m *memStore) DeleteWebhookEvent(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, provider+"/"+eventID)
	return nil
}

func (m *memStore) UpsertDNSConfiguration(_ context.Context, cfg *domain.DNSConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dnsConfigs[cfg.Domain] = cfg
	return nil
}

func (m *memStore) GetDNSConfiguration(_ context.Context, name string) (*domain.DNSConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.dnsConfigs[name]; ok {
		return cfg, nil
	}
	return nil, repository.ErrNotFound
}

type failingProber struct{}

func (failingProber) Probe(context.Context, string) (bool, error) {
	return false, errors.New("whois unavailable")
}

// platformHandler fakes the generation, hosting and Stripe APIs behind
// one httptest server.
func platformHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"name":"Router Test Site","latestVersion":{"id":"v-1"}}`, r.PathValue("id"))
	})
	mux.HandleFunc("PATCH /chats/{id}", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, `{}`) })
	mux.HandleFunc("POST /deployments", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"dep-1","webUrl":"https://router-test-site.vercel.app"}`)
	})
	mux.HandleFunc("GET /deployments/{id}/logs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"logs":[]}`)
	})
	mux.HandleFunc("POST /v10/projects", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		fmt.Fprintf(w, `{"id":"prj-1","name":%q}`, payload.Name)
	})
	mux.HandleFunc("GET /v9/projects", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"projects":[]}`)
	})
	mux.HandleFunc("GET /v9/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"name":"site"}`, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /v9/projects/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"data":[]}`)
			return
		}
		fmt.Fprint(w, `{"id":"cus_test"}`)
	})
	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"pi_router","client_secret":"pi_router_secret"}`)
	})
	mux.HandleFunc("GET /v1/payment_intents/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"status":"succeeded"}`, r.PathValue("id"))
	})
	mux.HandleFunc("POST /v1/refunds", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"re_router"}`)
	})
	return mux
}

func newTestRouter(t *testing.T, store *memStore) *Router {
	t.Helper()
	backend := httptest.NewServer(platformHandler())
	t.Cleanup(backend.Close)
	logger := testLogger()

	stub := registrar.NewStub(logger)
	registry := registrar.NewRegistryWith()
	searchSvc := search.NewService(registry, failingProber{}, stub, nil, 0, logger)
	purchaseSvc := purchase.NewService(registrar.NewRegistryWith(stub), store, "test-key", logger)
	dnsSvc := dns.NewService(registrar.NewRegistryWith(stub), store, store, "76.76.19.61", logger)

	stripe := billing.NewStripe(backend.URL, "sk_test", testWebhookSecret, backend.Client(), logger)
	paypal := billing.NewPayPal("", "", "", "sandbox", "", backend.Client(), logger)
	pending := fulfillment.NewPendingPurchases(nil)
	fulfillSvc := fulfillment.NewService(purchaseSvc, dnsSvc, store, pending, logger)
	paymentSvc := payment.NewService(stripe, paypal, store, store, fulfillSvc, pending, logger)

	gen := generation.NewClient(backend.URL, "v0-key", backend.Client(), logger)
	host := hosting.NewClient(backend.URL, "vc-token", backend.Client(), logger)
	deploySvc := deploy.NewService(gen, host, store, cache.NewMemoryLocker(), ws.NewHub(), time.Minute, 3, 10*time.Millisecond, logger)

	router := NewRouter(logger, searchSvc, purchaseSvc, paymentSvc, dnsSvc, deploySvc, store, ws.NewHub(), NewMemoryRateLimiter(), testJWTSecret, nil)
	t.Cleanup(router.Close)
	return router
}

func doJSON(router *Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDomainSearch(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	rec := doJSON(router, http.MethodPost, "/api/domains/search", map[string]string{"query": "a"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short query: status = %d, want 400", rec.Code)
	}

	rec = doJSON(router, http.MethodPost, "/api/domains/search", map[string]string{"query": "MySite!"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Results   []domain.SearchResult `json:"results"`
		Total     int                   `json:"total"`
		Available int                   `json:"available"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Total != 15 || len(payload.Results) != 15 {
		t.Fatalf("total = %d, want 15", payload.Total)
	}
}

func TestDeployAndUndeploy(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	rec := doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-1", "latestVersionId": "v-1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deploy: status = %d: %s", rec.Code, rec.Body.String())
	}
	var result deploy.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.URL != "https://router-test-site.vercel.app" {
		t.Fatalf("url = %s", result.URL)
	}

	rec = doJSON(router, http.MethodGet, "/api/chats/chat-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deployed") {
		t.Fatalf("chat body missing deployment: %s", rec.Body.String())
	}

	rec = doJSON(router, http.MethodPost, "/api/undeploy", map[string]string{"chatId": "chat-1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undeploy: status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(router, http.MethodPost, "/api/undeploy", map[string]string{"chatId": "chat-1"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second undeploy: status = %d, want 404", rec.Code)
	}
}

func TestDeployMissingChatID(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"latestVersionId": "v-1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeployMissingVersionID(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	rec := doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-p"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Version ID is required for deployment") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if len(store.projects) != 0 {
		t.Fatalf("projects = %d, want 0: rejected deploy must not provision anything", len(store.projects))
	}
}

func TestDeployOwnershipEnforced(t *testing.T) {
	store := newMemStore()
	store.ownerships["chat-owned"] = "user-1"
	router := newTestRouter(t, store)

	rec := doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-owned", "latestVersionId": "v-1"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous: status = %d, want 403", rec.Code)
	}

	stranger, err := token.Generate("user-2", "other@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	rec = doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-owned", "latestVersionId": "v-1"}, map[string]string{"Authorization": "Bearer " + stranger})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger: status = %d, want 403", rec.Code)
	}

	owner, err := token.Generate("user-1", "owner@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	rec = doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-owned", "latestVersionId": "v-1"}, map[string]string{"Authorization": "Bearer " + owner})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStripeWebhookEndpoint(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	body := []byte(`{"id":"evt_router","type":"checkout.session.completed","data":{"object":{"id":"pi_x"}}}`)

	rec := doJSON(router, http.MethodPost, "/api/webhooks/stripe", nil, map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: status = %d, want 400", rec.Code)
	}

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	ts := time.Now().Unix()
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.1:5000"
	req.Header.Set("Stripe-Signature", header)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), `"received":true`) {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestDeploymentEventsSSERequiresChatID(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(router, http.MethodGet, "/api/events/deployments", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatId") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestPayPalWebhookMissingHeaders(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	rec := doJSON(router, http.MethodPost, "/api/webhooks/paypal", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchRateLimit(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	var last int
	for i := 0; i < rateLimitSearch+1; i++ {
		rec := doJSON(router, http.MethodPost, "/api/domains/search", map[string]string{"query": "ratelimited"}, nil)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after %d requests", last, rateLimitSearch+1)
	}
}

func TestDeploymentRecordCRUD(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store)

	if rec := doJSON(router, http.MethodGet, "/api/deployments/ghost", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing record: status = %d, want 404", rec.Code)
	}

	if rec := doJSON(router, http.MethodPost, "/api/deploy", map[string]string{"chatId": "chat-9", "latestVersionId": "v-1"}, nil); rec.Code != http.StatusOK {
		t.Fatalf("deploy: %d", rec.Code)
	}

	rec := doJSON(router, http.MethodPost, "/api/deployments/chat-9", map[string]string{"customDomain": "example.com"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(router, http.MethodGet, "/api/deployments/chat-9", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var record domain.HostingProject
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(router, http.MethodDelete, "/api/deployments/"+record.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec := doJSON(router, http.MethodGet, "/api/deployments/chat-9", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("after delete: status = %d, want 404", rec.Code)
	}
}

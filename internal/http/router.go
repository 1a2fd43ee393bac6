package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ArthurBarre/site-forge-clone/internal/billing"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
	"github.com/ArthurBarre/site-forge-clone/internal/service/deploy"
	"github.com/ArthurBarre/site-forge-clone/internal/service/dns"
	"github.com/ArthurBarre/site-forge-clone/internal/service/payment"
	"github.com/ArthurBarre/site-forge-clone/internal/service/purchase"
	"github.com/ArthurBarre/site-forge-clone/internal/service/search"
	"github.com/ArthurBarre/site-forge-clone/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateLimitSearch    = 30
	rateLimitDeploy    = 12
	rateLimitPurchase  = 12
	rateLimitWebhook   = 120
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxWebhookBody     = 1 << 20
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	search    *search.Service
	purchase  *purchase.Service
	payment   *payment.Service
	dns       *dns.Service
	deploy    *deploy.Service
	ownership repository.ChatOwnershipRepository
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	jwtSecret string
	dbHealth  func(context.Context) error

	metricsState
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, searchSvc *search.Service, purchaseSvc *purchase.Service, paymentSvc *payment.Service, dnsSvc *dns.Service, deploySvc *deploy.Service, ownership repository.ChatOwnershipRepository, hub *ws.Hub, limiter RateLimiter, jwtSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		search:    searchSvc,
		purchase:  purchaseSvc,
		payment:   paymentSvc,
		dns:       dnsSvc,
		deploy:    deploySvc,
		ownership: ownership,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		jwtSecret: strings.TrimSpace(jwtSecret),
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/chats/", r.audit("/api/chats/{chatId}", r.optionalAuth(r.withRateLimit("/api/chats/{chatId}", rateLimitRead, rateWindowDefault, r.rateLimitKeyActor, r.handleChat))))
	r.mux.HandleFunc("/api/deploy", r.audit("/api/deploy", r.optionalAuth(r.withRateLimit("/api/deploy", rateLimitDeploy, rateWindowDefault, r.rateLimitKeyActor, r.handleDeploy))))
	r.mux.HandleFunc("/api/undeploy", r.audit("/api/undeploy", r.optionalAuth(r.withRateLimit("/api/undeploy", rateLimitDeploy, rateWindowDefault, r.rateLimitKeyActor, r.handleUndeploy))))
	r.mux.HandleFunc("/api/deployments/", r.audit("/api/deployments/{key}", r.optionalAuth(r.withRateLimit("/api/deployments/{key}", rateLimitRead, rateWindowDefault, r.rateLimitKeyActor, r.handleDeployments))))
	r.mux.HandleFunc("/api/domains/search", r.audit("/api/domains/search", r.withRateLimit("/api/domains/search", rateLimitSearch, rateWindowDefault, rateLimitKeyIP, r.handleDomainSearch)))
	r.mux.HandleFunc("/api/domains/purchase", r.audit("/api/domains/purchase", r.optionalAuth(r.withRateLimit("/api/domains/purchase", rateLimitPurchase, rateWindowDefault, r.rateLimitKeyActor, r.handleDomainPurchase))))
	r.mux.HandleFunc("/api/payments", r.audit("/api/payments", r.optionalAuth(r.withRateLimit("/api/payments", rateLimitPurchase, rateWindowDefault, r.rateLimitKeyActor, r.handlePayments))))
	r.mux.HandleFunc("/api/webhooks/stripe", r.audit("/api/webhooks/stripe", r.withRateLimit("/api/webhooks/stripe", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleStripeWebhook)))
	r.mux.HandleFunc("/api/webhooks/paypal", r.audit("/api/webhooks/paypal", r.withRateLimit("/api/webhooks/paypal", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handlePayPalWebhook)))
	r.mux.HandleFunc("/api/ws/deployments", r.audit("/api/ws/deployments", r.withRateLimit("/api/ws/deployments", rateLimitWebsocket, rateWindowDefault, rateLimitKeyIP, r.handleDeploymentsWS)))
	r.mux.HandleFunc("/api/events/deployments", r.audit("/api/events/deployments", r.withRateLimit("/api/events/deployments", rateLimitWebsocket, rateWindowDefault, rateLimitKeyIP, r.handleDeploymentsSSE)))
}

// handleDeploymentsSSE is the EventSource flavor of the deployment
// stream for clients that cannot speak websockets.
func (r *Router) handleDeploymentsSSE(w http.ResponseWriter, req *http.Request) {
	chatID := req.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(chatID, client)
	defer func() {
		r.hub.Unregister(chatID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleChat returns the chat's deployment record.
func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	chatID := strings.TrimPrefix(req.URL.Path, "/api/chats/")
	if chatID == "" || strings.Contains(chatID, "/") {
		r.notFound(w)
		return
	}
	// Reads stay open to anonymous callers; an authenticated caller who
	// is not the owner is still rejected.
	if info, ok := authInfoFromContext(req.Context()); ok {
		if ownership, err := r.ownership.GetChatOwnership(req.Context(), chatID); err == nil && ownership.UserID != info.UserID {
			writeError(w, http.StatusForbidden, "chat belongs to another user")
			return
		}
	}
	overview, err := r.deploy.Overview(req.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// authorizeChat enforces ownership when the chat has a recorded owner.
// Unowned chats stay open, matching the pre-auth behavior.
func (r *Router) authorizeChat(req *http.Request, chatID string) (int, string) {
	ownership, err := r.ownership.GetChatOwnership(req.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ""
		}
		return http.StatusInternalServerError, "ownership lookup failed"
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok || info.UserID != ownership.UserID {
		return http.StatusForbidden, "chat belongs to another user"
	}
	return 0, ""
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ChatID          string `json:"chatId"`
		LatestVersionID string `json:"latestVersionId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}
	if payload.LatestVersionID == "" {
		writeError(w, http.StatusBadRequest, deploy.ErrMissingVersionID.Error())
		return
	}
	if status, msg := r.authorizeChat(req, payload.ChatID); status != 0 {
		writeError(w, status, msg)
		return
	}
	result, err := r.deploy.Trigger(req.Context(), payload.ChatID, payload.LatestVersionID)
	if err != nil {
		switch {
		case errors.Is(err, deploy.ErrMissingVersionID):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, deploy.ErrDeployInProgress):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleUndeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ChatID string `json:"chatId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}
	if status, msg := r.authorizeChat(req, payload.ChatID); status != 0 {
		writeError(w, status, msg)
		return
	}
	result, err := r.deploy.Undeploy(req.Context(), payload.ChatID)
	if err != nil {
		if errors.Is(err, deploy.ErrNotDeployed) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDeployments serves the mapping records directly. The key is a
// chat id for GET and POST; DELETE takes the record id and removes the
// row without touching the hosting platform.
func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	key := strings.TrimPrefix(req.URL.Path, "/api/deployments/")
	if key == "" || strings.Contains(key, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		record, err := r.deploy.Status(req.Context(), key)
		if errors.Is(err, repository.ErrNotFound) {
			record, err = r.deploy.RecordByID(req.Context(), key)
		}
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodPost:
		var payload struct {
			DeployURL    string `json:"deployUrl"`
			CustomDomain string `json:"customDomain"`
			Status       string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		update := domain.HostingProjectUpdate{
			ChatID:       key,
			DeployURL:    payload.DeployURL,
			CustomDomain: payload.CustomDomain,
			Status:       payload.Status,
		}
		if err := r.deploy.UpdateRecord(req.Context(), update); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "deployment not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		if err := r.deploy.DeleteRecord(req.Context(), key); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "deployment not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDomainSearch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	response, err := r.search.Search(req.Context(), payload.Query)
	if err != nil {
		if errors.Is(err, search.ErrQueryTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (r *Router) handleDomainPurchase(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ChatID string `json:"chatId"`
		domain.PurchaseRequest
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.purchase.Purchase(req.Context(), payload.ChatID, payload.PurchaseRequest)
	if err != nil {
		switch {
		case errors.Is(err, registrar.ErrNoProviderForTLD):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, purchase.ErrPurchaseFailed):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handlePayments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload payment.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.payment.Create(req.Context(), payload)
	if err != nil {
		if errors.Is(err, payment.ErrNoPaymentProvider) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	signature := req.Header.Get("Stripe-Signature")
	if err := r.payment.HandleStripeWebhook(req.Context(), signature, body); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (r *Router) handlePayPalWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	headers := billing.WebhookHeaders{
		TransmissionID:   req.Header.Get("Paypal-Transmission-Id"),
		TransmissionTime: req.Header.Get("Paypal-Transmission-Time"),
		TransmissionSig:  req.Header.Get("Paypal-Transmission-Sig"),
		CertURL:          req.Header.Get("Paypal-Cert-Url"),
		AuthAlgo:         req.Header.Get("Paypal-Auth-Algo"),
	}
	if headers.TransmissionID == "" {
		writeError(w, http.StatusBadRequest, "missing transmission headers")
		return
	}
	if err := r.payment.HandlePayPalWebhook(req.Context(), headers, body); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	chatID := req.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(chatID, client)
	go func() {
		defer func() {
			r.hub.Unregister(chatID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/api/webhooks/") {
			actor = "processor"
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, route, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

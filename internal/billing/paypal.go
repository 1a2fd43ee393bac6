package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// PayPal wraps the PayPal Orders v2 API with cached OAuth tokens.
type PayPal struct {
	clientID  string
	secret    string
	webhookID string
	baseURL   string
	http      *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPal builds a client for the environment's endpoint. A non-empty
// apiURL overrides the environment-derived one.
func NewPayPal(apiURL, clientID, secret, environment, webhookID string, client *http.Client, logger *slog.Logger) *PayPal {
	base := apiURL
	if base == "" {
		base = "https://api-m.sandbox.paypal.com"
		if environment == "live" || environment == "production" {
			base = "https://api-m.paypal.com"
		}
	}
	return &PayPal{
		clientID:  clientID,
		secret:    secret,
		webhookID: webhookID,
		baseURL:   base,
		http:      client,
		logger:    logger.With("payment_provider", "paypal"),
	}
}

func (p *PayPal) Name() string  { return domain.PaymentProviderPayPal }
func (p *PayPal) Enabled() bool { return p.clientID != "" && p.secret != "" }

// token fetches and caches an OAuth access token, refreshing a minute
// before expiry.
func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("paypal oauth error: %s", resp.Status)
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	p.accessToken = parsed.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func (p *PayPal) do(ctx context.Context, method, path string, payload, out any) error {
	tok, err := p.token(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paypal api error: %s: %s", resp.Status, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreatePayment opens a checkout order carrying the domain metadata in
// custom_id so the capture webhook can recover it.
func (p *PayPal) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	if !p.Enabled() {
		return nil, ErrNotConfigured
	}
	customID, err := json.Marshal(map[string]string{
		"domain":     req.Domain,
		"customerId": req.CustomerID,
		"chatId":     req.ChatID,
	})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"description": req.Description,
			"custom_id":   string(customID),
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         fmt.Sprintf("%.2f", req.Amount),
			},
		}},
	}
	var order struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return nil, err
	}
	result := &domain.PaymentResult{
		Success:   true,
		PaymentID: order.ID,
		Provider:  p.Name(),
		Status:    domain.PaymentStatusPending,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			result.ApprovalURL = link.Href
		}
	}
	return result, nil
}

// CaptureOrder finalizes an approved order.
func (p *PayPal) CaptureOrder(ctx context.Context, orderID string) error {
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	return p.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// Refund reverses a captured payment in full.
func (p *PayPal) Refund(ctx context.Context, captureID string) error {
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	return p.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// WebhookHeaders is the transmission metadata PayPal signs webhooks with.
type WebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// VerifyWebhook asks PayPal's verification endpoint whether the
// notification is authentic. PayPal does not publish an offline scheme
// for REST webhooks.
func (p *PayPal) VerifyWebhook(ctx context.Context, headers WebhookHeaders, body []byte) error {
	if p.webhookID == "" {
		return ErrNotConfigured
	}
	payload := map[string]any{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"transmission_sig":  headers.TransmissionSig,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var parsed struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &parsed); err != nil {
		return err
	}
	if parsed.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature
	}
	return nil
}

package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// GoDaddy wraps the GoDaddy v1 REST API.
type GoDaddy struct {
	cfg     domain.ProviderConfig
	enabled bool
	http    *http.Client
	logger  *slog.Logger
}

func NewGoDaddy(apiURL, apiKey string, client *http.Client, logger *slog.Logger) *GoDaddy {
	return &GoDaddy{
		cfg: domain.ProviderConfig{
			Name:          "GoDaddy",
			APIURL:        apiURL,
			APIKey:        apiKey,
			SupportedTLDs: []string{".com", ".net", ".org"},
			Pricing: map[string]domain.Price{
				".com": {Registration: 11.99, Renewal: 17.99, Currency: "USD"},
				".net": {Registration: 13.99, Renewal: 18.99, Currency: "USD"},
				".org": {Registration: 11.99, Renewal: 17.99, Currency: "USD"},
			},
		},
		enabled: apiKey != "",
		http:    client,
		logger:  logger.With("provider", "godaddy"),
	}
}

func (g *GoDaddy) Name() string              { return g.cfg.Name }
func (g *GoDaddy) Enabled() bool             { return g.enabled }
func (g *GoDaddy) Supports(tld string) bool  { return g.cfg.Supports(tld) }

func (g *GoDaddy) Price(tld string) (domain.Price, bool) {
	p, ok := g.cfg.Pricing[tld]
	return p, ok
}

func (g *GoDaddy) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.APIURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "sso-key "+g.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("godaddy api error: %s: %s", resp.Status, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CheckAvailability calls GET /v1/domains/available.
func (g *GoDaddy) CheckAvailability(ctx context.Context, fqdn string) (bool, error) {
	_, tld := SplitDomain(fqdn)
	if !g.Supports(tld) {
		return false, ErrTLDNotSupported
	}
	var parsed struct {
		Available bool   `json:"available"`
		Domain    string `json:"domain"`
	}
	path := "/v1/domains/available?domain=" + url.QueryEscape(fqdn)
	if err := g.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return false, err
	}
	return parsed.Available, nil
}

// Purchase calls POST /v1/domains/purchase with the registrant as every
// contact role, which is what the consumer flow does.
func (g *GoDaddy) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	_, tld := SplitDomain(req.Domain)
	pricing, ok := g.Price(tld)
	if !ok {
		return nil, ErrTLDNotSupported
	}
	contact := map[string]any{
		"nameFirst": req.ContactInfo.FirstName,
		"nameLast":  req.ContactInfo.LastName,
		"email":     req.ContactInfo.Email,
		"phone":     req.ContactInfo.Phone,
		"addressMailing": map[string]string{
			"address1":   req.ContactInfo.Address.Street,
			"city":       req.ContactInfo.Address.City,
			"state":      req.ContactInfo.Address.State,
			"postalCode": req.ContactInfo.Address.Zip,
			"country":    req.ContactInfo.Address.Country,
		},
	}
	payload := map[string]any{
		"domain":            req.Domain,
		"period":            req.Period,
		"renewAuto":         req.AutoRenew,
		"consent":           map[string]any{"agreedAt": time.Now().UTC().Format(time.RFC3339), "agreedBy": req.ContactInfo.Email, "agreementKeys": []string{"DNRA"}},
		"contactAdmin":      contact,
		"contactBilling":    contact,
		"contactRegistrant": contact,
		"contactTech":       contact,
	}
	var parsed struct {
		OrderID  int     `json:"orderId"`
		Total    float64 `json:"total"`
		Currency string  `json:"currency"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/domains/purchase", payload, &parsed); err != nil {
		return nil, err
	}
	return &domain.PurchaseResult{
		Success:     true,
		OrderID:     fmt.Sprintf("%d", parsed.OrderID),
		Domain:      req.Domain,
		Provider:    g.Name(),
		Price:       pricing.Registration * float64(req.Period),
		Currency:    pricing.Currency,
		ExpiresAt:   time.Now().UTC().AddDate(req.Period, 0, 0),
		Nameservers: []string{"ns1.godaddy.com", "ns2.godaddy.com"},
	}, nil
}

// ApplyDNSRecords replaces records per type via PUT /v1/domains/{d}/records/{type}.
func (g *GoDaddy) ApplyDNSRecords(ctx context.Context, fqdn string, records []domain.DNSRecord) error {
	byType := map[string][]map[string]any{}
	for _, r := range records {
		entry := map[string]any{"name": r.Name, "data": r.Value, "ttl": r.TTL}
		if r.Priority > 0 {
			entry["priority"] = r.Priority
		}
		byType[r.Type] = append(byType[r.Type], entry)
	}
	for recordType, batch := range byType {
		path := fmt.Sprintf("/v1/domains/%s/records/%s", url.PathEscape(fqdn), url.PathEscape(recordType))
		if err := g.do(ctx, http.MethodPut, path, batch, nil); err != nil {
			return err
		}
	}
	g.logger.Info("dns records applied", "domain", fqdn, "count", len(records))
	return nil
}

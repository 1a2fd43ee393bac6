package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Cloudflare wraps the Cloudflare client v4 API. Cloudflare Registrar has
// no public availability endpoint, so CheckAvailability can only detect
// domains already living in the account's zones and otherwise answers
// ErrIndeterminate.
type Cloudflare struct {
	cfg     domain.ProviderConfig
	enabled bool
	http    *http.Client
	logger  *slog.Logger
}

// NewCloudflare builds the client. apiURL is the versioned base,
// https://api.cloudflare.com/client/v4 — paths here start at /zones.
func NewCloudflare(apiURL, apiKey, accountID string, client *http.Client, logger *slog.Logger) *Cloudflare {
	return &Cloudflare{
		cfg: domain.ProviderConfig{
			Name:          "Cloudflare",
			APIURL:        apiURL,
			APIKey:        apiKey,
			AccountID:     accountID,
			SupportedTLDs: []string{".com", ".net", ".org"},
			Pricing: map[string]domain.Price{
				".com": {Registration: 9.15, Renewal: 9.15, Currency: "USD"},
				".net": {Registration: 12.98, Renewal: 12.98, Currency: "USD"},
				".org": {Registration: 8.57, Renewal: 8.57, Currency: "USD"},
			},
		},
		enabled: apiKey != "",
		http:    client,
		logger:  logger.With("provider", "cloudflare"),
	}
}

func (c *Cloudflare) Name() string             { return c.cfg.Name }
func (c *Cloudflare) Enabled() bool            { return c.enabled }
func (c *Cloudflare) Supports(tld string) bool { return c.cfg.Supports(tld) }

func (c *Cloudflare) Price(tld string) (domain.Price, bool) {
	p, ok := c.cfg.Pricing[tld]
	return p, ok
}

type cloudflareEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

func (c *Cloudflare) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var envelope cloudflareEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("cloudflare api error: %s", resp.Status)
	}
	if !envelope.Success {
		msg := resp.Status
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return nil, fmt.Errorf("cloudflare: %s", msg)
	}
	return envelope.Result, nil
}

// CheckAvailability reports taken when the domain resolves to an owned
// zone, and ErrIndeterminate otherwise.
func (c *Cloudflare) CheckAvailability(ctx context.Context, fqdn string) (bool, error) {
	_, tld := SplitDomain(fqdn)
	if !c.Supports(tld) {
		return false, ErrTLDNotSupported
	}
	result, err := c.do(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(fqdn), nil)
	if err != nil {
		return false, err
	}
	var zones []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &zones); err != nil {
		return false, err
	}
	if len(zones) > 0 {
		return false, nil
	}
	return false, ErrIndeterminate
}

// Purchase registers the domain through Cloudflare Registrar; it needs
// the account id on top of the API token.
func (c *Cloudflare) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	_, tld := SplitDomain(req.Domain)
	pricing, ok := c.Price(tld)
	if !ok {
		return nil, ErrTLDNotSupported
	}
	if c.cfg.AccountID == "" {
		return nil, errors.New("cloudflare: account id not configured")
	}
	payload := map[string]any{
		"name":       req.Domain,
		"years":      req.Period,
		"auto_renew": req.AutoRenew,
	}
	path := fmt.Sprintf("/accounts/%s/registrar/domains", url.PathEscape(c.cfg.AccountID))
	result, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, err
	}
	return &domain.PurchaseResult{
		Success:     true,
		OrderID:     parsed.ID,
		Domain:      req.Domain,
		Provider:    c.Name(),
		Price:       pricing.Registration * float64(req.Period),
		Currency:    pricing.Currency,
		ExpiresAt:   time.Now().UTC().AddDate(req.Period, 0, 0),
		Nameservers: []string{"ns1.cloudflare.com", "ns2.cloudflare.com"},
	}, nil
}

func (c *Cloudflare) zoneID(ctx context.Context, fqdn string) (string, error) {
	result, err := c.do(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(fqdn), nil)
	if err != nil {
		return "", err
	}
	var zones []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &zones); err != nil {
		return "", err
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("cloudflare: no zone for %s", fqdn)
	}
	return zones[0].ID, nil
}

// ApplyDNSRecords creates records in the domain's zone.
func (c *Cloudflare) ApplyDNSRecords(ctx context.Context, fqdn string, records []domain.DNSRecord) error {
	zone, err := c.zoneID(ctx, fqdn)
	if err != nil {
		return err
	}
	for _, r := range records {
		payload := map[string]any{
			"type":    r.Type,
			"name":    r.Name,
			"content": r.Value,
			"ttl":     r.TTL,
			"proxied": false,
		}
		if r.Priority > 0 {
			payload["priority"] = r.Priority
		}
		path := fmt.Sprintf("/zones/%s/dns_records", url.PathEscape(zone))
		if _, err := c.do(ctx, http.MethodPost, path, payload); err != nil {
			return err
		}
	}
	c.logger.Info("dns records applied", "domain", fqdn, "zone", zone, "count", len(records))
	return nil
}

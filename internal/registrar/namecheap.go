package registrar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Namecheap wraps the Namecheap XML API.
type Namecheap struct {
	cfg     domain.ProviderConfig
	enabled bool
	http    *http.Client
	logger  *slog.Logger
}

// NewNamecheap constructs the Namecheap provider; it is enabled only when
// both the API key and the API user are configured.
func NewNamecheap(apiURL, apiKey, username string, client *http.Client, logger *slog.Logger) *Namecheap {
	return &Namecheap{
		cfg: domain.ProviderConfig{
			Name:     "Namecheap",
			APIURL:   apiURL,
			APIKey:   apiKey,
			Username: username,
			SupportedTLDs: []string{
				".com", ".net", ".org", ".info", ".biz", ".co", ".io", ".me",
				".us", ".ca", ".uk", ".de", ".fr",
			},
			Pricing: map[string]domain.Price{
				".com":  {Registration: 12.99, Renewal: 14.99, Currency: "USD"},
				".net":  {Registration: 14.99, Renewal: 16.99, Currency: "USD"},
				".org":  {Registration: 12.99, Renewal: 14.99, Currency: "USD"},
				".info": {Registration: 2.99, Renewal: 14.99, Currency: "USD"},
				".biz":  {Registration: 19.99, Renewal: 19.99, Currency: "USD"},
				".co":   {Registration: 29.99, Renewal: 29.99, Currency: "USD"},
				".io":   {Registration: 39.99, Renewal: 39.99, Currency: "USD"},
				".me":   {Registration: 19.99, Renewal: 19.99, Currency: "USD"},
			},
		},
		enabled: apiKey != "" && username != "",
		http:    client,
		logger:  logger.With("provider", "namecheap"),
	}
}

func (n *Namecheap) Name() string      { return n.cfg.Name }
func (n *Namecheap) Enabled() bool     { return n.enabled }
func (n *Namecheap) Supports(tld string) bool { return n.cfg.Supports(tld) }

func (n *Namecheap) Price(tld string) (domain.Price, bool) {
	p, ok := n.cfg.Pricing[tld]
	return p, ok
}

func (n *Namecheap) command(cmd string, params url.Values) string {
	q := url.Values{}
	q.Set("ApiUser", n.cfg.Username)
	q.Set("ApiKey", n.cfg.APIKey)
	q.Set("UserName", n.cfg.Username)
	q.Set("Command", cmd)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return n.cfg.APIURL + "/xml.response?" + q.Encode()
}

func (n *Namecheap) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("namecheap api error: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return xml.Unmarshal(body, out)
}

type namecheapCheckResponse struct {
	Status string `xml:"Status,attr"`
	Errors []struct {
		Text string `xml:",chardata"`
	} `xml:"Errors>Error"`
	Results []struct {
		Domain    string `xml:"Domain,attr"`
		Available bool   `xml:"Available,attr"`
	} `xml:"CommandResponse>DomainCheckResult"`
}

// CheckAvailability queries namecheap.domains.check.
func (n *Namecheap) CheckAvailability(ctx context.Context, fqdn string) (bool, error) {
	_, tld := SplitDomain(fqdn)
	if !n.Supports(tld) {
		return false, ErrTLDNotSupported
	}
	params := url.Values{"DomainList": {fqdn}}
	var parsed namecheapCheckResponse
	if err := n.get(ctx, n.command("namecheap.domains.check", params), &parsed); err != nil {
		return false, err
	}
	if parsed.Status != "OK" {
		msg := "unknown error"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Text
		}
		return false, fmt.Errorf("namecheap: %s", msg)
	}
	for _, r := range parsed.Results {
		if r.Domain == fqdn {
			return r.Available, nil
		}
	}
	return false, ErrIndeterminate
}

type namecheapCreateResponse struct {
	Status string `xml:"Status,attr"`
	Errors []struct {
		Text string `xml:",chardata"`
	} `xml:"Errors>Error"`
	Result struct {
		Domain        string  `xml:"Domain,attr"`
		Registered    bool    `xml:"Registered,attr"`
		OrderID       string  `xml:"OrderID,attr"`
		ChargedAmount float64 `xml:"ChargedAmount,attr"`
	} `xml:"CommandResponse>DomainCreateResult"`
}

// Purchase registers the domain via namecheap.domains.create.
func (n *Namecheap) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	_, tld := SplitDomain(req.Domain)
	pricing, ok := n.Price(tld)
	if !ok {
		return nil, ErrTLDNotSupported
	}
	params := url.Values{
		"DomainName":            {req.Domain},
		"Years":                 {fmt.Sprintf("%d", req.Period)},
		"RegistrantFirstName":   {req.ContactInfo.FirstName},
		"RegistrantLastName":    {req.ContactInfo.LastName},
		"RegistrantEmailAddress": {req.ContactInfo.Email},
		"RegistrantPhone":       {req.ContactInfo.Phone},
		"RegistrantAddress1":    {req.ContactInfo.Address.Street},
		"RegistrantCity":        {req.ContactInfo.Address.City},
		"RegistrantStateProvince": {req.ContactInfo.Address.State},
		"RegistrantPostalCode":  {req.ContactInfo.Address.Zip},
		"RegistrantCountry":     {req.ContactInfo.Address.Country},
	}
	var parsed namecheapCreateResponse
	if err := n.get(ctx, n.command("namecheap.domains.create", params), &parsed); err != nil {
		return nil, err
	}
	if parsed.Status != "OK" || !parsed.Result.Registered {
		msg := "registration rejected"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Text
		}
		return nil, fmt.Errorf("namecheap: %s", msg)
	}
	return &domain.PurchaseResult{
		Success:     true,
		OrderID:     parsed.Result.OrderID,
		Domain:      req.Domain,
		Provider:    n.Name(),
		Price:       pricing.Registration * float64(req.Period),
		Currency:    pricing.Currency,
		ExpiresAt:   time.Now().UTC().AddDate(req.Period, 0, 0),
		Nameservers: []string{"dns1.namecheap.com", "dns2.namecheap.com"},
	}, nil
}

// ApplyDNSRecords sets host records via namecheap.domains.dns.setHosts,
// one call per record as the original integration does.
func (n *Namecheap) ApplyDNSRecords(ctx context.Context, fqdn string, records []domain.DNSRecord) error {
	for _, record := range records {
		params := url.Values{
			"DomainName": {fqdn},
			"HostName":   {record.Name},
			"RecordType": {record.Type},
			"Address":    {record.Value},
			"TTL":        {fmt.Sprintf("%d", record.TTL)},
		}
		var parsed struct {
			Status string `xml:"Status,attr"`
		}
		if err := n.get(ctx, n.command("namecheap.domains.dns.setHosts", params), &parsed); err != nil {
			return err
		}
		if parsed.Status != "OK" {
			return fmt.Errorf("namecheap: dns update rejected for %s %s", record.Type, record.Name)
		}
	}
	n.logger.Info("dns records applied", "domain", fqdn, "count", len(records))
	return nil
}

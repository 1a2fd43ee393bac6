package domain

// Price describes per-TLD registration pricing.
type Price struct {
	Registration float64 `json:"registration"`
	Renewal      float64 `json:"renewal"`
	Currency     string  `json:"currency"`
}

// ProviderConfig is the static per-process description of one registrar:
// credentials, the TLDs it can register and its price table. A provider is
// enabled only when its credentials are present.
type ProviderConfig struct {
	Name          string
	APIURL        string
	APIKey        string
	Username      string
	AccountID     string
	SupportedTLDs []string
	Pricing       map[string]Price
}

// Supports reports whether the provider can register the given TLD.
func (p ProviderConfig) Supports(tld string) bool {
	for _, t := range p.SupportedTLDs {
		if t == tld {
			return true
		}
	}
	return false
}

package domain

// Synthetic provider tags. Results carrying one of these were not answered
// by a real registrar and must be distinguishable by callers.
const (
	ProviderSimulation = "Simulation"
	ProviderFallback   = "Fallback"
)

// SearchResult is one availability answer for a fully qualified domain.
// Price is set only for available domains.
type SearchResult struct {
	Domain             string `json:"domain"`
	Available          bool   `json:"available"`
	Price              *Price `json:"price,omitempty"`
	TLD                string `json:"tld"`
	Provider           string `json:"provider"`
	RegistrationPeriod int    `json:"registrationPeriod"`
}

// Synthetic reports whether the result came from the stub or the whois
// fallback rather than a registrar API.
func (r SearchResult) Synthetic() bool {
	return r.Provider == ProviderSimulation || r.Provider == ProviderFallback
}

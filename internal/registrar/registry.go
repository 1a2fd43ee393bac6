package registrar

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/config"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Registry holds the known registrars keyed by name. Read-only after
// construction.
type Registry struct {
	providers []Registrar
	byName    map[string]Registrar
}

// NewRegistry assembles the provider set from configuration. Providers
// without credentials stay registered but disabled.
func NewRegistry(cfg config.Config, logger *slog.Logger) *Registry {
	client := &http.Client{Timeout: 15 * time.Second}
	providers := []Registrar{
		NewNamecheap(cfg.NamecheapAPIURL, cfg.NamecheapAPIKey, cfg.NamecheapUser, client, logger),
		NewGoDaddy(cfg.GoDaddyAPIURL, cfg.GoDaddyAPIKey, client, logger),
		NewCloudflare(cfg.CloudflareAPIURL, cfg.CloudflareAPIKey, cfg.CloudflareAccountID, client, logger),
	}
	return NewRegistryWith(providers...)
}

// NewRegistryWith builds a registry from explicit providers (tests).
func NewRegistryWith(providers ...Registrar) *Registry {
	byName := make(map[string]Registrar, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Registry{providers: providers, byName: byName}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Registrar, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered provider.
func (r *Registry) All() []Registrar {
	return r.providers
}

// EnabledFor returns enabled providers carrying the TLD, cheapest first.
func (r *Registry) EnabledFor(tld string) []Registrar {
	var out []Registrar
	for _, p := range r.providers {
		if p.Enabled() && p.Supports(tld) {
			if _, ok := p.Price(tld); ok {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, _ := out[i].Price(tld)
		pj, _ := out[j].Price(tld)
		return pi.Registration < pj.Registration
	})
	return out
}

// CheapestFor selects the enabled provider with the lowest registration
// price for the TLD.
func (r *Registry) CheapestFor(tld string) (Registrar, domain.Price, error) {
	candidates := r.EnabledFor(tld)
	if len(candidates) == 0 {
		return nil, domain.Price{}, ErrNoProviderForTLD
	}
	price, _ := candidates[0].Price(tld)
	return candidates[0], price, nil
}

// BestPrice returns the lowest advertised registration price for the TLD
// across enabled providers, if any provider carries it.
func (r *Registry) BestPrice(tld string) (domain.Price, bool) {
	_, price, err := r.CheapestFor(tld)
	if err != nil {
		return domain.Price{}, false
	}
	return price, true
}

package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
)

const defaultTTL = 300

// Result reports an applied configuration plus non-fatal warnings.
type Result struct {
	Configuration *domain.DNSConfiguration `json:"configuration"`
	AlreadyInSync bool                     `json:"alreadyInSync"`
	Warnings      []string                 `json:"warnings,omitempty"`
}

// Service points purchased domains at deployments by writing A records
// through the registrar that sold the domain.
type Service struct {
	registry  *registrar.Registry
	configs   repository.DNSConfigurationRepository
	orders    repository.DomainOrderRepository
	anycastIP string
	http      *http.Client
	logger    *slog.Logger
}

func NewService(registry *registrar.Registry, configs repository.DNSConfigurationRepository, orders repository.DomainOrderRepository, anycastIP string, logger *slog.Logger) *Service {
	return &Service{
		registry:  registry,
		configs:   configs,
		orders:    orders,
		anycastIP: anycastIP,
		http:      &http.Client{Timeout: 5 * time.Second},
		logger:    logger.With("component", "dns"),
	}
}

// desiredRecords is the record set pointing a domain at the edge: apex
// and www A records at the anycast IP.
func (s *Service) desiredRecords() []domain.DNSRecord {
	return []domain.DNSRecord{
		{Type: "A", Name: "@", Value: s.anycastIP, TTL: defaultTTL},
		{Type: "A", Name: "www", Value: s.anycastIP, TTL: defaultTTL},
	}
}

// Configure applies the standard record set for name. Re-applying an
// identical configuration is a no-op.
func (s *Service) Configure(ctx context.Context, name, targetURL string) (*Result, error) {
	records := s.desiredRecords()

	existing, err := s.configs.GetDNSConfiguration(ctx, name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.TargetURL == targetURL && existing.SameRecords(records) {
		s.logger.Info("dns already configured", "domain", name)
		return &Result{Configuration: existing, AlreadyInSync: true}, nil
	}

	provider, warnings := s.providerFor(ctx, name)
	if err := provider.ApplyDNSRecords(ctx, name, records); err != nil {
		return nil, fmt.Errorf("dns: applying records for %s: %w", name, err)
	}

	cfg := &domain.DNSConfiguration{
		Domain:       name,
		TargetURL:    targetURL,
		CustomDomain: name,
		SSLEnabled:   true,
		Provider:     provider.Name(),
		Records:      records,
		UpdatedAt:    time.Now().UTC(),
	}
	if existing == nil {
		cfg.CreatedAt = cfg.UpdatedAt
	} else {
		cfg.CreatedAt = existing.CreatedAt
	}
	if err := s.configs.UpsertDNSConfiguration(ctx, cfg); err != nil {
		warnings = append(warnings, fmt.Sprintf("configuration persisted records but not state: %s", err))
		s.logger.Warn("dns configuration persistence failed", "domain", name, "error", err)
	}
	return &Result{Configuration: cfg, Warnings: warnings}, nil
}

// providerFor prefers the registrar that sold the domain, then any
// enabled provider for the TLD, then the simulation.
func (s *Service) providerFor(ctx context.Context, name string) (registrar.Registrar, []string) {
	var warnings []string
	if order, err := s.orders.GetDomainOrderByDomain(ctx, name); err == nil {
		if provider, ok := s.registry.Get(order.Provider); ok && provider.Enabled() {
			return provider, nil
		}
		warnings = append(warnings, fmt.Sprintf("registrar %s unavailable, routing dns elsewhere", order.Provider))
	}
	_, tld := registrar.SplitDomain(name)
	if candidates := s.registry.EnabledFor(tld); len(candidates) > 0 {
		return candidates[0], warnings
	}
	warnings = append(warnings, "no enabled registrar for tld, dns simulated")
	return registrar.NewStub(s.logger), warnings
}

// Configuration returns the stored record set for a domain.
func (s *Service) Configuration(ctx context.Context, name string) (*domain.DNSConfiguration, error) {
	return s.configs.GetDNSConfiguration(ctx, name)
}

// CheckPropagation probes https://name until it answers, with a short
// backoff between attempts. A false answer is not an error; propagation
// can lag far beyond any reasonable request deadline.
func (s *Service) CheckPropagation(ctx context.Context, name string) (bool, error) {
	target := "https://" + strings.TrimPrefix(name, "www.")
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return false, err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return true, nil
		}
	}
	s.logger.Debug("propagation probe exhausted", "domain", name, "error", lastErr)
	return false, nil
}

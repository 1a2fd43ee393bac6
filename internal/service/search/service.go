package search

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ArthurBarre/site-forge-clone/internal/cache"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
)

// ErrQueryTooShort rejects cleaned queries under two characters.
var ErrQueryTooShort = errors.New("search: query must be at least 2 characters")

// PopularTLDs is the extension set checked for every search.
var PopularTLDs = []string{
	".com", ".fr", ".net", ".org", ".io", ".co", ".app", ".dev",
	".tech", ".online", ".site", ".store", ".blog", ".me", ".info",
}

// maxConcurrentChecks bounds parallel registrar calls per search.
const maxConcurrentChecks = 5

var invalidChars = regexp.MustCompile(`[^a-z0-9-]`)

// CleanQuery lowercases and strips everything outside [a-z0-9-].
func CleanQuery(query string) string {
	return invalidChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), "")
}

// Response is the search payload: every TLD answered, available count
// precomputed for the client.
type Response struct {
	Query     string                `json:"query"`
	Results   []domain.SearchResult `json:"results"`
	Total     int                   `json:"total"`
	Available int                   `json:"available"`
}

// Service answers multi-TLD availability searches. Real registrars are
// asked first; the whois prober covers indeterminate answers and the
// stub covers total provider failure so a search never comes back empty.
type Service struct {
	registry *registrar.Registry
	prober   registrar.Prober
	stub     registrar.Registrar
	cache    *cache.Redis
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewService(registry *registrar.Registry, prober registrar.Prober, stub registrar.Registrar, redis *cache.Redis, cacheTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		prober:   prober,
		stub:     stub,
		cache:    redis,
		cacheTTL: cacheTTL,
		logger:   logger.With("component", "search"),
	}
}

// Search checks the cleaned query against every popular TLD.
func (s *Service) Search(ctx context.Context, query string) (*Response, error) {
	clean := CleanQuery(query)
	if len(clean) < 2 {
		return nil, ErrQueryTooShort
	}

	cacheKey := "siteforge:search:" + clean
	if s.cache != nil {
		var cached Response
		if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			s.logger.Debug("search cache hit", "query", clean)
			return &cached, nil
		}
	}

	results := make([]domain.SearchResult, len(PopularTLDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for i, tld := range PopularTLDs {
		g.Go(func() error {
			results[i] = s.checkOne(gctx, clean, tld)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResults(results)
	response := &Response{Query: clean, Results: results, Total: len(results)}
	for _, r := range results {
		if r.Available {
			response.Available++
		}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, response, s.cacheTTL); err != nil {
			s.logger.Warn("search cache write failed", "error", err)
		}
	}
	return response, nil
}

// checkOne resolves availability of name+tld through the provider chain.
func (s *Service) checkOne(ctx context.Context, name, tld string) domain.SearchResult {
	fqdn := name + tld
	result := domain.SearchResult{Domain: fqdn, TLD: tld, RegistrationPeriod: 1}

	for _, provider := range s.registry.EnabledFor(tld) {
		available, err := provider.CheckAvailability(ctx, fqdn)
		if err != nil {
			if !errors.Is(err, registrar.ErrIndeterminate) {
				s.logger.Warn("availability check failed", "provider", provider.Name(), "domain", fqdn, "error", err)
			}
			continue
		}
		result.Available = available
		result.Provider = provider.Name()
		if available {
			result.Price = s.priceFor(tld)
		}
		return result
	}

	if available, err := s.prober.Probe(ctx, fqdn); err == nil {
		result.Available = available
		result.Provider = domain.ProviderFallback
		if available {
			result.Price = s.priceFor(tld)
		}
		return result
	}

	available, _ := s.stub.CheckAvailability(ctx, fqdn)
	result.Available = available
	result.Provider = domain.ProviderSimulation
	if available {
		result.Price = s.priceFor(tld)
	}
	return result
}

// priceFor quotes the best real registrar price, falling back to the
// simulated table.
func (s *Service) priceFor(tld string) *domain.Price {
	if price, ok := s.registry.BestPrice(tld); ok {
		return &price
	}
	if price, ok := s.stub.Price(tld); ok {
		return &price
	}
	return nil
}

// sortResults puts available domains first, each group cheapest first.
func sortResults(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Available != results[j].Available {
			return results[i].Available
		}
		pi, pj := resultPrice(results[i]), resultPrice(results[j])
		return pi < pj
	})
}

func resultPrice(r domain.SearchResult) float64 {
	if r.Price == nil {
		return 0
	}
	return r.Price.Registration
}

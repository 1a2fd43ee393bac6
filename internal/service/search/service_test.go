package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name      string
	enabled   bool
	pricing   map[string]domain.Price
	available map[string]bool
	err       error
	calls     int
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Enabled() bool   { return f.enabled }
func (f *fakeProvider) Supports(tld string) bool {
	_, ok := f.pricing[tld]
	return ok
}
func (f *fakeProvider) Price(tld string) (domain.Price, bool) {
	p, ok := f.pricing[tld]
	return p, ok
}
func (f *fakeProvider) CheckAvailability(_ context.Context, fqdn string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.available[fqdn], nil
}
func (f *fakeProvider) Purchase(context.Context, domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) ApplyDNSRecords(context.Context, string, []domain.DNSRecord) error {
	return nil
}

type fakeProber struct {
	available bool
	err       error
}

func (f *fakeProber) Probe(context.Context, string) (bool, error) {
	return f.available, f.err
}

func newTestService(providers []registrar.Registrar, prober registrar.Prober) *Service {
	return NewService(registrar.NewRegistryWith(providers...), prober, registrar.NewStub(testLogger()), nil, 0, testLogger())
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MySite", "mysite"},
		{"  my site! ", "mysite"},
		{"café.com", "cafcom"},
		{"my-app", "my-app"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanQuery(tt.in); got != tt.want {
			t.Errorf("CleanQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchRejectsShortQuery(t *testing.T) {
	svc := newTestService(nil, &fakeProber{})
	if _, err := svc.Search(context.Background(), "a!!"); !errors.Is(err, ErrQueryTooShort) {
		t.Fatalf("expected ErrQueryTooShort, got %v", err)
	}
}

func TestSearchCoversAllPopularTLDs(t *testing.T) {
	svc := newTestService(nil, &fakeProber{err: errors.New("whois down")})

	resp, err := svc.Search(context.Background(), "mysite")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Total != len(PopularTLDs) {
		t.Fatalf("total = %d, want %d", resp.Total, len(PopularTLDs))
	}
	seen := map[string]bool{}
	for _, r := range resp.Results {
		seen[r.TLD] = true
		if r.Provider != domain.ProviderSimulation {
			t.Errorf("provider = %s, want simulation with no registrars", r.Provider)
		}
	}
	for _, tld := range PopularTLDs {
		if !seen[tld] {
			t.Errorf("missing TLD %s", tld)
		}
	}
}

func TestSearchPrefersRealProvider(t *testing.T) {
	provider := &fakeProvider{
		name:    "Namecheap",
		enabled: true,
		pricing: map[string]domain.Price{".com": {Registration: 12.99, Currency: "USD"}},
		available: map[string]bool{
			"mysite.com": true,
		},
	}
	svc := newTestService([]registrar.Registrar{provider}, &fakeProber{err: errors.New("down")})

	resp, err := svc.Search(context.Background(), "mysite")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var comResult *domain.SearchResult
	for i := range resp.Results {
		if resp.Results[i].TLD == ".com" {
			comResult = &resp.Results[i]
		}
	}
	if comResult == nil {
		t.Fatal("no .com result")
	}
	if comResult.Provider != "Namecheap" || !comResult.Available {
		t.Fatalf("unexpected .com result %+v", comResult)
	}
	if comResult.Price == nil || comResult.Price.Registration != 12.99 {
		t.Fatalf("expected real price, got %+v", comResult.Price)
	}
}

func TestSearchFallsBackToWhois(t *testing.T) {
	provider := &fakeProvider{
		name:    "Cloudflare",
		enabled: true,
		pricing: map[string]domain.Price{".com": {Registration: 9.15, Currency: "USD"}},
		err:     registrar.ErrIndeterminate,
	}
	svc := newTestService([]registrar.Registrar{provider}, &fakeProber{available: true})

	resp, err := svc.Search(context.Background(), "mysite")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range resp.Results {
		if r.TLD != ".com" {
			continue
		}
		if r.Provider != domain.ProviderFallback {
			t.Fatalf("provider = %s, want %s", r.Provider, domain.ProviderFallback)
		}
		if !r.Available {
			t.Fatal("expected available from prober")
		}
		if r.Price == nil || r.Price.Registration != 9.15 {
			t.Fatalf("expected registry best price on fallback result, got %+v", r.Price)
		}
	}
}

func TestSearchSortsAvailableFirstThenPrice(t *testing.T) {
	results := []domain.SearchResult{
		{Domain: "a.store", Available: false},
		{Domain: "a.io", Available: true, Price: &domain.Price{Registration: 39.99}},
		{Domain: "a.com", Available: true, Price: &domain.Price{Registration: 12.99}},
	}
	sortResults(results)
	if results[0].Domain != "a.com" || results[1].Domain != "a.io" || results[2].Domain != "a.store" {
		t.Fatalf("unexpected order: %v, %v, %v", results[0].Domain, results[1].Domain, results[2].Domain)
	}
}

package registrar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name    string
	enabled bool
	pricing map[string]domain.Price
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
func (f *fakeProvider) CheckAvailability(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakeProvider) Purchase(context.Context, domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) ApplyDNSRecords(context.Context, string, []domain.DNSRecord) error {
	return nil
}

func TestCheapestForPicksLowestRegistration(t *testing.T) {
	registry := NewRegistryWith(
		&fakeProvider{name: "A", enabled: true, pricing: map[string]domain.Price{".com": {Registration: 12.99, Currency: "USD"}}},
		&fakeProvider{name: "B", enabled: true, pricing: map[string]domain.Price{".com": {Registration: 9.15, Currency: "USD"}}},
		&fakeProvider{name: "C", enabled: false, pricing: map[string]domain.Price{".com": {Registration: 1.00, Currency: "USD"}}},
	)

	provider, price, err := registry.CheapestFor(".com")
	if err != nil {
		t.Fatalf("CheapestFor: %v", err)
	}
	if provider.Name() != "B" {
		t.Fatalf("expected provider B, got %s", provider.Name())
	}
	if price.Registration != 9.15 {
		t.Fatalf("expected 9.15, got %v", price.Registration)
	}
}

func TestCheapestForNoProvider(t *testing.T) {
	registry := NewRegistryWith(
		&fakeProvider{name: "A", enabled: true, pricing: map[string]domain.Price{".com": {Registration: 12.99}}},
	)

	if _, _, err := registry.CheapestFor(".io"); !errors.Is(err, ErrNoProviderForTLD) {
		t.Fatalf("expected ErrNoProviderForTLD, got %v", err)
	}
}

func TestEnabledForSortsByPrice(t *testing.T) {
	registry := NewRegistryWith(
		&fakeProvider{name: "Expensive", enabled: true, pricing: map[string]domain.Price{".org": {Registration: 12.99}}},
		&fakeProvider{name: "Cheap", enabled: true, pricing: map[string]domain.Price{".org": {Registration: 8.57}}},
	)

	providers := registry.EnabledFor(".org")
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].Name() != "Cheap" {
		t.Fatalf("expected Cheap first, got %s", providers[0].Name())
	}
}

func TestSplitDomain(t *testing.T) {
	tests := []struct {
		fqdn string
		name string
		tld  string
	}{
		{"example.com", "example", ".com"},
		{"my-site.co.uk", "my-site.co", ".uk"},
		{"noext", "noext", ""},
	}
	for _, tt := range tests {
		name, tld := SplitDomain(tt.fqdn)
		if name != tt.name || tld != tt.tld {
			t.Errorf("SplitDomain(%q) = %q, %q; want %q, %q", tt.fqdn, name, tld, tt.name, tt.tld)
		}
	}
}

func TestStubAvailabilityDeterministic(t *testing.T) {
	stub := NewStub(testLogger())

	first, err := stub.CheckAvailability(context.Background(), "mybrand.com")
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := stub.CheckAvailability(context.Background(), "mybrand.com")
		if err != nil {
			t.Fatalf("CheckAvailability: %v", err)
		}
		if again != first {
			t.Fatal("stub availability changed between identical calls")
		}
	}
}

func TestStubBrandNamesMostlyTaken(t *testing.T) {
	stub := NewStub(testLogger())

	taken := 0
	brands := []string{"google", "facebook", "twitter", "amazon", "microsoft", "apple", "netflix", "spotify"}
	for _, brand := range brands {
		available, err := stub.CheckAvailability(context.Background(), brand+".com")
		if err != nil {
			t.Fatalf("CheckAvailability: %v", err)
		}
		if !available {
			taken++
		}
	}
	if taken < len(brands)/2 {
		t.Fatalf("expected most brand domains taken, got %d of %d", taken, len(brands))
	}
}

func TestClassifyWhois(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		available bool
		wantErr   error
	}{
		{"registered", "Registrar: Example Inc.\nCreation Date: 2001-01-01", false, nil},
		{"free", "No match for \"EXAMPLE-FREE.COM\"", true, nil},
		{"premium", "This premium name is available for purchase", false, nil},
		{"garbage", "rate limit exceeded", false, ErrIndeterminate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			available, err := classifyWhois(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if available != tt.available {
				t.Fatalf("available = %v, want %v", available, tt.available)
			}
		})
	}
}

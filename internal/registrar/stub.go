package registrar

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Brand names that should read as taken in simulated results.
var reservedBrands = map[string]bool{
	"google": true, "facebook": true, "twitter": true, "instagram": true,
	"youtube": true, "amazon": true, "microsoft": true, "apple": true,
	"netflix": true, "spotify": true, "uber": true, "airbnb": true,
}

var stubPricing = map[string]domain.Price{
	".com":    {Registration: 12.99, Renewal: 14.99, Currency: "USD"},
	".fr":     {Registration: 9.99, Renewal: 11.99, Currency: "USD"},
	".net":    {Registration: 14.99, Renewal: 16.99, Currency: "USD"},
	".org":    {Registration: 12.99, Renewal: 14.99, Currency: "USD"},
	".io":     {Registration: 39.99, Renewal: 44.99, Currency: "USD"},
	".co":     {Registration: 29.99, Renewal: 32.99, Currency: "USD"},
	".app":    {Registration: 19.99, Renewal: 21.99, Currency: "USD"},
	".dev":    {Registration: 15.99, Renewal: 17.99, Currency: "USD"},
	".tech":   {Registration: 49.99, Renewal: 54.99, Currency: "USD"},
	".online": {Registration: 34.99, Renewal: 39.99, Currency: "USD"},
	".site":   {Registration: 29.99, Renewal: 32.99, Currency: "USD"},
	".store":  {Registration: 59.99, Renewal: 64.99, Currency: "USD"},
	".blog":   {Registration: 29.99, Renewal: 32.99, Currency: "USD"},
	".me":     {Registration: 19.99, Renewal: 22.99, Currency: "USD"},
	".info":   {Registration: 2.99, Renewal: 14.99, Currency: "USD"},
}

// Stub is the always-enabled simulated registrar used when no real
// provider can answer. Availability is a deterministic hash of the
// domain, so repeated searches agree with each other.
type Stub struct {
	logger *slog.Logger
}

func NewStub(logger *slog.Logger) *Stub {
	return &Stub{logger: logger.With("provider", "simulation")}
}

func (s *Stub) Name() string             { return domain.ProviderSimulation }
func (s *Stub) Enabled() bool            { return true }
func (s *Stub) Supports(tld string) bool { _, ok := stubPricing[tld]; return ok }

func (s *Stub) Price(tld string) (domain.Price, bool) {
	p, ok := stubPricing[tld]
	return p, ok
}

func domainHash(fqdn string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(fqdn))
	return h.Sum32()
}

// CheckAvailability simulates: well-known brand names come back taken
// almost always, everything else is available roughly seven times out
// of ten.
func (s *Stub) CheckAvailability(_ context.Context, fqdn string) (bool, error) {
	name, _ := SplitDomain(fqdn)
	bucket := domainHash(fqdn) % 100
	if reservedBrands[name] {
		return bucket < 10, nil
	}
	return bucket < 70, nil
}

// Purchase fabricates a successful order.
func (s *Stub) Purchase(_ context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	_, tld := SplitDomain(req.Domain)
	pricing, ok := s.Price(tld)
	if !ok {
		pricing = domain.Price{Registration: 19.99, Renewal: 24.99, Currency: "USD"}
	}
	now := time.Now().UTC()
	s.logger.Info("simulated purchase", "domain", req.Domain, "period", req.Period)
	return &domain.PurchaseResult{
		Success:     true,
		OrderID:     fmt.Sprintf("SIM_%d_%08x", now.Unix(), domainHash(req.Domain)),
		Domain:      req.Domain,
		Provider:    s.Name(),
		Price:       pricing.Registration * float64(req.Period),
		Currency:    pricing.Currency,
		ExpiresAt:   now.AddDate(req.Period, 0, 0),
		Nameservers: []string{"ns1.simulation.local", "ns2.simulation.local"},
	}, nil
}

// ApplyDNSRecords pretends to succeed.
func (s *Stub) ApplyDNSRecords(_ context.Context, fqdn string, records []domain.DNSRecord) error {
	s.logger.Info("simulated dns update", "domain", fqdn, "count", len(records))
	return nil
}

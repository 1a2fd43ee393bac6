package registrar

import (
	"context"
	"errors"
	"strings"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Errors shared across providers.
var (
	// ErrIndeterminate means the provider cannot answer availability for
	// this domain; callers should consult the fallback prober.
	ErrIndeterminate = errors.New("registrar: availability indeterminate")
	// ErrNoProviderForTLD means no enabled provider supports the TLD.
	ErrNoProviderForTLD = errors.New("registrar: no provider available for this TLD")
	// ErrTLDNotSupported means this provider does not carry the TLD.
	ErrTLDNotSupported = errors.New("registrar: tld not supported")
)

// Registrar is the polymorphic provider surface: availability, purchase
// and DNS record application. Implementations wrap one registrar's REST
// API; the stub variant is the statically distinguishable simulation.
type Registrar interface {
	Name() string
	Enabled() bool
	Supports(tld string) bool
	Price(tld string) (domain.Price, bool)
	CheckAvailability(ctx context.Context, fqdn string) (bool, error)
	Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error)
	ApplyDNSRecords(ctx context.Context, fqdn string, records []domain.DNSRecord) error
}

// SplitDomain separates a fully qualified domain into base name and TLD
// (with leading dot), mirroring registrar API conventions.
func SplitDomain(fqdn string) (name, tld string) {
	idx := strings.LastIndex(fqdn, ".")
	if idx < 0 {
		return fqdn, ""
	}
	return fqdn[:idx], fqdn[idx:]
}

package purchase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/registrar"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name        string
	pricing     map[string]domain.Price
	purchaseErr error
	purchased   []domain.PurchaseRequest
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Enabled() bool   { return true }
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
func (f *fakeProvider) Purchase(_ context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	f.purchased = append(f.purchased, req)
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	price, _ := f.Price(".com")
	return &domain.PurchaseResult{
		Success:     true,
		OrderID:     "ORD_1",
		Domain:      req.Domain,
		Provider:    f.name,
		Price:       price.Registration * float64(req.Period),
		Currency:    price.Currency,
		ExpiresAt:   time.Now().UTC().AddDate(req.Period, 0, 0),
		Nameservers: []string{"ns1.test", "ns2.test"},
	}, nil
}
func (f *fakeProvider) ApplyDNSRecords(context.Context, string, []domain.DNSRecord) error {
	return nil
}

type fakeOrderRepo struct {
	orders []*domain.DomainOrder
	err    error
}

func (f *fakeOrderRepo) CreateDomainOrder(_ context.Context, order *domain.DomainOrder) error {
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakeOrderRepo) GetDomainOrderByDomain(_ context.Context, name string) (*domain.DomainOrder, error) {
	for i := len(f.orders) - 1; i >= 0; i-- {
		if f.orders[i].Domain == name {
			return f.orders[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func validRequest() domain.PurchaseRequest {
	return domain.PurchaseRequest{
		Domain: "example.com",
		Period: 2,
		ContactInfo: domain.ContactInfo{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@example.com",
			Phone:     "+14155550100",
			Address: domain.ContactAddress{
				Street:  "1 Main St",
				City:    "Paris",
				State:   "IDF",
				Zip:     "75001",
				Country: "FR",
			},
		},
	}
}

func newService(provider *fakeProvider, repo *fakeOrderRepo) *Service {
	return NewService(registrar.NewRegistryWith(provider), repo, "test-encryption-key", testLogger())
}

func TestPurchaseHappyPath(t *testing.T) {
	provider := &fakeProvider{
		name:    "Namecheap",
		pricing: map[string]domain.Price{".com": {Registration: 12.99, Currency: "USD"}},
	}
	repo := &fakeOrderRepo{}
	svc := newService(provider, repo)

	result, err := svc.Purchase(context.Background(), "chat-1", validRequest())
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if !result.Success || result.OrderID != "ORD_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got, want := result.Price, 12.99*2; got != want {
		t.Fatalf("price = %v, want %v", got, want)
	}

	if len(repo.orders) != 1 {
		t.Fatalf("expected 1 persisted order, got %d", len(repo.orders))
	}
	order := repo.orders[0]
	if order.Status != domain.OrderStatusRegistered || order.ChatID != "chat-1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(order.ContactEmail) == 0 || string(order.ContactEmail) == "ada@example.com" {
		t.Fatal("contact email should be stored encrypted")
	}
}

func TestPurchaseValidation(t *testing.T) {
	svc := newService(&fakeProvider{name: "X", pricing: map[string]domain.Price{".com": {}}}, &fakeOrderRepo{})

	tests := []struct {
		name   string
		mutate func(*domain.PurchaseRequest)
	}{
		{"missing domain", func(r *domain.PurchaseRequest) { r.Domain = "" }},
		{"period too long", func(r *domain.PurchaseRequest) { r.Period = 11 }},
		{"bad email", func(r *domain.PurchaseRequest) { r.ContactInfo.Email = "nope" }},
		{"bad country", func(r *domain.PurchaseRequest) { r.ContactInfo.Address.Country = "France" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			if _, err := svc.Purchase(context.Background(), "", req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPurchaseNoProviderForTLD(t *testing.T) {
	provider := &fakeProvider{name: "X", pricing: map[string]domain.Price{".org": {Registration: 1}}}
	svc := newService(provider, &fakeOrderRepo{})

	_, err := svc.Purchase(context.Background(), "", validRequest())
	if !errors.Is(err, registrar.ErrNoProviderForTLD) {
		t.Fatalf("expected ErrNoProviderForTLD, got %v", err)
	}
}

func TestPurchaseProviderFailureRecordsFailedOrder(t *testing.T) {
	provider := &fakeProvider{
		name:        "Namecheap",
		pricing:     map[string]domain.Price{".com": {Registration: 12.99, Currency: "USD"}},
		purchaseErr: errors.New("insufficient funds"),
	}
	repo := &fakeOrderRepo{}
	svc := newService(provider, repo)

	_, err := svc.Purchase(context.Background(), "", validRequest())
	if !errors.Is(err, ErrPurchaseFailed) {
		t.Fatalf("expected ErrPurchaseFailed, got %v", err)
	}
	if len(repo.orders) != 1 || repo.orders[0].Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed order on record, got %+v", repo.orders)
	}
}

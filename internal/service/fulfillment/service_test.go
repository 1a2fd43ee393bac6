package fulfillment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
	"github.com/ArthurBarre/site-forge-clone/internal/service/dns"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePurchaser struct {
	err   error
	calls []domain.PurchaseRequest
}

func (f *fakePurchaser) Purchase(_ context.Context, _ string, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.PurchaseResult{Success: true, OrderID: "ord-1", Domain: req.Domain, Provider: domain.ProviderSimulation}, nil
}

type fakeDNS struct {
	configured map[string]string
	propagated bool
	err        error
}

func (f *fakeDNS) Configure(_ context.Context, name, targetURL string) (*dns.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.configured == nil {
		f.configured = map[string]string{}
	}
	f.configured[name] = targetURL
	return &dns.Result{Configuration: &domain.DNSConfiguration{Domain: name, TargetURL: targetURL}}, nil
}

func (f *fakeDNS) CheckPropagation(context.Context, string) (bool, error) {
	return f.propagated, nil
}

type fakeProjects struct {
	byChat map[string]*domain.HostingProject
}

func (f *fakeProjects) CreateHostingProject(_ context.Context, p *domain.HostingProject) error {
	if f.byChat == nil {
		f.byChat = map[string]*domain.HostingProject{}
	}
	f.byChat[p.ChatID] = p
	return nil
}

func (f *fakeProjects) GetHostingProjectByChat(_ context.Context, chatID string) (*domain.HostingProject, error) {
	if p, ok := f.byChat[chatID]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProjects) GetHostingProjectByID(context.Context, string) (*domain.HostingProject, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeProjects) UpdateHostingProject(context.Context, domain.HostingProjectUpdate) error {
	return nil
}

func (f *fakeProjects) DeleteHostingProjectByChat(context.Context, string) error { return nil }
func (f *fakeProjects) DeleteHostingProjectByID(context.Context, string) error   { return nil }

func purchaseFixture() domain.PurchaseRequest {
	return domain.PurchaseRequest{
		Domain: "example.com",
		Period: 1,
		ContactInfo: domain.ContactInfo{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@example.com",
			Phone:     "+14155550100",
			Address: domain.ContactAddress{
				Street: "1 Main St", City: "Paris", State: "IDF", Zip: "75001", Country: "FR",
			},
		},
	}
}

func deployedProjects(chatID, url string) *fakeProjects {
	return &fakeProjects{byChat: map[string]*domain.HostingProject{
		chatID: {ID: "rec-1", ChatID: chatID, ProjectID: "prj-1", DeployURL: url, Status: domain.DeployStatusDeployed},
	}}
}

func TestFulfillRegistersAndConfiguresDNS(t *testing.T) {
	purchaser := &fakePurchaser{}
	dnsFake := &fakeDNS{propagated: true}
	pending := NewPendingPurchases(nil)
	svc := NewService(purchaser, dnsFake, deployedProjects("chat-1", "https://site.vercel.app"), pending, testLogger())
	pending.Stash(context.Background(), "pay-1", purchaseFixture())

	warnings, err := svc.Fulfill(context.Background(), domain.CompletedPayment{PaymentID: "pay-1", ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if len(purchaser.calls) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchaser.calls))
	}
	if dnsFake.configured["example.com"] != "https://site.vercel.app" {
		t.Fatalf("dns configured = %v", dnsFake.configured)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
}

func TestFulfillWarnsWhilePropagationPending(t *testing.T) {
	pending := NewPendingPurchases(nil)
	svc := NewService(&fakePurchaser{}, &fakeDNS{propagated: false}, deployedProjects("chat-1", "https://site.vercel.app"), pending, testLogger())
	pending.Stash(context.Background(), "pay-1", purchaseFixture())

	warnings, err := svc.Fulfill(context.Background(), domain.CompletedPayment{PaymentID: "pay-1", ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "propagation pending") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want a propagation warning", warnings)
	}
}

func TestFulfillNoPendingRequest(t *testing.T) {
	svc := NewService(&fakePurchaser{}, &fakeDNS{}, &fakeProjects{}, NewPendingPurchases(nil), testLogger())

	_, err := svc.Fulfill(context.Background(), domain.CompletedPayment{PaymentID: "ghost"})
	if !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("expected ErrNoPendingRequest, got %v", err)
	}
}

func TestFulfillRestashesOnPurchaseFailure(t *testing.T) {
	purchaser := &fakePurchaser{err: errors.New("registrar down")}
	pending := NewPendingPurchases(nil)
	svc := NewService(purchaser, &fakeDNS{}, &fakeProjects{}, pending, testLogger())
	pending.Stash(context.Background(), "pay-1", purchaseFixture())

	if _, err := svc.Fulfill(context.Background(), domain.CompletedPayment{PaymentID: "pay-1"}); err == nil {
		t.Fatal("expected purchase failure")
	}

	// The retried webhook must still find the request.
	req, ok, err := pending.Take(context.Background(), "pay-1")
	if err != nil || !ok {
		t.Fatalf("pending purchase gone after failure: ok=%v err=%v", ok, err)
	}
	if req.Domain != "example.com" {
		t.Fatalf("re-stashed request = %+v", req)
	}
}

func TestFulfillDefersDNSWithoutDeployment(t *testing.T) {
	dnsFake := &fakeDNS{}
	pending := NewPendingPurchases(nil)
	svc := NewService(&fakePurchaser{}, dnsFake, &fakeProjects{}, pending, testLogger())
	pending.Stash(context.Background(), "pay-1", purchaseFixture())

	warnings, err := svc.Fulfill(context.Background(), domain.CompletedPayment{PaymentID: "pay-1", ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if len(dnsFake.configured) != 0 {
		t.Fatalf("dns should be deferred, configured %v", dnsFake.configured)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "deferred") {
		t.Fatalf("warnings = %v", warnings)
	}
}

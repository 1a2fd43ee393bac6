package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
	"github.com/ArthurBarre/site-forge-clone/internal/repository"
	"github.com/ArthurBarre/site-forge-clone/internal/service/dns"
)

// ErrNoPendingRequest means the completion webhook arrived for a payment
// with no stashed purchase request, so there is nothing to register.
var ErrNoPendingRequest = errors.New("fulfillment: no pending purchase for payment")

// Purchaser registers a domain.
type Purchaser interface {
	Purchase(ctx context.Context, chatID string, req domain.PurchaseRequest) (*domain.PurchaseResult, error)
}

// DNSConfigurer points a purchased domain at a deployment and can probe
// whether the records answer yet.
type DNSConfigurer interface {
	Configure(ctx context.Context, name, targetURL string) (*dns.Result, error)
	CheckPropagation(ctx context.Context, name string) (bool, error)
}

// Service turns completed payments into registered, DNS-configured
// domains. A purchase failure is fatal (the caller compensates with a
// refund); a DNS failure is only a warning since it can be re-applied.
type Service struct {
	purchases Purchaser
	dns       DNSConfigurer
	projects  repository.HostingProjectRepository
	pending   *PendingPurchases
	logger    *slog.Logger
}

func NewService(purchases Purchaser, configurer DNSConfigurer, projects repository.HostingProjectRepository, pending *PendingPurchases, logger *slog.Logger) *Service {
	return &Service{
		purchases: purchases,
		dns:       configurer,
		projects:  projects,
		pending:   pending,
		logger:    logger.With("component", "fulfillment"),
	}
}

// Fulfill registers the paid domain and, when the chat already has a
// deployed site, points the domain at it.
func (s *Service) Fulfill(ctx context.Context, completed domain.CompletedPayment) ([]string, error) {
	req, ok, err := s.pending.Take(ctx, completed.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("fulfillment: reading pending purchase: %w", err)
	}
	if !ok {
		return nil, ErrNoPendingRequest
	}

	result, err := s.purchases.Purchase(ctx, completed.ChatID, req)
	if err != nil {
		// Put the request back so the processor's retry still has
		// something to register.
		if stashErr := s.pending.Stash(ctx, completed.PaymentID, req); stashErr != nil {
			s.logger.Warn("pending purchase not re-stashed", "payment_id", completed.PaymentID, "error", stashErr)
		}
		return nil, err
	}
	s.logger.Info("domain registered", "domain", result.Domain, "provider", result.Provider, "order", result.OrderID)

	var warnings []string
	targetURL := s.deployURLFor(ctx, completed.ChatID)
	if targetURL == "" {
		warnings = append(warnings, "no deployed site for chat, dns configuration deferred")
		return warnings, nil
	}
	dnsResult, err := s.dns.Configure(ctx, result.Domain, targetURL)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("dns configuration failed: %s", err))
		s.logger.Warn("dns configuration failed after purchase", "domain", result.Domain, "error", err)
		return warnings, nil
	}
	warnings = append(warnings, dnsResult.Warnings...)
	if propagated, err := s.dns.CheckPropagation(ctx, result.Domain); err == nil && !propagated {
		warnings = append(warnings, "dns records applied but not yet answering, propagation pending")
	}
	return warnings, nil
}

func (s *Service) deployURLFor(ctx context.Context, chatID string) string {
	if chatID == "" {
		return ""
	}
	project, err := s.projects.GetHostingProjectByChat(ctx, chatID)
	if err != nil {
		return ""
	}
	return project.DeployURL
}
